package actions

import (
	"net/http"

	response "certhub/api/handlers/common"
	"certhub/internal/action"
	"certhub/internal/auth"
	"certhub/internal/certification"
	"certhub/internal/workflow"

	"github.com/gin-gonic/gin"
)

// ActionHandler 行动项处理器
type ActionHandler struct {
	tracker *action.Tracker
	service *workflow.Service
}

// NewActionHandler 创建行动项处理器
func NewActionHandler(tracker *action.Tracker, service *workflow.Service) *ActionHandler {
	return &ActionHandler{tracker: tracker, service: service}
}

// ListMine 我的行动项
// @Summary 当前用户可见的行动项，按角色与归属过滤
// @Tags Actions
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.APIResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /api/actions [get]
func (h *ActionHandler) ListMine(c *gin.Context) {
	userCtx, exists := auth.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return
	}

	viewer := action.Viewer{
		UserID:          userCtx.UserID,
		Role:            certification.Role(userCtx.Role),
		OrganizationID:  userCtx.OrganizationID,
		EvaluatorOrgID:  userCtx.EvaluatorOrgID,
		AffiliatedOEIDs: userCtx.AffiliatedOEIDs,
	}

	rows, err := h.tracker.VisibleActions(c.Request.Context(), viewer)
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: rows})
}

// ListForAudit 某次审核的行动项
// @Summary 某次审核的全部行动项
// @Tags Actions
// @Security BearerAuth
// @Produce json
// @Param id path string true "审核 ID"
// @Success 200 {object} response.APIResponse
// @Router /api/audits/{id}/actions [get]
func (h *ActionHandler) ListForAudit(c *gin.Context) {
	rows, err := h.tracker.ListForAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: rows})
}

// Get 行动项详情
// @Summary 行动项详情
// @Tags Actions
// @Security BearerAuth
// @Produce json
// @Param id path string true "行动项 ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/actions/{id} [get]
func (h *ActionHandler) Get(c *gin.Context) {
	a, err := h.tracker.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: a})
}

// Complete 人工完成行动项，仅认证机构角色可调用
// @Summary 人工标记行动项完成
// @Tags Actions
// @Security BearerAuth
// @Produce json
// @Param id path string true "行动项 ID"
// @Success 200 {object} response.APIResponse
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/actions/{id}/complete [post]
func (h *ActionHandler) Complete(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)
	userID := ""
	if userCtx != nil {
		userID = userCtx.UserID
	}

	a, err := h.service.CompleteAction(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: a})
}
