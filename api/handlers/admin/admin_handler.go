package admin

import (
	"net/http"

	response "certhub/api/handlers/common"
	"certhub/internal/auth"
	"certhub/internal/infra/queue"

	"github.com/gin-gonic/gin"
)

// AdminHandler 运维入口：按需触发巡检任务
type AdminHandler struct {
	queue queue.Client
}

// NewAdminHandler 创建运维处理器
func NewAdminHandler(q queue.Client) *AdminHandler {
	return &AdminHandler{queue: q}
}

// TriggerStatusSweep 立即触发状态巡检
// @Summary 立即触发状态巡检
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 202 {object} response.APIResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/admin/sweeps/status [post]
func (h *AdminHandler) TriggerStatusSweep(c *gin.Context) {
	if err := h.queue.EnqueueStatusSweep(triggeredBy(c)); err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "入队失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{Success: true, Message: "状态巡检已入队"})
}

// TriggerOverdueSweep 立即触发逾期巡检
// @Summary 立即触发逾期巡检
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 202 {object} response.APIResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/admin/sweeps/overdue [post]
func (h *AdminHandler) TriggerOverdueSweep(c *gin.Context) {
	if err := h.queue.EnqueueOverdueSweep(triggeredBy(c)); err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "入队失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{Success: true, Message: "逾期巡检已入队"})
}

func triggeredBy(c *gin.Context) string {
	if userCtx, ok := auth.GetUserContext(c); ok {
		return userCtx.UserID
	}
	return "admin"
}
