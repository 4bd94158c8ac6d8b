package audits

import (
	"net/http"
	"strconv"
	"time"

	response "certhub/api/handlers/common"
	"certhub/internal/auth"
	"certhub/internal/certification"
	"certhub/internal/document"
	"certhub/internal/workflow"

	"github.com/gin-gonic/gin"
)

// AuditHandler 认证审核处理器
type AuditHandler struct {
	service *workflow.Service
}

// NewAuditHandler 创建审核处理器
func NewAuditHandler(service *workflow.Service) *AuditHandler {
	return &AuditHandler{service: service}
}

// SubmitCaseRequest 案卷提交请求
type SubmitCaseRequest struct {
	OrganizationID string `json:"organization_id" binding:"required"`
	Type           string `json:"type"` // INITIAL / RENEWAL / MONITORING，缺省 INITIAL
}

// SubmitCase 提交认证案卷
// @Summary 提交认证案卷，开启新审核
// @Tags Audits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body SubmitCaseRequest true "案卷信息"
// @Success 201 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/audits [post]
func (h *AuditHandler) SubmitCase(c *gin.Context) {
	var req SubmitCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	userCtx, _ := auth.GetUserContext(c)
	actorID := ""
	if userCtx != nil {
		actorID = userCtx.UserID
	}

	audit, err := h.service.SubmitCase(c.Request.Context(), workflow.SubmitCaseParams{
		OrganizationID: req.OrganizationID,
		Type:           certification.AuditType(req.Type),
		SubmittedBy:    actorID,
	})
	if err != nil {
		response.WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.APIResponse{Success: true, Data: audit})
}

// List 审核列表
// @Summary 审核列表
// @Tags Audits
// @Security BearerAuth
// @Produce json
// @Param organization_id query string false "企业 ID"
// @Param status query string false "状态筛选"
// @Param page query int false "页码"
// @Param page_size query int false "每页条数"
// @Success 200 {object} response.ListResponse
// @Router /api/audits [get]
func (h *AuditHandler) List(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)
	if pageSize > 100 {
		pageSize = 100
	}

	filter := workflow.ListFilter{
		OrganizationID: c.Query("organization_id"),
		Status:         certification.Status(c.Query("status")),
		Limit:          pageSize,
		Offset:         (page - 1) * pageSize,
	}

	audits, total, err := h.service.ListAudits(c.Request.Context(), filter)
	if err != nil {
		response.WriteError(c, err)
		return
	}

	totalPage := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPage++
	}
	c.JSON(http.StatusOK, response.ListResponse{
		Items: audits,
		Pagination: response.PaginationMeta{
			Page:      page,
			PageSize:  pageSize,
			Total:     total,
			TotalPage: totalPage,
		},
	})
}

// Get 审核详情
// @Summary 审核详情
// @Tags Audits
// @Security BearerAuth
// @Produce json
// @Param id path string true "审核 ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/audits/{id} [get]
func (h *AuditHandler) Get(c *gin.Context) {
	audit, err := h.service.GetAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: audit})
}

// ApproveCase 批准案卷
// @Summary FEEF 批准案卷，分支由决策表裁决
// @Tags Audits
// @Security BearerAuth
// @Produce json
// @Param id path string true "审核 ID"
// @Success 200 {object} response.APIResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /api/audits/{id}/approve [post]
func (h *AuditHandler) ApproveCase(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)
	audit, err := h.service.ApproveCase(c.Request.Context(), c.Param("id"), userCtxID(userCtx))
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: audit})
}

// TransitionRequest 命名迁移请求
type TransitionRequest struct {
	Transition string `json:"transition" binding:"required"`
}

// Transition 执行命名迁移
// @Summary 执行命名状态迁移
// @Tags Audits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "审核 ID"
// @Param request body TransitionRequest true "迁移标识"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /api/audits/{id}/transitions [post]
func (h *AuditHandler) Transition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	userCtx, _ := auth.GetUserContext(c)
	audit, err := h.service.Transition(c.Request.Context(), c.Param("id"), workflow.TransitionID(req.Transition), userCtxID(userCtx))
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: audit})
}

// PlanRequest 排期请求
type PlanRequest struct {
	PlannedDate         string  `json:"planned_date" binding:"required"` // ISO 8601
	AuditorID           *string `json:"auditor_id"`
	ExternalAuditorName *string `json:"external_auditor_name"`
}

// Plan 填写排期与审核员
// @Summary 填写排期与审核员
// @Tags Audits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "审核 ID"
// @Param request body PlanRequest true "排期信息"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/audits/{id}/plan [put]
func (h *AuditHandler) Plan(c *gin.Context) {
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	plannedDate, err := time.Parse(time.RFC3339, req.PlannedDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "排期日期格式错误: " + err.Error()})
		return
	}

	userCtx, _ := auth.GetUserContext(c)
	audit, err := h.service.PlanAudit(c.Request.Context(), c.Param("id"), workflow.PlanParams{
		PlannedDate:         plannedDate,
		AuditorID:           req.AuditorID,
		ExternalAuditorName: req.ExternalAuditorName,
	}, userCtxID(userCtx))
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: audit})
}

// AssignEvaluatorRequest 评估机构指派请求
type AssignEvaluatorRequest struct {
	EvaluatorOrgID string `json:"evaluator_org_id" binding:"required"`
}

// AssignEvaluator 指派评估机构
// @Summary FEEF 为企业指派评估机构
// @Tags Audits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "审核 ID"
// @Param request body AssignEvaluatorRequest true "评估机构"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/audits/{id}/evaluator [put]
func (h *AuditHandler) AssignEvaluator(c *gin.Context) {
	var req AssignEvaluatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	userCtx, _ := auth.GetUserContext(c)
	audit, err := h.service.AssignEvaluator(c.Request.Context(), c.Param("id"), req.EvaluatorOrgID, userCtxID(userCtx))
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: audit})
}

// ScoreRequest 评分录入请求。0 分合法，所以字段用指针做必填校验
type ScoreRequest struct {
	GlobalScore *float64 `json:"global_score" binding:"required"`
}

// RecordScore 录入总评分
// @Summary 录入审核总评分
// @Tags Audits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "审核 ID"
// @Param request body ScoreRequest true "评分"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/audits/{id}/score [put]
func (h *AuditHandler) RecordScore(c *gin.Context) {
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.GlobalScore == nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: 缺少 global_score"})
		return
	}

	userCtx, _ := auth.GetUserContext(c)
	audit, err := h.service.RecordScore(c.Request.Context(), c.Param("id"), *req.GlobalScore, userCtxID(userCtx))
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: audit})
}

// RegisterDocumentRequest 文档登记请求
type RegisterDocumentRequest struct {
	Type    string `json:"type" binding:"required"` // REPORT / OE_OPINION / CORRECTIVE_PLAN
	FileKey string `json:"file_key" binding:"required"`
}

// RegisterDocument 登记已上传文档
// @Summary 登记已上传文档的元数据
// @Tags Audits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "审核 ID"
// @Param request body RegisterDocumentRequest true "文档信息"
// @Success 201 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/audits/{id}/documents [post]
func (h *AuditHandler) RegisterDocument(c *gin.Context) {
	var req RegisterDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	userCtx, _ := auth.GetUserContext(c)
	var uploadedBy *string
	if userCtx != nil && userCtx.UserID != "" {
		uploadedBy = &userCtx.UserID
	}

	doc, audit, err := h.service.RegisterDocument(c.Request.Context(), document.RegisterParams{
		AuditID:    c.Param("id"),
		Type:       certification.DocumentType(req.Type),
		FileKey:    req.FileKey,
		UploadedBy: uploadedBy,
	}, userCtxID(userCtx))
	if err != nil {
		response.WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.APIResponse{Success: true, Data: gin.H{
		"document": doc,
		"audit":    audit,
	}})
}

// Delete 软删除审核
// @Summary 软删除审核并取消其未了行动项
// @Tags Audits
// @Security BearerAuth
// @Produce json
// @Param id path string true "审核 ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/audits/{id} [delete]
func (h *AuditHandler) Delete(c *gin.Context) {
	if err := h.service.SoftDeleteAudit(c.Request.Context(), c.Param("id")); err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "审核已删除"})
}

func userCtxID(userCtx *auth.UserContext) string {
	if userCtx == nil {
		return ""
	}
	return userCtx.UserID
}

func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
