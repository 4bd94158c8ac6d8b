package events

import (
	"net/http"
	"strconv"

	response "certhub/api/handlers/common"
	"certhub/internal/event"

	"github.com/gin-gonic/gin"
)

// EventHandler 事件时间线处理器
type EventHandler struct {
	events *event.Log
}

// NewEventHandler 创建事件处理器
func NewEventHandler(events *event.Log) *EventHandler {
	return &EventHandler{events: events}
}

// AuditTimeline 审核时间线
// @Summary 某次审核的事件时间线
// @Tags Events
// @Security BearerAuth
// @Produce json
// @Param id path string true "审核 ID"
// @Param type query string false "事件类型筛选"
// @Param category query string false "事件分类筛选"
// @Param limit query int false "条数上限"
// @Success 200 {object} response.APIResponse
// @Router /api/audits/{id}/events [get]
func (h *EventHandler) AuditTimeline(c *gin.Context) {
	rows, err := h.events.AuditEvents(c.Request.Context(), c.Param("id"), filterFromQuery(c))
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: rows})
}

// EntityTimeline 企业时间线
// @Summary 企业维度时间线，含其名下审核的事件
// @Tags Events
// @Security BearerAuth
// @Produce json
// @Param id path string true "企业 ID"
// @Param type query string false "事件类型筛选"
// @Param category query string false "事件分类筛选"
// @Param limit query int false "条数上限"
// @Success 200 {object} response.APIResponse
// @Router /api/organizations/{id}/events [get]
func (h *EventHandler) EntityTimeline(c *gin.Context) {
	rows, err := h.events.EntityTimeline(c.Request.Context(), c.Param("id"), filterFromQuery(c))
	if err != nil {
		response.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: rows})
}

func filterFromQuery(c *gin.Context) event.Filter {
	f := event.Filter{
		Type:     event.Type(c.Query("type")),
		Category: event.Category(c.Query("category")),
	}
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		f.Limit = n
	}
	return f
}
