package common

import (
	"errors"
	"net/http"

	"certhub/internal/action"
	"certhub/internal/document"
	"certhub/internal/workflow"

	"github.com/gin-gonic/gin"
)

// WriteError 业务错误到 HTTP 状态码的统一映射
func WriteError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, workflow.ErrAuditNotFound),
		errors.Is(err, workflow.ErrOrganizationNotFound),
		errors.Is(err, action.ErrActionNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, workflow.ErrUnknownTransition),
		errors.Is(err, document.ErrMissingFileKey):
		status = http.StatusBadRequest
		code = "bad_request"
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrCaseAlreadyOpen),
		errors.Is(err, action.ErrAlreadyCompleted),
		errors.Is(err, workflow.ErrConcurrentModification):
		status = http.StatusConflict
		code = "conflict"
	case errors.Is(err, workflow.ErrGuardRejected):
		status = http.StatusUnprocessableEntity
		code = "guard_rejected"
	}

	c.JSON(status, ErrorResponse{Success: false, Code: code, Message: err.Error()})
}
