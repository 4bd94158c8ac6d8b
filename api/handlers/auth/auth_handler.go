package auth

import (
	"net/http"

	response "certhub/api/handlers/common"
	authSvc "certhub/internal/auth"

	"github.com/gin-gonic/gin"
)

// AuthHandler 令牌刷新与注销。登录由上游身份提供方完成，
// 这里只处理已签发令牌的生命周期
type AuthHandler struct {
	jwtService *authSvc.JWTService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(jwtService *authSvc.JWTService) *AuthHandler {
	return &AuthHandler{jwtService: jwtService}
}

// RefreshRequest 刷新请求
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh 刷新令牌对
// @Summary 用刷新令牌换取新令牌对
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "刷新令牌"
// @Success 200 {object} response.APIResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /api/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	pair, err := h.jwtService.RefreshAccessToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: pair})
}

// Logout 注销当前令牌
// @Summary 注销当前访问令牌（加入黑名单）
// @Tags Auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	token := authSvc.ExtractTokenFromBearer(c.GetHeader("Authorization"))
	if token != "" {
		if err := h.jwtService.InvalidateToken(c.Request.Context(), token); err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "注销失败: " + err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "已注销"})
}
