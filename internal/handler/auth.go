package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pomelo/internal/model"
	"pomelo/internal/model/auth"
	"pomelo/internal/pkg/ctxutil"
	"pomelo/internal/service"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	authSvc *service.AuthService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// UserInfo 用户信息响应体
type UserInfo struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	Nickname    string `json:"nickname,omitempty"`
	LastLoginAt string `json:"last_login_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// SessionResponse 登录/刷新响应体
type SessionResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresIn    int      `json:"expires_in"`
	TokenType    string   `json:"token_type"`
	User         UserInfo `json:"user"`
}

func toUserInfo(user *auth.User) UserInfo {
	info := UserInfo{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      string(user.Role),
		Status:    string(user.Status),
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
	if user.Profile != nil {
		info.Nickname = user.Profile.Nickname
	}
	if user.LastLoginAt != nil {
		info.LastLoginAt = user.LastLoginAt.Format(time.RFC3339)
	}
	return info
}

func toSessionResponse(s *service.Session) SessionResponse {
	return SessionResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresIn:    s.ExpiresIn,
		TokenType:    "Bearer",
		User:         toUserInfo(s.User),
	}
}

// mapAuthError 认证错误转 HTTP 状态
func mapAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUserExists), errors.Is(err, service.ErrEmailExists):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40003, Message: err.Error()})
	case errors.Is(err, service.ErrBadCredentials),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrTokenInvalid),
		errors.Is(err, service.ErrTokenExpired):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Code: 40102, Message: err.Error()})
	case errors.Is(err, service.ErrUserInactive), errors.Is(err, service.ErrUserBanned):
		c.JSON(http.StatusForbidden, model.ErrorResponse{Code: 40302, Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Code: 50001, Message: "internal error", Detail: err.Error()})
	}
}

// Register 用户注册
// @Summary 注册新用户，注册后等待管理员审核
// @Tags auth
// @Accept json
// @Produce json
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required,min=3,max=50"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
		Nickname string `json:"nickname,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "Invalid request body", Detail: err.Error()})
		return
	}

	user, err := h.authSvc.Register(c.Request.Context(), req.Username, req.Email, req.Password, req.Nickname)
	if err != nil {
		mapAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toUserInfo(user))
}

// Login 用户登录
// @Summary 校验凭据并签发 access/refresh token
// @Tags auth
// @Accept json
// @Produce json
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "Invalid request body", Detail: err.Error()})
		return
	}

	session, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		mapAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(session))
}

// Refresh 刷新 access token
// @Summary 用 refresh token 换新的 access token
// @Tags auth
// @Accept json
// @Produce json
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "Invalid request body", Detail: err.Error()})
		return
	}

	session, err := h.authSvc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		mapAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(session))
}

// Logout 退出登录
// @Summary 作废 refresh token
// @Tags auth
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	refreshToken := c.GetHeader("X-Refresh-Token")
	if refreshToken == "" {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.ShouldBindJSON(&req); err == nil {
			refreshToken = req.RefreshToken
		}
	}
	if refreshToken != "" {
		_ = h.authSvc.Logout(c.Request.Context(), refreshToken)
	}
	c.Status(http.StatusNoContent)
}

// Me 当前用户信息
// @Summary 获取当前登录用户
// @Tags auth
// @Security BearerAuth
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Code: 40101, Message: "unauthorized"})
		return
	}

	user, err := h.authSvc.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		mapAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserInfo(user))
}
