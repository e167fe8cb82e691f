package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/persona-chat/internal/middleware"
	"github.com/ashwinyue/persona-chat/internal/service"
	"github.com/ashwinyue/persona-chat/internal/service/auth"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	svc *service.Services
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(svc *service.Services) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register 用户注册
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	user, err := h.svc.Auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		Conflict(c, err.Error())
		return
	case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrInvalidEmail):
		BadRequest(c, err.Error())
		return
	case err != nil:
		Error(c, err)
		return
	}

	Created(c, user.ToUserInfo())
}

// Login 用户登录，令牌写入 cookie
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	user, token, expiresAt, err := h.svc.Auth.Login(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		Unauthorized(c, err.Error())
		return
	case errors.Is(err, auth.ErrAccountDisabled):
		Forbidden(c, err.Error())
		return
	case err != nil:
		Error(c, err)
		return
	}

	h.setCookie(c, token, int(time.Until(expiresAt).Seconds()))
	Success(c, gin.H{
		"user":       user.ToUserInfo(),
		"token":      token,
		"expires_at": expiresAt,
	})
}

// Logout 撤销令牌并清除 cookie
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.svc.Auth.Logout(c.Request.Context(), middleware.GetToken(c)); err != nil {
		Error(c, err)
		return
	}
	h.setCookie(c, "", -1)
	NoContent(c)
}

// Me 当前用户
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		Unauthorized(c, "authentication required")
		return
	}
	Success(c, user.ToUserInfo())
}

func (h *AuthHandler) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.svc.Config.Auth.CookieName, value, maxAge, "/", "", h.svc.Config.Auth.CookieSecure, true)
}
