package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/persona-chat/internal/model"
	"github.com/ashwinyue/persona-chat/internal/service/auth"
)

const (
	userKey  = "user"
	tokenKey = "token"
)

// TokenFromRequest 优先读取会话 cookie，其次读取 Bearer Token
func TokenFromRequest(c *gin.Context, cookieName string) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// AuthMiddleware 识别当前用户，未登录时继续处理
func AuthMiddleware(svc *auth.Service, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c, cookieName)
		if user := svc.CurrentUser(c.Request.Context(), token); user != nil {
			c.Set(userKey, user)
			c.Set(tokenKey, token)
		}
		c.Next()
	}
}

// RequireAuth 要求已登录，否则返回 401
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetCurrentUser(c); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code": -1,
				"msg":  "authentication required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetCurrentUser 从上下文获取当前用户
func GetCurrentUser(c *gin.Context) (*model.User, bool) {
	user, exists := c.Get(userKey)
	if !exists {
		return nil, false
	}
	u, ok := user.(*model.User)
	return u, ok
}

// GetUserID 从上下文获取当前用户ID
func GetUserID(c *gin.Context) string {
	if u, ok := GetCurrentUser(c); ok {
		return u.ID
	}
	return ""
}

// GetToken 当前请求使用的令牌
func GetToken(c *gin.Context) string {
	return c.GetString(tokenKey)
}
