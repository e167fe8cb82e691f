package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/persona-chat/internal/handler"
	"github.com/ashwinyue/persona-chat/internal/middleware"
	"github.com/ashwinyue/persona-chat/internal/service"
)

// SetupRouter 设置路由
func SetupRouter(svc *service.Services) *gin.Engine {
	h := handler.NewHandlers(svc)
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.AuthMiddleware(svc.Auth, svc.Config.Auth.CookieName))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// Auth 认证
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", h.Auth.Register)
			authGroup.POST("/login", h.Auth.Login)
			authGroup.POST("/logout", middleware.RequireAuth(), h.Auth.Logout)
			authGroup.GET("/me", h.Auth.Me)
		}

		// System 系统状态
		v1.GET("/system/info", h.System.Info)

		protected := v1.Group("", middleware.RequireAuth())

		// Conversation 对话
		convs := protected.Group("/conversations")
		{
			convs.POST("", h.Conversation.Create)
			convs.POST("/resume", h.Conversation.Resume)
			convs.GET("/:id", h.Conversation.Get)
			convs.POST("/:id/turns", h.Conversation.Submit)
			convs.DELETE("/:id", h.Conversation.Close)
		}

		// Session 历史会话
		sessions := protected.Group("/sessions")
		{
			sessions.GET("", h.History.List)
			sessions.GET("/:id/messages", h.History.Messages)
			sessions.DELETE("/:id", h.History.Delete)
		}

		// Image 图片
		protected.GET("/images/*key", h.Image.Get)
	}

	return r
}
