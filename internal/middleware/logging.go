package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// 流式接口的耗时包含整轮回复
		log.Printf("[%s] %s | Status: %d | Latency: %v | User: %s",
			c.Request.Method,
			path,
			c.Writer.Status(),
			time.Since(start),
			GetUserID(c),
		)
	}
}
