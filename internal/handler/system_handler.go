package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/persona-chat/internal/service"
)

// SystemHandler 系统状态处理器
type SystemHandler struct {
	svc *service.Services
}

// NewSystemHandler 创建系统状态处理器
func NewSystemHandler(svc *service.Services) *SystemHandler {
	return &SystemHandler{svc: svc}
}

// Info 版本、运行时长、数据库与模型端点状态
func (h *SystemHandler) Info(c *gin.Context) {
	Success(c, h.svc.System.Info(c.Request.Context()))
}
