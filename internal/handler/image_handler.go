package handler

import (
	"errors"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/persona-chat/internal/middleware"
	"github.com/ashwinyue/persona-chat/internal/service"
	"github.com/ashwinyue/persona-chat/internal/service/file"
)

// ImageHandler 图片代理，只返回当前用户上传的图片
type ImageHandler struct {
	svc *service.Services
}

// NewImageHandler 创建图片处理器
func NewImageHandler(svc *service.Services) *ImageHandler {
	return &ImageHandler{svc: svc}
}

// Get 读取图片
func (h *ImageHandler) Get(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	reader, err := h.svc.Gateway.OpenImage(c.Request.Context(), middleware.GetUserID(c), key)
	if errors.Is(err, file.ErrNotFound) {
		NotFound(c, "image not found")
		return
	}
	if err != nil {
		Error(c, err)
		return
	}
	defer reader.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "private, max-age=86400")

	// 流式传输文件
	if _, err := io.Copy(c.Writer, reader); err != nil {
		c.Error(err)
	}
}
