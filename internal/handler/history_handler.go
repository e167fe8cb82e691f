package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/persona-chat/internal/middleware"
	"github.com/ashwinyue/persona-chat/internal/repository"
	"github.com/ashwinyue/persona-chat/internal/service"
	"github.com/ashwinyue/persona-chat/internal/service/history"
)

// HistoryHandler 历史会话处理器
type HistoryHandler struct {
	svc *service.Services
}

// NewHistoryHandler 创建历史会话处理器
func NewHistoryHandler(svc *service.Services) *HistoryHandler {
	return &HistoryHandler{svc: svc}
}

// List 最近的会话
func (h *HistoryHandler) List(c *gin.Context) {
	sessions, err := h.svc.History.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, sessions)
}

// Messages 分页读取会话消息，cursor 为上一页最后一条消息的 ID
func (h *HistoryHandler) Messages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > history.MaxPageSize {
		limit = history.MaxPageSize
	}
	cursor := c.Query("cursor")

	msgs, err := h.svc.History.Messages(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), limit, cursor)
	switch {
	case errors.Is(err, history.ErrNotFound):
		NotFound(c, err.Error())
		return
	case errors.Is(err, repository.ErrMessageNotFound):
		BadRequest(c, "invalid cursor")
		return
	case err != nil:
		Error(c, err)
		return
	}

	next := ""
	if len(msgs) == limit {
		next = msgs[len(msgs)-1].ID
	}
	Success(c, gin.H{"items": msgs, "next_cursor": next})
}

// Delete 删除会话及其消息与图片
func (h *HistoryHandler) Delete(c *gin.Context) {
	err := h.svc.History.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		NotFound(c, err.Error())
		return
	}
	if err != nil {
		Error(c, err)
		return
	}
	NoContent(c)
}
