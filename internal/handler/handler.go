package handler

import (
	"github.com/ashwinyue/persona-chat/internal/service"
)

// Handlers 处理器集合
type Handlers struct {
	Auth         *AuthHandler
	Conversation *ConversationHandler
	History      *HistoryHandler
	Image        *ImageHandler
	System       *SystemHandler
}

// NewHandlers 创建所有处理器
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Auth:         NewAuthHandler(svc),
		Conversation: NewConversationHandler(svc),
		History:      NewHistoryHandler(svc),
		Image:        NewImageHandler(svc),
		System:       NewSystemHandler(svc),
	}
}
