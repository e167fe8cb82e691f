// Package repository 定义数据访问接口
// 接口抽象使依赖注入和单元测试成为可能
package repository

import (
	"context"
	"time"

	"github.com/ashwinyue/persona-chat/internal/model"
)

// ChatStore 会话与消息两个集合的数据访问接口
type ChatStore interface {
	CreateSession(ctx context.Context, session *model.ChatSession) error
	GetSessionByID(ctx context.Context, id string) (*model.ChatSession, error)
	ListSessions(ctx context.Context, ownerID string, limit int) ([]*model.ChatSession, error)
	TouchSession(ctx context.Context, id string, count int, at time.Time) error
	DeleteSession(ctx context.Context, id string) error

	CreateMessage(ctx context.Context, msg *model.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string, pageSize int, cursor string) ([]*model.ChatMessage, error)
	DeleteMessage(ctx context.Context, id string) error
}

// 确保 ChatRepository 实现了接口
var _ ChatStore = (*ChatRepository)(nil)
