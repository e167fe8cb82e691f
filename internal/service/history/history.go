// Package history 用户的历史会话列表
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashwinyue/persona-chat/internal/model"
	"github.com/ashwinyue/persona-chat/internal/repository"
	"github.com/ashwinyue/persona-chat/internal/service/persona"
)

// MaxPageSize 单页消息上限
const MaxPageSize = 100

// ErrNotFound 会话不存在或不属于当前用户
var ErrNotFound = errors.New("session not found")

// Store 历史视图所需的存储操作
type Store interface {
	ListSessions(ctx context.Context, ownerID string) ([]*model.ChatSession, error)
	GetSession(ctx context.Context, id string) (*model.ChatSession, error)
	ListMessages(ctx context.Context, sessionID string, pageSize int, cursor string) ([]*model.ChatMessage, error)
	ImageURL(ref string) string
	DeleteSession(ctx context.Context, id string) error
}

// Summary 会话摘要
type Summary struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Persona      *persona.Config `json:"persona,omitempty"`
	MessageCount int             `json:"message_count"`
	LastActivity time.Time       `json:"last_activity"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Message 历史消息
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Service 历史会话服务
type Service struct {
	store Store
}

// NewService 创建历史会话服务
func NewService(s Store) *Service {
	return &Service{store: s}
}

// List 列出用户最近的会话
func (s *Service) List(ctx context.Context, ownerID string) ([]*Summary, error) {
	sessions, err := s.store.ListSessions(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]*Summary, 0, len(sessions))
	for _, sess := range sessions {
		summary := &Summary{
			ID:           sess.ID,
			Title:        sess.Title,
			MessageCount: sess.MessageCount,
			LastActivity: sess.LastActivity,
			CreatedAt:    sess.CreatedAt,
		}
		// 无法解析的人设不影响列表展示
		if cfg, err := persona.Decode(sess.Persona); err == nil {
			summary.Persona = &cfg
		}
		out = append(out, summary)
	}
	return out, nil
}

// Messages 分页读取会话消息
func (s *Service) Messages(ctx context.Context, ownerID, sessionID string, limit int, cursor string) ([]*Message, error) {
	if err := s.authorize(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	rows, err := s.store.ListMessages(ctx, sessionID, limit, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]*Message, 0, len(rows))
	for _, m := range rows {
		msg := &Message{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
		if m.HasImage() {
			msg.ImageURL = s.store.ImageURL(*m.ImageRef)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Delete 删除会话及其消息与图片
func (s *Service) Delete(ctx context.Context, ownerID, sessionID string) error {
	if err := s.authorize(ctx, ownerID, sessionID); err != nil {
		return err
	}
	return s.store.DeleteSession(ctx, sessionID)
}

func (s *Service) authorize(ctx context.Context, ownerID, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess.OwnerID != ownerID {
		return ErrNotFound
	}
	return nil
}
