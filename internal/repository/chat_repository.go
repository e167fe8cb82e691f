package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashwinyue/persona-chat/internal/model"
	"gorm.io/gorm"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("session not found")

// ErrMessageNotFound 消息不存在
var ErrMessageNotFound = errors.New("message not found")

// Tables 两个集合对应的表名
type Tables struct {
	Sessions string
	Messages string
}

// DefaultTables 默认表名
func DefaultTables() Tables {
	return Tables{
		Sessions: model.ChatSession{}.TableName(),
		Messages: model.ChatMessage{}.TableName(),
	}
}

// ChatRepository 聊天数据访问
type ChatRepository struct {
	db     *gorm.DB
	tables Tables
}

// NewChatRepository 创建聊天仓库
func NewChatRepository(db *gorm.DB, tables Tables) *ChatRepository {
	if tables.Sessions == "" || tables.Messages == "" {
		tables = DefaultTables()
	}
	return &ChatRepository{db: db, tables: tables}
}

func (r *ChatRepository) sessions(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.tables.Sessions)
}

func (r *ChatRepository) messages(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.tables.Messages)
}

// CreateSession 创建会话
func (r *ChatRepository) CreateSession(ctx context.Context, session *model.ChatSession) error {
	return r.sessions(ctx).Create(session).Error
}

// GetSessionByID 获取会话
func (r *ChatRepository) GetSessionByID(ctx context.Context, id string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.sessions(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions 列出用户会话，按最近活跃倒序
func (r *ChatRepository) ListSessions(ctx context.Context, ownerID string, limit int) ([]*model.ChatSession, error) {
	var sessions []*model.ChatSession
	err := r.sessions(ctx).
		Where("owner_id = ?", ownerID).
		Order("last_activity DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// TouchSession 更新消息计数与最近活跃时间
// 两个字段只增不减，迟到的旧值不会覆盖已写入的新值
func (r *ChatRepository) TouchSession(ctx context.Context, id string, count int, at time.Time) error {
	res := r.sessions(ctx).Where("id = ?", id).Updates(map[string]interface{}{
		"message_count": gorm.Expr("CASE WHEN message_count < ? THEN ? ELSE message_count END", count, count),
		"last_activity": gorm.Expr("CASE WHEN last_activity IS NULL OR last_activity < ? THEN ? ELSE last_activity END", at, at),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession 删除会话行，不处理其下的消息
func (r *ChatRepository) DeleteSession(ctx context.Context, id string) error {
	res := r.sessions(ctx).Where("id = ?", id).Delete(&model.ChatSession{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// CreateMessage 创建消息
func (r *ChatRepository) CreateMessage(ctx context.Context, msg *model.ChatMessage) error {
	return r.messages(ctx).Create(msg).Error
}

// GetMessageByID 获取会话内的单条消息
func (r *ChatRepository) GetMessageByID(ctx context.Context, sessionID, id string) (*model.ChatMessage, error) {
	var message model.ChatMessage
	err := r.messages(ctx).Where("session_id = ? AND id = ?", sessionID, id).First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// ListMessages 按时间正序分页获取会话消息
// cursor 为上一页最后一条消息的 ID，为空表示从头开始
func (r *ChatRepository) ListMessages(ctx context.Context, sessionID string, pageSize int, cursor string) ([]*model.ChatMessage, error) {
	query := r.messages(ctx).Where("session_id = ?", sessionID)

	if cursor != "" {
		last, err := r.GetMessageByID(ctx, sessionID, cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %s: %w", cursor, err)
		}
		query = query.Where("((created_at > ?) OR (created_at = ? AND id > ?))",
			last.CreatedAt, last.CreatedAt, last.ID)
	}

	var messages []*model.ChatMessage
	err := query.Order("created_at ASC").Order("id ASC").Limit(pageSize).Find(&messages).Error
	return messages, err
}

// CountMessages 统计会话消息数
func (r *ChatRepository) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.messages(ctx).Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}

// DeleteMessage 删除消息
func (r *ChatRepository) DeleteMessage(ctx context.Context, id string) error {
	return r.messages(ctx).Where("id = ?", id).Delete(&model.ChatMessage{}).Error
}
