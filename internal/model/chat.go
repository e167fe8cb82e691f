package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxTitleLength 会话标题最大长度（字符）
const MaxTitleLength = 120

// MaxContentLength 单条消息内容上限（字节）
const MaxContentLength = 1 << 20

// ChatSession 聊天会话
type ChatSession struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID      string    `gorm:"index:idx_owner_activity,priority:1;size:36;not null" json:"owner_id"`
	Title        string    `gorm:"size:120" json:"title"`
	Persona      string    `gorm:"type:text" json:"persona"` // 序列化后的人设配置
	MessageCount int       `gorm:"not null;default:0" json:"message_count"`
	LastActivity time.Time `gorm:"index:idx_owner_activity,priority:2" json:"last_activity"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ChatMessage 聊天消息，创建后不再修改
type ChatMessage struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID string    `gorm:"index:idx_session_created,priority:1;size:36;not null" json:"session_id"`
	Role      string    `gorm:"size:10;not null" json:"role"` // user, assistant
	Content   string    `gorm:"type:text" json:"content"`
	ImageRef  *string   `gorm:"size:255" json:"image_ref,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_session_created,priority:2" json:"created_at"`
}

// BeforeCreate GORM 钩子，由存储端分配 ID
func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// BeforeCreate GORM 钩子，由存储端分配 ID
func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// HasImage 消息是否引用了图片
func (m *ChatMessage) HasImage() bool {
	return m.ImageRef != nil && *m.ImageRef != ""
}

// TableName 指定表名，实际表名由配置的集合 ID 决定
func (ChatSession) TableName() string {
	return "chat_sessions"
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
