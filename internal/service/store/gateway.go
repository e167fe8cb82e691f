// Package store 远端存储网关：会话与消息两个集合加上图片桶
package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/ashwinyue/persona-chat/internal/model"
	"github.com/ashwinyue/persona-chat/internal/repository"
	"github.com/ashwinyue/persona-chat/internal/service/file"
)

const (
	// SessionListLimit 历史列表最多返回的会话数
	SessionListLimit = 50
	// deletePageSize 级联删除时每页读取的消息数
	deletePageSize = 100
)

// Image 待上传的图片
type Image struct {
	Data        []byte
	ContentType string
	FileName    string
}

// Gateway 远端存储网关
type Gateway struct {
	chat    repository.ChatStore
	storage file.Storage
}

// NewGateway 创建网关
func NewGateway(chat repository.ChatStore, storage file.Storage) *Gateway {
	return &Gateway{chat: chat, storage: storage}
}

// CreateSession 创建会话，ID 由存储分配
func (g *Gateway) CreateSession(ctx context.Context, ownerID, title, persona string) (*model.ChatSession, error) {
	now := time.Now().UTC()
	session := &model.ChatSession{
		OwnerID:      ownerID,
		Title:        title,
		Persona:      persona,
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := g.chat.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession 获取会话
func (g *Gateway) GetSession(ctx context.Context, id string) (*model.ChatSession, error) {
	return g.chat.GetSessionByID(ctx, id)
}

// ListSessions 列出用户最近的会话
func (g *Gateway) ListSessions(ctx context.Context, ownerID string) ([]*model.ChatSession, error) {
	return g.chat.ListSessions(ctx, ownerID, SessionListLimit)
}

// TouchSession 更新消息计数与最近活跃时间
func (g *Gateway) TouchSession(ctx context.Context, id string, count int, at time.Time) error {
	return g.chat.TouchSession(ctx, id, count, at)
}

// CreateMessage 创建消息
func (g *Gateway) CreateMessage(ctx context.Context, msg *model.ChatMessage) error {
	if len(msg.Content) > model.MaxContentLength {
		return fmt.Errorf("message content exceeds %d bytes", model.MaxContentLength)
	}
	return g.chat.CreateMessage(ctx, msg)
}

// ListMessages 分页读取消息，cursor 为上一页最后一条消息 ID
func (g *Gateway) ListMessages(ctx context.Context, sessionID string, pageSize int, cursor string) ([]*model.ChatMessage, error) {
	return g.chat.ListMessages(ctx, sessionID, pageSize, cursor)
}

// UploadImage 上传图片到用户自己的目录下，返回对象引用
func (g *Gateway) UploadImage(ctx context.Context, ownerID string, img *Image) (string, error) {
	if img == nil || len(img.Data) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	ref, err := g.storage.Save(ctx, &file.SaveRequest{
		FileName:    img.FileName,
		ContentType: img.ContentType,
		Size:        int64(len(img.Data)),
		Reader:      bytes.NewReader(img.Data),
		OwnerID:     ownerID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return ref, nil
}

// ImageURL 返回对象引用的访问地址
func (g *Gateway) ImageURL(ref string) string {
	return g.storage.GetURL(ref)
}

// OpenImage 读取图片，只允许访问自己目录下的对象
func (g *Gateway) OpenImage(ctx context.Context, ownerID, ref string) (io.ReadCloser, error) {
	if file.OwnerOf(ref) != ownerID {
		return nil, file.ErrNotFound
	}
	return g.storage.Get(ctx, ref)
}

// DeleteSession 级联删除会话：先删消息引用的图片与消息行，最后删会话行
// 单条图片或消息删除失败只记录日志，只有会话行删除失败才返回错误
func (g *Gateway) DeleteSession(ctx context.Context, id string) error {
	// 删除成功的行不会再出现，游标只需越过删除失败且仍存在的行
	cursor := ""
	for {
		page, err := g.chat.ListMessages(ctx, id, deletePageSize, cursor)
		if err != nil {
			log.Printf("Warning: failed to list messages of session %s: %v", id, err)
			break
		}
		for _, msg := range page {
			if msg.HasImage() {
				if err := g.storage.Delete(ctx, *msg.ImageRef); err != nil {
					log.Printf("Warning: failed to delete image %s: %v", *msg.ImageRef, err)
				}
			}
			if err := g.chat.DeleteMessage(ctx, msg.ID); err != nil {
				log.Printf("Warning: failed to delete message %s: %v", msg.ID, err)
				cursor = msg.ID
			}
		}
		if len(page) < deletePageSize {
			break
		}
	}

	if err := g.chat.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
