// Package modelstream 与本地视觉语言模型端点的流式对话
package modelstream

import (
	"context"
	"errors"
	"fmt"
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 发送给模型的一条消息
// Images 为不带 data URI 前缀的 base64 图片
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ChatRequest 对话请求，Model 为空时使用客户端默认模型
type ChatRequest struct {
	Model    string
	Messages []Message
}

// ChunkFunc 每收到一段增量文本调用一次，返回错误会中止流
type ChunkFunc func(text string) error

// Streamer 流式对话接口
type Streamer interface {
	Stream(ctx context.Context, req *ChatRequest, onChunk ChunkFunc) error
}

// ErrEmptyMessages 消息列表为空
var ErrEmptyMessages = errors.New("messages must not be empty")

// StatusError 端点返回非 2xx 状态
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// StreamError 流中出现的错误行
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "model stream error: " + e.Message
}
