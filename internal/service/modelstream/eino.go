package modelstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoStreamer 基于 eino ChatModel 的 Streamer，用于 OpenAI 兼容端点
type EinoStreamer struct {
	model    model.BaseChatModel
	handlers []callbacks.Handler
}

// NewEinoStreamer 创建 EinoStreamer，handlers 在每次调用时注入
func NewEinoStreamer(m model.BaseChatModel, handlers ...callbacks.Handler) *EinoStreamer {
	return &EinoStreamer{model: m, handlers: handlers}
}

// Stream 实现 Streamer
func (s *EinoStreamer) Stream(ctx context.Context, req *ChatRequest, onChunk ChunkFunc) error {
	if req == nil || len(req.Messages) == 0 {
		return ErrEmptyMessages
	}

	if len(s.handlers) > 0 {
		ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
			Name:      req.Model,
			Type:      "OpenAI",
			Component: components.ComponentOfChatModel,
		}, s.handlers...)
	}

	sr, err := s.model.Stream(ctx, toSchemaMessages(req.Messages))
	if err != nil {
		return fmt.Errorf("failed to start model stream: %w", err)
	}
	defer sr.Close()

	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read model stream: %w", err)
		}
		if chunk == nil || chunk.Content == "" || onChunk == nil {
			continue
		}
		if err := onChunk(chunk.Content); err != nil {
			return err
		}
	}
}

// toSchemaMessages 转换为 eino 消息，图片以 data URI 形式放入多模态内容
func toSchemaMessages(msgs []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		sm := &schema.Message{Role: toRole(m.Role), Content: m.Content}
		if len(m.Images) > 0 {
			parts := []schema.ChatMessagePart{{Type: schema.ChatMessagePartTypeText, Text: m.Content}}
			for _, img := range m.Images {
				parts = append(parts, schema.ChatMessagePart{
					Type:     schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{URL: imageDataURI(img)},
				})
			}
			sm.Content = ""
			sm.MultiContent = parts
		}
		out = append(out, sm)
	}
	return out
}

// imageDataURI 按图片内容识别 MIME 类型，识别不出时按 PNG 处理
func imageDataURI(encoded string) string {
	head := encoded
	if len(head) > 684 {
		head = head[:684]
	}
	mime := "image/png"
	if raw, err := base64.StdEncoding.DecodeString(head); err == nil {
		if ct := http.DetectContentType(raw); strings.HasPrefix(ct, "image/") {
			mime = ct
		}
	}
	return "data:" + mime + ";base64," + encoded
}

func toRole(role string) schema.RoleType {
	switch role {
	case RoleSystem:
		return schema.System
	case RoleAssistant:
		return schema.Assistant
	default:
		return schema.User
	}
}
