package modelstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/go-resty/resty/v2"
)

// maxErrorBody 非 2xx 响应最多读取的字节数
const maxErrorBody = 4096

// Client Ollama 兼容的 /api/chat 流式客户端
type Client struct {
	http  *resty.Client
	model string
}

// NewClient 创建客户端，endpoint 形如 http://localhost:11434
// 不设置整体超时，流的生命周期由 ctx 控制
func NewClient(endpoint, model string) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(endpoint, "/"))
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/x-ndjson")

	return &Client{http: client, model: model}
}

type chatPayload struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// chatLine 流中的一行
type chatLine struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Stream 发起流式对话，按到达顺序把增量文本交给 onChunk
// 中途失败时已交付的文本保持有效，不做重试
func (c *Client) Stream(ctx context.Context, req *ChatRequest, onChunk ChunkFunc) error {
	if req == nil || len(req.Messages) == 0 {
		return ErrEmptyMessages
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetBody(&chatPayload{Model: model, Messages: req.Messages, Stream: true}).
		Post("/api/chat")
	if err != nil {
		return fmt.Errorf("failed to reach model endpoint: %w", err)
	}

	body := resp.RawBody()
	if body == nil {
		return fmt.Errorf("model endpoint returned empty body")
	}
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		msg, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode(), Body: strings.TrimSpace(string(msg))}
	}

	return readStream(ctx, body, onChunk)
}

// readStream 逐行解析 NDJSON，半行会留在缓冲中直到换行到达
func readStream(ctx context.Context, r io.Reader, onChunk ChunkFunc) error {
	reader := bufio.NewReader(r)
	for {
		line, readErr := reader.ReadBytes('\n')

		// 末尾没有换行的最后一行同样需要解析
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			done, err := handleLine(trimmed, onChunk)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("model stream interrupted: %w", ctxErr)
			}
			return fmt.Errorf("failed to read model stream: %w", readErr)
		}
	}
}

func handleLine(line []byte, onChunk ChunkFunc) (bool, error) {
	var cl chatLine
	if err := json.Unmarshal(line, &cl); err != nil {
		log.Printf("Warning: skipping malformed stream line: %v", err)
		return false, nil
	}
	if cl.Error != "" {
		return false, &StreamError{Message: cl.Error}
	}
	if cl.Message.Content != "" && onChunk != nil {
		if err := onChunk(cl.Message.Content); err != nil {
			return false, err
		}
	}
	return cl.Done, nil
}
