package modelstream

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/ashwinyue/persona-chat/internal/config"
)

// New 按配置的 provider 创建 Streamer
func New(ctx context.Context, cfg *config.ModelConfig) (Streamer, error) {
	switch cfg.Provider {
	case "", "ollama":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("model endpoint is required")
		}
		return NewClient(cfg.Endpoint, cfg.Name), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api_key is required for provider: %s", cfg.Provider)
		}
		modelName := cfg.Name
		if modelName == "" {
			modelName = "gpt-4o-mini"
		}
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.Endpoint,
			Model:   modelName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewEinoStreamer(cm, NewCallbackLogger(cfg.Debug)), nil

	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}
