package modelstream

import (
	"context"
	"log"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// CallbackLogger 记录 eino ChatModel 的调用，错误总是记录，其余只在调试模式下记录
type CallbackLogger struct {
	Debug bool
}

// NewCallbackLogger 创建回调日志处理器
func NewCallbackLogger(debug bool) *CallbackLogger {
	return &CallbackLogger{Debug: debug}
}

var _ callbacks.Handler = (*CallbackLogger)(nil)

// OnStart 记录请求的消息条数
func (l *CallbackLogger) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if !l.Debug {
		return ctx
	}
	if in := model.ConvCallbackInput(input); in != nil {
		log.Printf("[Eino] OnStart: name=%s messages=%d", runName(info), len(in.Messages))
	}
	return ctx
}

// OnEnd 记录 token 用量
func (l *CallbackLogger) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if !l.Debug {
		return ctx
	}
	if out := model.ConvCallbackOutput(output); out != nil && out.TokenUsage != nil {
		log.Printf("[Eino] OnEnd: name=%s prompt_tokens=%d completion_tokens=%d",
			runName(info), out.TokenUsage.PromptTokens, out.TokenUsage.CompletionTokens)
	}
	return ctx
}

// OnError 组件执行出错时调用
func (l *CallbackLogger) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	log.Printf("[Eino] Error: name=%s error=%v", runName(info), err)
	return ctx
}

// OnStartWithStreamInput 聊天模型的输入不是流
func (l *CallbackLogger) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}

// OnEndWithStreamOutput 回调拿到的是输出流的副本，必须关闭
func (l *CallbackLogger) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	if l.Debug {
		log.Printf("[Eino] OnEndWithStreamOutput: name=%s", runName(info))
	}
	return ctx
}

func runName(info *callbacks.RunInfo) string {
	if info == nil {
		return ""
	}
	return info.Name
}
