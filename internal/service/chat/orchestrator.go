// Package chat 对话编排：流式回复、转录维护与写入
package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashwinyue/persona-chat/internal/model"
	"github.com/ashwinyue/persona-chat/internal/service/event"
	"github.com/ashwinyue/persona-chat/internal/service/modelstream"
	"github.com/ashwinyue/persona-chat/internal/service/persona"
	"github.com/ashwinyue/persona-chat/internal/service/store"
	"github.com/ashwinyue/persona-chat/internal/service/writer"
)

// DiagnosticMessage 回复流失败时展示给用户的固定提示
const DiagnosticMessage = "Could not reach the model endpoint. Please verify the model server is running and reachable."

// ErrTurnInFlight 上一轮尚未结束
var ErrTurnInFlight = errors.New("a turn is already in progress")

// State 编排器状态
type State int

const (
	StateIdle State = iota
	StateStreaming
	StatePersisting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StatePersisting:
		return "persisting"
	default:
		return "unknown"
	}
}

// TurnInput 一轮用户输入，文本与图片至少有一个
type TurnInput struct {
	Text  string
	Image *store.Image
}

// TurnResult 一轮对话的结果
type TurnResult struct {
	User       Entry
	Assistant  Entry
	StreamErr  error
	PersistErr error
}

// Orchestrator 单个对话的编排器
type Orchestrator struct {
	id       string
	ownerID  string
	persona  persona.Config
	streamer modelstream.Streamer
	model    string
	writer   *writer.Writer

	bus        *event.Bus
	transcript *Transcript
	onChange   func(*Orchestrator)

	mu         sync.Mutex
	state      State
	lastActive time.Time
}

// Options 编排器依赖
type Options struct {
	ID       string
	OwnerID  string
	Persona  persona.Config
	Streamer modelstream.Streamer
	Model    string
	Writer   *writer.Writer
	Entries  []Entry
	// OnChange 每轮结束时调用，用于保存快照
	OnChange func(*Orchestrator)
}

// NewOrchestrator 创建编排器
func NewOrchestrator(opts Options) *Orchestrator {
	return &Orchestrator{
		id:         opts.ID,
		ownerID:    opts.OwnerID,
		persona:    opts.Persona,
		streamer:   opts.Streamer,
		model:      opts.Model,
		writer:     opts.Writer,
		bus:        event.NewBus(),
		transcript: NewTranscript(opts.Entries...),
		onChange:   opts.OnChange,
		lastActive: time.Now(),
	}
}

// ID 对话 ID
func (o *Orchestrator) ID() string { return o.id }

// OwnerID 所属用户
func (o *Orchestrator) OwnerID() string { return o.ownerID }

// Persona 人设配置
func (o *Orchestrator) Persona() persona.Config { return o.persona }

// SessionID 存储中的会话 ID，尚未写入过消息时为空
func (o *Orchestrator) SessionID() string { return o.writer.SessionID() }

// Entries 转录副本
func (o *Orchestrator) Entries() []Entry { return o.transcript.Snapshot() }

// Bus 对话事件总线
func (o *Orchestrator) Bus() *event.Bus { return o.bus }

// State 当前状态
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastActive 最近一次状态变化的时间
func (o *Orchestrator) LastActive() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastActive
}

// Wait 等待后台写入完成
func (o *Orchestrator) Wait() { o.writer.Wait() }

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.lastActive = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) publish(ctx context.Context, typ event.EventType, entryID, data string) {
	o.bus.Publish(ctx, event.New(o.id, typ, entryID, data))
}

func (o *Orchestrator) changed() {
	if o.onChange != nil {
		o.onChange(o)
	}
}

// Start 生成开场简报并作为第一条回复
// 简报生成失败时条目显示诊断信息，并返回错误
func (o *Orchestrator) Start(ctx context.Context) (Entry, error) {
	defer o.changed()

	brief, err := persona.GenerateBrief(ctx, o.streamer, o.model, o.persona)
	if err != nil {
		idx := o.transcript.Append(Entry{Role: model.RoleAssistant})
		o.transcript.Fail(idx, DiagnosticMessage)
		return o.transcript.Get(idx), err
	}

	idx := o.transcript.Append(Entry{Role: model.RoleAssistant, Content: brief})
	o.writer.SetTitleSeed(brief)
	if _, err := o.writer.Save(ctx, model.RoleAssistant, brief, nil); err != nil {
		log.Printf("Warning: failed to persist opening brief for %s: %v", o.id, err)
	}
	return o.transcript.Get(idx), nil
}

// Submit 提交一轮对话，阻塞到本轮结束
// 空输入返回 nil, nil；上一轮未结束返回 ErrTurnInFlight
// 本轮不可取消，请求方断开后依然会完成流式回复与写入
func (o *Orchestrator) Submit(ctx context.Context, in TurnInput) (*TurnResult, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && in.Image == nil {
		return nil, nil
	}

	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	o.state = StateStreaming
	o.lastActive = time.Now()
	o.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	defer o.changed()

	history := o.transcript.History()
	userEntry := Entry{Role: model.RoleUser, Content: text}
	if in.Image != nil {
		userEntry.ImageURL = dataURI(in.Image)
	}
	userIdx := o.transcript.Append(userEntry)
	replyIdx := o.transcript.Append(Entry{Role: model.RoleAssistant, Placeholder: true})
	replyID := o.transcript.Get(replyIdx).ID
	o.publish(ctx, event.EventSubmit, o.transcript.Get(userIdx).ID, text)

	req := &modelstream.ChatRequest{
		Model:    o.model,
		Messages: o.buildMessages(history, text, in.Image),
	}
	streamErr := o.streamer.Stream(ctx, req, func(chunk string) error {
		o.transcript.AppendChunk(replyIdx, chunk)
		o.publish(ctx, event.EventChunk, replyID, chunk)
		return nil
	})

	result := &TurnResult{}
	if streamErr != nil {
		log.Printf("Warning: model stream failed for %s: %v", o.id, streamErr)
		o.transcript.Fail(replyIdx, DiagnosticMessage)
		o.publish(ctx, event.EventStreamFailed, replyID, DiagnosticMessage)
		result.StreamErr = streamErr
		return o.finish(ctx, result, userIdx, replyIdx), nil
	}

	o.transcript.Finish(replyIdx)
	reply := o.transcript.Get(replyIdx).Content
	o.publish(ctx, event.EventStreamDone, replyID, reply)

	o.setState(StatePersisting)
	exchange, err := o.writer.SaveExchange(ctx, text, in.Image, reply)
	if err != nil {
		log.Printf("Warning: failed to persist turn for %s: %v", o.id, err)
		o.publish(ctx, event.EventPersistFailed, replyID, err.Error())
		result.PersistErr = err
		return o.finish(ctx, result, userIdx, replyIdx), nil
	}

	// 按位置把存储返回的图片地址写回乐观插入的用户条目
	if exchange.User != nil && exchange.User.ImageURL != "" {
		o.transcript.SetImageURL(userIdx, exchange.User.ImageURL)
	}
	o.publish(ctx, event.EventPersistDone, replyID, o.writer.SessionID())
	return o.finish(ctx, result, userIdx, replyIdx), nil
}

func (o *Orchestrator) finish(ctx context.Context, result *TurnResult, userIdx, replyIdx int) *TurnResult {
	result.User = o.transcript.Get(userIdx)
	result.Assistant = o.transcript.Get(replyIdx)
	o.setState(StateIdle)
	o.publish(ctx, event.EventIdle, "", "")
	return result
}

// buildMessages 系统指令 + 历史 + 本轮输入，只有本轮图片会发送给模型
func (o *Orchestrator) buildMessages(history []Entry, text string, img *store.Image) []modelstream.Message {
	msgs := make([]modelstream.Message, 0, len(history)+2)
	msgs = append(msgs, modelstream.Message{
		Role:    modelstream.RoleSystem,
		Content: persona.SystemPrompt(o.persona, img != nil),
	})
	for _, e := range history {
		msgs = append(msgs, modelstream.Message{Role: e.Role, Content: e.Content})
	}
	turn := modelstream.Message{Role: modelstream.RoleUser, Content: text}
	if img != nil {
		turn.Images = []string{base64.StdEncoding.EncodeToString(img.Data)}
	}
	return append(msgs, turn)
}

// dataURI 本地展示用的图片地址，写入成功后会被替换
func dataURI(img *store.Image) string {
	ct := img.ContentType
	if ct == "" {
		ct = http.DetectContentType(img.Data)
	}
	return fmt.Sprintf("data:%s;base64,%s", ct, base64.StdEncoding.EncodeToString(img.Data))
}
