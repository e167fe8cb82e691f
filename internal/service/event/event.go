// Package event 对话内的事件总线，按发布顺序同步投递
package event

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType 事件类型
type EventType string

const (
	// EventSubmit 用户提交一轮对话
	EventSubmit EventType = "submit"
	// EventChunk 收到一段回复文本
	EventChunk EventType = "chunk"
	// EventStreamDone 回复流结束
	EventStreamDone EventType = "stream_done"
	// EventStreamFailed 回复流失败
	EventStreamFailed EventType = "stream_failed"
	// EventPersistDone 本轮写入完成
	EventPersistDone EventType = "persist_done"
	// EventPersistFailed 本轮写入失败
	EventPersistFailed EventType = "persist_failed"
	// EventIdle 回到空闲
	EventIdle EventType = "idle"
)

// Event 对话事件
type Event struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Type           EventType `json:"type"`
	EntryID        string    `json:"entry_id,omitempty"`
	Data           string    `json:"data,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// New 创建事件
func New(conversationID string, typ EventType, entryID, data string) *Event {
	return &Event{
		ID:             "evt_" + uuid.New().String(),
		ConversationID: conversationID,
		Type:           typ,
		EntryID:        entryID,
		Data:           data,
		Timestamp:      time.Now().UTC(),
	}
}

// Handler 事件处理器接口
type Handler interface {
	Handle(ctx context.Context, evt *Event) error
}

// HandlerFunc 函数类型的事件处理器
type HandlerFunc func(ctx context.Context, evt *Event) error

// Handle 实现 Handler 接口
func (f HandlerFunc) Handle(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}

// Bus 事件总线
type Bus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]Handler
	order       []int
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]Handler)}
}

// Subscribe 订阅事件，返回取消订阅函数
func (b *Bus) Subscribe(handler Handler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subscribers[id] = handler
	b.order = append(b.order, id)

	return func() { b.unsubscribe(id) }, nil
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[id]; !ok {
		return
	}
	delete(b.subscribers, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish 按订阅顺序同步通知所有订阅者
// 处理器返回的错误只记录日志，不影响其他订阅者
func (b *Bus) Publish(ctx context.Context, evt *Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subscribers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, evt); err != nil {
			log.Printf("Warning: event handler failed for %s: %v", evt.Type, err)
		}
	}
}

// Subscribers 当前订阅者数量
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// ChannelSubscriber 把事件转发到带缓冲的 channel
// 缓冲满时丢弃该事件，不阻塞发布方
type ChannelSubscriber struct {
	ch      chan *Event
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewChannelSubscriber 创建 channel 订阅者
func NewChannelSubscriber(size int) *ChannelSubscriber {
	return &ChannelSubscriber{ch: make(chan *Event, size)}
}

// Handle 实现 Handler 接口
func (s *ChannelSubscriber) Handle(ctx context.Context, evt *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- evt:
		return nil
	default:
		s.dropped++
		return fmt.Errorf("subscriber buffer full, dropped %s", evt.Type)
	}
}

// Events 事件 channel
func (s *ChannelSubscriber) Events() <-chan *Event {
	return s.ch
}

// Dropped 被丢弃的事件数
func (s *ChannelSubscriber) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close 关闭 channel，之后的事件被忽略
func (s *ChannelSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
