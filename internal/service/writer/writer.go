// Package writer 将一次对话的消息写入远端存储
package writer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashwinyue/persona-chat/internal/model"
	"github.com/ashwinyue/persona-chat/internal/service/persona"
	"github.com/ashwinyue/persona-chat/internal/service/store"
)

// touchTimeout 后台更新会话计数的超时
const touchTimeout = 10 * time.Second

// Store 写入所需的存储操作
type Store interface {
	CreateSession(ctx context.Context, ownerID, title, persona string) (*model.ChatSession, error)
	CreateMessage(ctx context.Context, msg *model.ChatMessage) error
	UploadImage(ctx context.Context, ownerID string, img *store.Image) (string, error)
	TouchSession(ctx context.Context, id string, count int, at time.Time) error
	ImageURL(ref string) string
}

// Writer 单个对话的会话写入器
// 会话在第一次保存消息时惰性创建，并发调用只会创建一次
type Writer struct {
	store   Store
	ownerID string
	persona string

	creating singleflight.Group

	mu        sync.Mutex
	sessionID string
	count     int
	titleSeed string
	lastAt    time.Time

	// 计数更新由单个后台任务按顺序执行，排队期间只保留最新的一次
	touchMu  sync.Mutex
	queued   *touchRequest
	touching bool
	maxCount int

	pending sync.WaitGroup
	now     func() time.Time
}

type touchRequest struct {
	sessionID string
	count     int
	at        time.Time
}

// New 创建写入器
func New(s Store, ownerID string, cfg persona.Config) *Writer {
	return &Writer{
		store:   s,
		ownerID: ownerID,
		persona: cfg.Encode(),
		now:     time.Now,
	}
}

// Resume 绑定到已有会话，跳过创建
func (w *Writer) Resume(sessionID string, count int, lastAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessionID = sessionID
	w.count = count
	w.lastAt = lastAt.UTC()
}

// SetTitleSeed 设置标题来源文本，只有第一次生效
func (w *Writer) SetTitleSeed(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.titleSeed == "" {
		w.titleSeed = text
	}
}

// SessionID 已知的会话 ID，尚未创建时为空
func (w *Writer) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// Count 本地维护的消息计数
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// EnsureSession 返回会话 ID，必要时创建
// 创建失败后下一次调用会重新尝试
func (w *Writer) EnsureSession(ctx context.Context) (string, error) {
	if id := w.SessionID(); id != "" {
		return id, nil
	}

	v, err, _ := w.creating.Do("session", func() (interface{}, error) {
		w.mu.Lock()
		if w.sessionID != "" {
			id := w.sessionID
			w.mu.Unlock()
			return id, nil
		}
		title := persona.Title(w.titleSeed, model.MaxTitleLength)
		w.mu.Unlock()

		session, err := w.store.CreateSession(ctx, w.ownerID, title, w.persona)
		if err != nil {
			return "", err
		}

		w.mu.Lock()
		w.sessionID = session.ID
		w.mu.Unlock()
		return session.ID, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to ensure session: %w", err)
	}
	return v.(string), nil
}

// Saved 已写入的消息及其图片地址
type Saved struct {
	Message  *model.ChatMessage
	ImageURL string
}

// Save 写入一条消息：先上传图片再写消息行
// 图片上传失败时不写消息行
func (w *Writer) Save(ctx context.Context, role, content string, img *store.Image) (*Saved, error) {
	w.SetTitleSeed(content)

	sessionID, err := w.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	saved := &Saved{}
	var ref *string
	if img != nil {
		r, err := w.store.UploadImage(ctx, w.ownerID, img)
		if err != nil {
			return nil, err
		}
		ref = &r
		saved.ImageURL = w.store.ImageURL(r)
	}

	msg := &model.ChatMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		ImageRef:  ref,
		CreatedAt: w.nextTimestamp(),
	}
	if err := w.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	saved.Message = msg

	w.mu.Lock()
	w.count++
	count := w.count
	w.mu.Unlock()

	w.touch(sessionID, count, msg.CreatedAt)
	return saved, nil
}

// Exchange 一问一答两条消息
type Exchange struct {
	User      *Saved
	Assistant *Saved
}

// SaveExchange 依次写入用户消息与回复
func (w *Writer) SaveExchange(ctx context.Context, userText string, userImage *store.Image, reply string) (*Exchange, error) {
	user, err := w.Save(ctx, model.RoleUser, userText, userImage)
	if err != nil {
		return nil, err
	}
	assistant, err := w.Save(ctx, model.RoleAssistant, reply, nil)
	if err != nil {
		return &Exchange{User: user}, err
	}
	return &Exchange{User: user, Assistant: assistant}, nil
}

// Wait 等待后台的计数更新完成
func (w *Writer) Wait() {
	w.pending.Wait()
}

// nextTimestamp 返回严格递增的 UTC 时间戳
func (w *Writer) nextTimestamp() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	at := w.now().UTC().Truncate(time.Microsecond)
	if !at.After(w.lastAt) {
		at = w.lastAt.Add(time.Microsecond)
	}
	w.lastAt = at
	return at
}

// touch 后台更新会话计数与活跃时间，失败只记日志
// 同一写入器的更新按计数递增的顺序提交，旧的计数不会覆盖新的
func (w *Writer) touch(sessionID string, count int, at time.Time) {
	w.touchMu.Lock()
	defer w.touchMu.Unlock()
	if count <= w.maxCount {
		return
	}
	w.maxCount = count
	w.queued = &touchRequest{sessionID: sessionID, count: count, at: at}
	if w.touching {
		return
	}
	w.touching = true
	w.pending.Add(1)
	go w.drainTouches()
}

func (w *Writer) drainTouches() {
	defer w.pending.Done()
	for {
		w.touchMu.Lock()
		req := w.queued
		w.queued = nil
		if req == nil {
			w.touching = false
			w.touchMu.Unlock()
			return
		}
		w.touchMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		if err := w.store.TouchSession(ctx, req.sessionID, req.count, req.at); err != nil {
			log.Printf("Warning: failed to update session %s count: %v", req.sessionID, err)
		}
		cancel()
	}
}
