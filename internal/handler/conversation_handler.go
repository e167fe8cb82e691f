package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/persona-chat/internal/middleware"
	"github.com/ashwinyue/persona-chat/internal/service"
	"github.com/ashwinyue/persona-chat/internal/service/chat"
	"github.com/ashwinyue/persona-chat/internal/service/event"
	"github.com/ashwinyue/persona-chat/internal/service/persona"
	"github.com/ashwinyue/persona-chat/internal/service/session"
	"github.com/ashwinyue/persona-chat/internal/service/store"
)

const (
	// MaxImageSize 单张图片上限
	MaxImageSize = 10 << 20
	// 每个 SSE 连接的事件缓冲
	sseBufferSize = 256
)

// ConversationHandler 对话处理器
type ConversationHandler struct {
	svc *service.Services
}

// NewConversationHandler 创建对话处理器
func NewConversationHandler(svc *service.Services) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// ResumeRequest 恢复对话请求
type ResumeRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// ConversationView 对话状态与转录
type ConversationView struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id,omitempty"`
	State     string         `json:"state"`
	Persona   persona.Config `json:"persona"`
	Entries   []chat.Entry   `json:"entries"`
}

// TurnView 一轮对话的最终结果
type TurnView struct {
	User         chat.Entry `json:"user"`
	Assistant    chat.Entry `json:"assistant"`
	StreamError  string     `json:"stream_error,omitempty"`
	PersistError string     `json:"persist_error,omitempty"`
}

// Create 以人设开始新对话
func (h *ConversationHandler) Create(c *gin.Context) {
	var cfg persona.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	o, err := h.svc.Chat.Create(c.Request.Context(), middleware.GetUserID(c), cfg)
	if errors.Is(err, persona.ErrInvalidConfig) {
		BadRequest(c, err.Error())
		return
	}
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, viewOf(o))
}

// Resume 从历史会话恢复对话
func (h *ConversationHandler) Resume(c *gin.Context) {
	var req ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	o, err := h.svc.Chat.Resume(c.Request.Context(), middleware.GetUserID(c), req.SessionID)
	if errors.Is(err, chat.ErrConversationNotFound) {
		NotFound(c, err.Error())
		return
	}
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, viewOf(o))
}

// Get 对话状态与转录，对话已不在内存时返回缓存快照
func (h *ConversationHandler) Get(c *gin.Context) {
	ownerID := middleware.GetUserID(c)
	id := c.Param("id")

	if o, err := h.svc.Chat.Get(ownerID, id); err == nil {
		Success(c, viewOf(o))
		return
	}

	snap, err := h.svc.Chat.Snapshot(c.Request.Context(), ownerID, id)
	if err != nil {
		NotFound(c, err.Error())
		return
	}
	Success(c, viewOfSnapshot(snap))
}

// Close 结束对话，存储中的会话不受影响
func (h *ConversationHandler) Close(c *gin.Context) {
	err := h.svc.Chat.Close(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if errors.Is(err, chat.ErrConversationNotFound) {
		NotFound(c, err.Error())
		return
	}
	if err != nil {
		Error(c, err)
		return
	}
	NoContent(c)
}

// Submit 提交一轮对话，以 SSE 推送本轮事件
// 空输入直接返回 accepted=false
func (h *ConversationHandler) Submit(c *gin.Context) {
	o, err := h.svc.Chat.Get(middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		NotFound(c, err.Error())
		return
	}

	in, err := readTurnInput(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(in.Text) == "" && in.Image == nil {
		Success(c, gin.H{"accepted": false})
		return
	}
	if o.State() != chat.StateIdle {
		Conflict(c, chat.ErrTurnInFlight.Error())
		return
	}

	sub := event.NewChannelSubscriber(sseBufferSize)
	unsubscribe, err := o.Bus().Subscribe(sub)
	if err != nil {
		Error(c, err)
		return
	}
	defer func() {
		unsubscribe()
		sub.Close()
	}()

	type outcome struct {
		result *chat.TurnResult
		err    error
	}
	ctx := c.Request.Context()
	done := make(chan outcome, 1)
	go func() {
		result, err := o.Submit(ctx, in)
		done <- outcome{result: result, err: err}
	}()

	// 设置 SSE 响应头
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
	}

	for {
		select {
		case <-ctx.Done():
			// 客户端断开，本轮继续在后台完成
			return
		case evt := <-sub.Events():
			start()
			c.SSEvent(string(evt.Type), evt)
			c.Writer.Flush()
		case out := <-done:
			if errors.Is(out.err, chat.ErrTurnInFlight) && !started {
				Conflict(c, out.err.Error())
				return
			}
			start()
			drain(c, sub)
			if out.err != nil {
				c.SSEvent("error", ErrorResponse{Code: 500, Msg: out.err.Error()})
			} else if out.result != nil {
				c.SSEvent("result", turnView(out.result))
			}
			c.Writer.Flush()
			return
		}
	}
}

// drain 发布是同步的，Submit 返回时剩余事件都已在缓冲中
func drain(c *gin.Context, sub *event.ChannelSubscriber) {
	for {
		select {
		case evt := <-sub.Events():
			c.SSEvent(string(evt.Type), evt)
		default:
			return
		}
	}
}

func readTurnInput(c *gin.Context) (chat.TurnInput, error) {
	in := chat.TurnInput{Text: c.PostForm("text")}

	fh, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil
	}
	if err != nil {
		return in, fmt.Errorf("invalid image: %w", err)
	}
	if fh.Size > MaxImageSize {
		return in, fmt.Errorf("image exceeds %d bytes", MaxImageSize)
	}

	f, err := fh.Open()
	if err != nil {
		return in, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImageSize+1))
	if err != nil {
		return in, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > MaxImageSize {
		return in, fmt.Errorf("image exceeds %d bytes", MaxImageSize)
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return in, fmt.Errorf("unsupported image type %s", contentType)
	}
	in.Image = &store.Image{Data: data, ContentType: contentType, FileName: fh.Filename}
	return in, nil
}

func viewOf(o *chat.Orchestrator) *ConversationView {
	return &ConversationView{
		ID:        o.ID(),
		SessionID: o.SessionID(),
		State:     o.State().String(),
		Persona:   o.Persona(),
		Entries:   o.Entries(),
	}
}

func viewOfSnapshot(snap *session.Snapshot) *ConversationView {
	cfg, _ := persona.Decode(snap.Persona)
	entries := make([]chat.Entry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		entries = append(entries, chat.Entry{ID: e.ID, Role: e.Role, Content: e.Content, ImageURL: e.ImageURL})
	}
	return &ConversationView{
		ID:        snap.ConversationID,
		SessionID: snap.SessionID,
		State:     "closed",
		Persona:   cfg,
		Entries:   entries,
	}
}

func turnView(r *chat.TurnResult) *TurnView {
	v := &TurnView{User: r.User, Assistant: r.Assistant}
	if r.StreamErr != nil {
		v.StreamError = chat.DiagnosticMessage
	}
	if r.PersistErr != nil {
		v.PersistError = r.PersistErr.Error()
	}
	return v
}
