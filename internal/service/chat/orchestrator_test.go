package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ashwinyue/persona-chat/internal/model"
	"github.com/ashwinyue/persona-chat/internal/service/event"
	"github.com/ashwinyue/persona-chat/internal/service/modelstream"
	"github.com/ashwinyue/persona-chat/internal/service/persona"
	"github.com/ashwinyue/persona-chat/internal/service/store"
	"github.com/ashwinyue/persona-chat/internal/service/writer"
)

var lowPickyFrontend = persona.Config{
	Clarity:  persona.ClarityLow,
	Behavior: persona.BehaviorPicky,
	Role:     persona.RoleFrontend,
}

func newTestOrchestrator(st *memStore, streamer modelstream.Streamer) *Orchestrator {
	return NewOrchestrator(Options{
		ID:       "conv-1",
		OwnerID:  "owner",
		Persona:  lowPickyFrontend,
		Streamer: streamer,
		Model:    "llava",
		Writer:   writer.New(st, "owner", lowPickyFrontend),
	})
}

// collectEvents 同步记录总线上的事件类型
func collectEvents(o *Orchestrator) *[]event.EventType {
	var mu sync.Mutex
	types := &[]event.EventType{}
	_, _ = o.Bus().Subscribe(event.HandlerFunc(func(ctx context.Context, evt *event.Event) error {
		mu.Lock()
		*types = append(*types, evt.Type)
		mu.Unlock()
		return nil
	}))
	return types
}

func TestOrchestrator_StartPersistsBrief(t *testing.T) {
	st := newMemStore()
	streamer := &scriptedStreamer{replies: []reply{{chunks: []string{"**Hi!** I need ", "a landing page."}}}}
	o := newTestOrchestrator(st, streamer)

	entry, err := o.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	o.Wait()

	if entry.Role != model.RoleAssistant || entry.Content != "Hi! I need a landing page." {
		t.Errorf("brief entry = %+v", entry)
	}
	rows := st.rows()
	if len(rows) != 1 || rows[0].Content != entry.Content {
		t.Fatalf("rows = %v, want the brief persisted", rows)
	}
	if s := st.sessions[o.SessionID()]; s.Title != entry.Content {
		t.Errorf("title = %q, want brief", s.Title)
	}
}

func TestOrchestrator_StartFailureShowsDiagnostic(t *testing.T) {
	st := newMemStore()
	streamer := &scriptedStreamer{replies: []reply{{err: errors.New("connection refused")}}}
	o := newTestOrchestrator(st, streamer)

	entry, err := o.Start(context.Background())
	if err == nil {
		t.Fatal("Start() should report the brief failure")
	}
	if entry.Content != DiagnosticMessage || !entry.Diagnostic {
		t.Errorf("entry = %+v, want diagnostic", entry)
	}
	if len(st.rows()) != 0 {
		t.Error("nothing should be persisted when the brief fails")
	}
	if o.SessionID() != "" {
		t.Error("no session should be created")
	}
}

func TestOrchestrator_SubmitWithImage(t *testing.T) {
	st := newMemStore()
	streamer := &scriptedStreamer{replies: []reply{
		{chunks: []string{"I want a page."}},
		{chunks: []string{"Hmm, the ", "colors are off."}},
	}}
	o := newTestOrchestrator(st, streamer)
	if _, err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	events := collectEvents(o)

	img := &store.Image{Data: []byte("\x89PNG\r\n\x1a\nfake"), ContentType: "image/png"}
	res, err := o.Submit(context.Background(), TurnInput{Text: "here's my page", Image: img})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	o.Wait()

	// 发送给模型的消息：系统指令在首位，最后一条带一张图片
	req := streamer.lastRequest()
	if req.Messages[0].Role != modelstream.RoleSystem || !strings.Contains(req.Messages[0].Content, "attached an image") {
		t.Errorf("first message should be the image-aware system prompt")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Content != "here's my page" || len(last.Images) != 1 {
		t.Errorf("last message = %+v", last)
	}
	if len(req.Messages) != 3 || req.Messages[1].Content != "I want a page." {
		t.Errorf("history not included: %+v", req.Messages)
	}

	if res.Assistant.Content != "Hmm, the colors are off." || res.StreamErr != nil || res.PersistErr != nil {
		t.Errorf("result = %+v", res)
	}

	rows := st.rows()
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want brief + 2", len(rows))
	}
	if !rows[1].HasImage() || rows[1].Role != model.RoleUser {
		t.Errorf("user row should carry the image reference: %+v", rows[1])
	}
	if rows[2].Role != model.RoleAssistant || rows[2].Content != "Hmm, the colors are off." {
		t.Errorf("assistant row = %+v", rows[2])
	}

	entries := o.Entries()
	if got := entries[1].ImageURL; got != "/api/v1/images/"+*rows[1].ImageRef {
		t.Errorf("user entry image url = %s, want resolved store url", got)
	}
	if o.State() != StateIdle {
		t.Errorf("State() = %s, want idle", o.State())
	}

	want := []event.EventType{
		event.EventSubmit, event.EventChunk, event.EventChunk,
		event.EventStreamDone, event.EventPersistDone, event.EventIdle,
	}
	if len(*events) != len(want) {
		t.Fatalf("events = %v, want %v", *events, want)
	}
	for i := range want {
		if (*events)[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, (*events)[i], want[i])
		}
	}
}

func TestOrchestrator_StreamFailurePersistsNothing(t *testing.T) {
	st := newMemStore()
	streamer := &scriptedStreamer{replies: []reply{{chunks: []string{"partial "}, err: errors.New("connection reset")}}}
	o := newTestOrchestrator(st, streamer)
	events := collectEvents(o)

	res, err := o.Submit(context.Background(), TurnInput{Text: "hello"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	o.Wait()

	if res.StreamErr == nil {
		t.Error("StreamErr should be set")
	}
	if res.Assistant.Content != DiagnosticMessage {
		t.Errorf("assistant = %q, want diagnostic", res.Assistant.Content)
	}
	if len(st.rows()) != 0 {
		t.Errorf("rows = %d, want 0", len(st.rows()))
	}
	if o.State() != StateIdle {
		t.Errorf("State() = %s", o.State())
	}
	if (*events)[len(*events)-2] != event.EventStreamFailed || (*events)[len(*events)-1] != event.EventIdle {
		t.Errorf("events = %v", *events)
	}
	if o.Entries()[0].Content != "hello" {
		t.Error("user entry should stay in the transcript")
	}
}

func TestOrchestrator_PersistFailureKeepsTranscript(t *testing.T) {
	st := newMemStore()
	st.messageErr = errors.New("store unavailable")
	streamer := &scriptedStreamer{replies: []reply{{chunks: []string{"Sounds ", "good."}}}}
	o := newTestOrchestrator(st, streamer)

	res, err := o.Submit(context.Background(), TurnInput{Text: "I'll start tomorrow"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	o.Wait()

	if res.PersistErr == nil {
		t.Error("PersistErr should be set")
	}
	entries := o.Entries()
	if len(entries) != 2 || entries[1].Content != "Sounds good." || entries[1].Placeholder {
		t.Errorf("entries = %+v, want streamed reply to stand", entries)
	}
	if o.State() != StateIdle {
		t.Errorf("State() = %s", o.State())
	}
}

func TestOrchestrator_EmptyTurnIsNoop(t *testing.T) {
	st := newMemStore()
	streamer := &scriptedStreamer{}
	o := newTestOrchestrator(st, streamer)

	res, err := o.Submit(context.Background(), TurnInput{Text: "   "})
	if res != nil || err != nil {
		t.Errorf("Submit(empty) = %v, %v, want nil, nil", res, err)
	}
	if len(o.Entries()) != 0 || len(streamer.requests) != 0 {
		t.Error("empty turn must not touch the transcript or the model")
	}
}

func TestOrchestrator_RejectsOverlappingTurn(t *testing.T) {
	st := newMemStore()
	streamer := &scriptedStreamer{
		replies: []reply{{chunks: []string{"ok"}}},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	o := newTestOrchestrator(st, streamer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Submit(context.Background(), TurnInput{Text: "first"})
	}()
	<-streamer.started

	if o.State() != StateStreaming {
		t.Errorf("State() = %s, want streaming", o.State())
	}
	if _, err := o.Submit(context.Background(), TurnInput{Text: "second"}); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("Submit() error = %v, want ErrTurnInFlight", err)
	}

	close(streamer.gate)
	<-done
	o.Wait()
	if o.State() != StateIdle {
		t.Errorf("State() = %s, want idle", o.State())
	}
}

func TestOrchestrator_SubmitSurvivesCanceledRequest(t *testing.T) {
	st := newMemStore()
	streamer := &scriptedStreamer{replies: []reply{{chunks: []string{"still here"}}}}
	o := newTestOrchestrator(st, streamer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := o.Submit(ctx, TurnInput{Text: "hi"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	o.Wait()
	if res.PersistErr != nil || len(st.rows()) != 2 {
		t.Errorf("turn should complete despite the canceled request: %+v rows=%d", res, len(st.rows()))
	}
}

func TestOrchestrator_HistorySkipsDiagnostics(t *testing.T) {
	st := newMemStore()
	streamer := &scriptedStreamer{replies: []reply{
		{err: errors.New("down")},
		{chunks: []string{"ok"}},
	}}
	o := newTestOrchestrator(st, streamer)

	_, _ = o.Submit(context.Background(), TurnInput{Text: "one"})
	_, _ = o.Submit(context.Background(), TurnInput{Text: "two"})
	o.Wait()

	req := streamer.lastRequest()
	for _, m := range req.Messages {
		if m.Content == DiagnosticMessage {
			t.Error("diagnostic entries must not be sent to the model")
		}
	}
	// 系统指令 + "one" + "two"
	if len(req.Messages) != 3 {
		t.Errorf("messages = %d, want 3", len(req.Messages))
	}
	if strings.Contains(req.Messages[0].Content, "attached an image") {
		t.Error("text-only turn should use the no-image system prompt")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:       "idle",
		StateStreaming:  "streaming",
		StatePersisting: "persisting",
		State(9):        "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", s, s.String(), want)
		}
	}
}
