package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashwinyue/persona-chat/internal/model"
	"github.com/ashwinyue/persona-chat/internal/repository"
	"github.com/ashwinyue/persona-chat/internal/service/modelstream"
	"github.com/ashwinyue/persona-chat/internal/service/store"
)

// scriptedStreamer 按调用顺序返回预设的回复
type scriptedStreamer struct {
	mu       sync.Mutex
	replies  []reply
	requests []*modelstream.ChatRequest
	gate     chan struct{}
	started  chan struct{}
}

type reply struct {
	chunks []string
	err    error
}

func (s *scriptedStreamer) Stream(ctx context.Context, req *modelstream.ChatRequest, onChunk modelstream.ChunkFunc) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var r reply
	if len(s.replies) > 0 {
		r = s.replies[0]
		s.replies = s.replies[1:]
	}
	gate, started := s.gate, s.started
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	for _, c := range r.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return r.err
}

func (s *scriptedStreamer) lastRequest() *modelstream.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

// memStore 内存存储
type memStore struct {
	mu         sync.Mutex
	sessions   map[string]*model.ChatSession
	messages   []*model.ChatMessage
	messageErr error
	uploads    int
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*model.ChatSession)}
}

func (m *memStore) CreateSession(ctx context.Context, ownerID, title, p string) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &model.ChatSession{ID: fmt.Sprintf("s-%d", len(m.sessions)+1), OwnerID: ownerID, Title: title, Persona: p}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memStore) CreateMessage(ctx context.Context, msg *model.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messageErr != nil {
		return m.messageErr
	}
	msg.ID = fmt.Sprintf("m-%04d", len(m.messages)+1)
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memStore) UploadImage(ctx context.Context, ownerID string, img *store.Image) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	return fmt.Sprintf("%s/img-%d.png", ownerID, m.uploads), nil
}

func (m *memStore) TouchSession(ctx context.Context, id string, count int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.MessageCount = count
		s.LastActivity = at
	}
	return nil
}

func (m *memStore) ImageURL(ref string) string {
	return "/api/v1/images/" + ref
}

func (m *memStore) GetSession(ctx context.Context, id string) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) ListMessages(ctx context.Context, sessionID string, pageSize int, cursor string) ([]*model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ChatMessage
	passed := cursor == ""
	for _, msg := range m.messages {
		if msg.SessionID != sessionID {
			continue
		}
		if !passed {
			passed = msg.ID == cursor
			continue
		}
		out = append(out, msg)
		if len(out) == pageSize {
			break
		}
	}
	if !passed {
		return nil, errors.New("unknown cursor")
	}
	return out, nil
}

func (m *memStore) rows() []*model.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.ChatMessage(nil), m.messages...)
}
