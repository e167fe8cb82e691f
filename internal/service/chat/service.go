package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashwinyue/persona-chat/internal/model"
	"github.com/ashwinyue/persona-chat/internal/repository"
	"github.com/ashwinyue/persona-chat/internal/service/modelstream"
	"github.com/ashwinyue/persona-chat/internal/service/persona"
	"github.com/ashwinyue/persona-chat/internal/service/session"
	"github.com/ashwinyue/persona-chat/internal/service/writer"
)

// resumePageSize 恢复对话时每页读取的消息数
const resumePageSize = 100

// ErrConversationNotFound 对话不存在或不属于当前用户
var ErrConversationNotFound = errors.New("conversation not found")

// Store 对话服务所需的存储操作
type Store interface {
	writer.Store
	GetSession(ctx context.Context, id string) (*model.ChatSession, error)
	ListMessages(ctx context.Context, sessionID string, pageSize int, cursor string) ([]*model.ChatMessage, error)
}

// Service 管理用户的活跃对话
type Service struct {
	store     Store
	streamer  modelstream.Streamer
	model     string
	snapshots *session.Manager

	mu    sync.RWMutex
	convs map[string]*Orchestrator

	now func() time.Time
}

// NewService 创建对话服务
func NewService(s Store, streamer modelstream.Streamer, modelName string, snapshots *session.Manager) *Service {
	if snapshots == nil {
		snapshots = session.NewManager(nil)
	}
	return &Service{
		store:     s,
		streamer:  streamer,
		model:     modelName,
		snapshots: snapshots,
		convs:     make(map[string]*Orchestrator),
		now:       time.Now,
	}
}

// Create 以指定人设开始新对话，会先生成开场简报
func (s *Service) Create(ctx context.Context, ownerID string, cfg persona.Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := NewOrchestrator(Options{
		ID:       uuid.New().String(),
		OwnerID:  ownerID,
		Persona:  cfg,
		Streamer: s.streamer,
		Model:    s.model,
		Writer:   writer.New(s.store, ownerID, cfg),
		OnChange: s.saveSnapshot,
	})
	if _, err := o.Start(ctx); err != nil {
		log.Printf("Warning: opening brief failed for %s: %v", o.ID(), err)
	}

	s.register(o)
	return o, nil
}

// Resume 从存储恢复历史会话
func (s *Service) Resume(ctx context.Context, ownerID, sessionID string) (*Orchestrator, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess.OwnerID != ownerID {
		return nil, ErrConversationNotFound
	}

	cfg, err := persona.Decode(sess.Persona)
	if err != nil {
		return nil, fmt.Errorf("session %s has invalid persona: %w", sessionID, err)
	}

	var (
		entries []Entry
		lastAt  time.Time
		cursor  string
	)
	for {
		page, err := s.store.ListMessages(ctx, sessionID, resumePageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to load messages: %w", err)
		}
		for _, m := range page {
			e := Entry{Role: m.Role, Content: m.Content}
			if m.HasImage() {
				e.ImageURL = s.store.ImageURL(*m.ImageRef)
			}
			entries = append(entries, e)
			lastAt = m.CreatedAt
		}
		if len(page) < resumePageSize {
			break
		}
		cursor = page[len(page)-1].ID
	}

	w := writer.New(s.store, ownerID, cfg)
	w.Resume(sessionID, len(entries), lastAt)

	o := NewOrchestrator(Options{
		ID:       uuid.New().String(),
		OwnerID:  ownerID,
		Persona:  cfg,
		Streamer: s.streamer,
		Model:    s.model,
		Writer:   w,
		Entries:  entries,
		OnChange: s.saveSnapshot,
	})
	s.register(o)
	s.saveSnapshot(o)
	return o, nil
}

// Get 获取活跃对话
func (s *Service) Get(ownerID, id string) (*Orchestrator, error) {
	s.mu.RLock()
	o, ok := s.convs[id]
	s.mu.RUnlock()
	if !ok || o.OwnerID() != ownerID {
		return nil, ErrConversationNotFound
	}
	return o, nil
}

// Snapshot 返回对话快照，对话不在内存中时读取缓存
func (s *Service) Snapshot(ctx context.Context, ownerID, id string) (*session.Snapshot, error) {
	if o, err := s.Get(ownerID, id); err == nil {
		return toSnapshot(o), nil
	}
	snap, err := s.snapshots.Load(ctx, id)
	if err != nil || snap.OwnerID != ownerID {
		return nil, ErrConversationNotFound
	}
	return snap, nil
}

// Close 结束对话，存储中的数据不受影响
func (s *Service) Close(ctx context.Context, ownerID, id string) error {
	o, err := s.Get(ownerID, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.convs, id)
	s.mu.Unlock()

	o.Wait()
	s.snapshots.Delete(ctx, id)
	return nil
}

// Shutdown 等待所有对话的后台写入完成
func (s *Service) Shutdown() {
	s.mu.RLock()
	convs := make([]*Orchestrator, 0, len(s.convs))
	for _, o := range s.convs {
		convs = append(convs, o)
	}
	s.mu.RUnlock()

	for _, o := range convs {
		o.Wait()
	}
}

// EvictIdle 移除空闲超过 maxIdle 的对话，返回移除数量
// 移除前等待后台写入并刷新快照，之后仍可通过快照读取
func (s *Service) EvictIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	var idle []*Orchestrator
	for id, o := range s.convs {
		if o.State() == StateIdle && o.LastActive().Before(cutoff) {
			idle = append(idle, o)
			delete(s.convs, id)
		}
	}
	s.mu.Unlock()

	for _, o := range idle {
		o.Wait()
		s.saveSnapshot(o)
	}
	return len(idle)
}

// StartSweeper 定期回收空闲对话与过期快照，ctx 结束时停止
func (s *Service) StartSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.EvictIdle(maxIdle); n > 0 {
					log.Printf("Evicted %d idle conversations", n)
				}
				s.snapshots.Prune()
			}
		}
	}()
}

func (s *Service) register(o *Orchestrator) {
	s.mu.Lock()
	s.convs[o.ID()] = o
	s.mu.Unlock()
}

func (s *Service) saveSnapshot(o *Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.snapshots.Save(ctx, toSnapshot(o)); err != nil {
		log.Printf("Warning: failed to save snapshot for %s: %v", o.ID(), err)
	}
}

func toSnapshot(o *Orchestrator) *session.Snapshot {
	entries := o.Entries()
	out := make([]session.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, session.Entry{ID: e.ID, Role: e.Role, Content: e.Content, ImageURL: e.ImageURL})
	}
	return &session.Snapshot{
		ConversationID: o.ID(),
		OwnerID:        o.OwnerID(),
		SessionID:      o.SessionID(),
		Persona:        o.Persona().Encode(),
		Entries:        out,
	}
}
