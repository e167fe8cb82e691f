// Package session 缓存对话的转录快照，页面刷新后可以恢复流式内容
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// 快照在内存与 Redis 中的过期时间
	snapshotTTL = 24 * time.Hour
	// Redis key 前缀
	snapshotKeyPrefix = "persona-chat:conversation:"
)

// ErrNotFound 快照不存在
var ErrNotFound = errors.New("snapshot not found")

// Entry 转录条目
type Entry struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

// Snapshot 对话快照
type Snapshot struct {
	ConversationID string    `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Persona        string    `json:"persona"`
	Entries        []Entry   `json:"entries"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Manager 快照管理器，先写内存，配置了 Redis 时同步写入
// 内存副本与 Redis 使用相同的过期时间
type Manager struct {
	mu     sync.RWMutex
	memory map[string]memoryEntry
	redis  *redis.Client
	now    func() time.Time
}

type memoryEntry struct {
	snap      *Snapshot
	expiresAt time.Time
}

// NewManager 创建快照管理器，redisClient 可为空
func NewManager(redisClient *redis.Client) *Manager {
	return &Manager{
		memory: make(map[string]memoryEntry),
		redis:  redisClient,
		now:    time.Now,
	}
}

// Save 保存快照
func (m *Manager) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.ConversationID == "" {
		return fmt.Errorf("snapshot requires a conversation id")
	}
	snap.UpdatedAt = m.now().UTC()
	m.remember(snap)

	if m.redis != nil {
		if err := m.saveToRedis(ctx, snap); err != nil {
			// Redis 不可用时保留内存副本
			log.Printf("Warning: failed to save snapshot to redis: %v", err)
		}
	}
	return nil
}

// Load 读取快照，内存没有时尝试 Redis
func (m *Manager) Load(ctx context.Context, conversationID string) (*Snapshot, error) {
	m.mu.RLock()
	entry, ok := m.memory[conversationID]
	m.mu.RUnlock()
	if ok && m.now().Before(entry.expiresAt) {
		return entry.snap, nil
	}
	if ok {
		m.mu.Lock()
		if cur, still := m.memory[conversationID]; still && !m.now().Before(cur.expiresAt) {
			delete(m.memory, conversationID)
		}
		m.mu.Unlock()
	}

	if m.redis != nil {
		if snap := m.loadFromRedis(ctx, conversationID); snap != nil {
			m.remember(snap)
			return snap, nil
		}
	}
	return nil, ErrNotFound
}

// Prune 清理过期的内存快照，返回清理数量
func (m *Manager) Prune() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, entry := range m.memory {
		if !now.Before(entry.expiresAt) {
			delete(m.memory, id)
			n++
		}
	}
	return n
}

func (m *Manager) remember(snap *Snapshot) {
	m.mu.Lock()
	m.memory[snap.ConversationID] = memoryEntry{snap: snap, expiresAt: m.now().Add(snapshotTTL)}
	m.mu.Unlock()
}

// Delete 删除快照
func (m *Manager) Delete(ctx context.Context, conversationID string) {
	m.mu.Lock()
	delete(m.memory, conversationID)
	m.mu.Unlock()

	if m.redis != nil {
		if err := m.redis.Del(ctx, snapshotKeyPrefix+conversationID).Err(); err != nil {
			log.Printf("Warning: failed to delete snapshot from redis: %v", err)
		}
	}
}

func (m *Manager) loadFromRedis(ctx context.Context, conversationID string) *Snapshot {
	data, err := m.redis.Get(ctx, snapshotKeyPrefix+conversationID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("Warning: failed to load snapshot from redis: %v", err)
		}
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("Warning: corrupt snapshot %s in redis: %v", conversationID, err)
		return nil
	}
	return &snap
}

func (m *Manager) saveToRedis(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.redis.Set(ctx, snapshotKeyPrefix+snap.ConversationID, data, snapshotTTL).Err()
}
