package chat

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Entry 转录条目，ID 由本地生成，与存储中的消息 ID 无关
type Entry struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	ImageURL    string `json:"image_url,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
	Diagnostic  bool   `json:"diagnostic,omitempty"`
}

// Transcript 对话的有序转录
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewTranscript 创建转录
func NewTranscript(entries ...Entry) *Transcript {
	return &Transcript{entries: append([]Entry(nil), entries...)}
}

// Append 追加条目并返回其下标，ID 为空时自动生成
func (t *Transcript) Append(e Entry) int {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
	return len(t.entries) - 1
}

// AppendChunk 追加文本到指定条目
func (t *Transcript) AppendChunk(i int, text string) {
	t.update(i, func(e *Entry) { e.Content += text })
}

// Finish 结束占位条目
func (t *Transcript) Finish(i int) {
	t.update(i, func(e *Entry) { e.Placeholder = false })
}

// Fail 用诊断信息替换占位条目的内容
func (t *Transcript) Fail(i int, message string) {
	t.update(i, func(e *Entry) {
		e.Content = message
		e.Placeholder = false
		e.Diagnostic = true
	})
}

// SetImageURL 更新条目的图片地址
func (t *Transcript) SetImageURL(i int, url string) {
	t.update(i, func(e *Entry) { e.ImageURL = url })
}

func (t *Transcript) update(i int, fn func(*Entry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= 0 && i < len(t.entries) {
		fn(&t.entries[i])
	}
}

// Get 获取指定条目
func (t *Transcript) Get(i int) Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[i]
}

// Len 条目数
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot 返回条目副本
func (t *Transcript) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Entry(nil), t.entries...)
}

// History 可以发送给模型的历史条目，跳过占位与诊断条目
func (t *Transcript) History() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.Placeholder || e.Diagnostic || (strings.TrimSpace(e.Content) == "" && e.ImageURL == "") {
			continue
		}
		out = append(out, e)
	}
	return out
}
