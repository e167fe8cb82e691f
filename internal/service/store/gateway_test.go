package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/ashwinyue/persona-chat/internal/model"
	"github.com/ashwinyue/persona-chat/internal/repository"
	"github.com/ashwinyue/persona-chat/internal/service/file"
	"github.com/ashwinyue/persona-chat/internal/testutil"
)

func newTestRepo(t *testing.T) *repository.ChatRepository {
	t.Helper()
	tables := repository.DefaultTables()
	db := testutil.OpenSQLite(t, map[string]interface{}{
		tables.Sessions: &model.ChatSession{},
		tables.Messages: &model.ChatMessage{},
	})
	return repository.NewChatRepository(db, tables)
}

func newTestGateway(t *testing.T, chat repository.ChatStore) (*Gateway, *file.LocalStorage) {
	t.Helper()
	storage, err := file.NewLocalStorage(t.TempDir(), "/api/v1/images")
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	return NewGateway(chat, storage), storage
}

// flakyStore 对指定消息的删除返回错误
type flakyStore struct {
	repository.ChatStore
	failDelete map[string]bool
	failSess   bool
}

func (f *flakyStore) DeleteMessage(ctx context.Context, id string) error {
	if f.failDelete[id] {
		return errors.New("delete refused")
	}
	return f.ChatStore.DeleteMessage(ctx, id)
}

func (f *flakyStore) DeleteSession(ctx context.Context, id string) error {
	if f.failSess {
		return errors.New("session delete refused")
	}
	return f.ChatStore.DeleteSession(ctx, id)
}

// seedSession 写入 n 条消息，每三条带一张图片
func seedSession(t *testing.T, g *Gateway, n int) (*model.ChatSession, []*model.ChatMessage) {
	t.Helper()
	ctx := context.Background()
	s, err := g.CreateSession(ctx, "owner-1", "title", `{"clarity":"low"}`)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	base := time.Now().UTC()
	msgs := make([]*model.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		m := &model.ChatMessage{
			SessionID: s.ID,
			Role:      model.RoleUser,
			Content:   fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if i%3 == 0 {
			ref, err := g.UploadImage(ctx, "owner-1", &Image{Data: []byte("img"), ContentType: "image/png"})
			if err != nil {
				t.Fatalf("UploadImage() error = %v", err)
			}
			m.ImageRef = &ref
		}
		if err := g.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}
		msgs = append(msgs, m)
	}
	return s, msgs
}

func TestGateway_DeleteSessionCascade(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	g, storage := newTestGateway(t, repo)
	s, msgs := seedSession(t, g, 230)

	if err := g.DeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	if _, err := g.GetSession(ctx, s.ID); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Errorf("session still present: %v", err)
	}
	count, _ := repo.CountMessages(ctx, s.ID)
	if count != 0 {
		t.Errorf("remaining messages = %d, want 0", count)
	}
	for _, m := range msgs {
		if m.HasImage() {
			if _, err := storage.Get(ctx, *m.ImageRef); !errors.Is(err, file.ErrNotFound) {
				t.Errorf("image %s not deleted", *m.ImageRef)
			}
		}
	}
}

func TestGateway_DeleteSessionToleratesPartialFailures(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	flaky := &flakyStore{ChatStore: repo, failDelete: map[string]bool{}}
	g, _ := newTestGateway(t, flaky)
	s, msgs := seedSession(t, g, 150)

	flaky.failDelete[msgs[5].ID] = true
	flaky.failDelete[msgs[120].ID] = true

	if err := g.DeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v, want success despite message failures", err)
	}
	count, _ := repo.CountMessages(ctx, s.ID)
	if count != 2 {
		t.Errorf("remaining messages = %d, want the 2 that failed", count)
	}
	if _, err := g.GetSession(ctx, s.ID); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Errorf("session row should be deleted")
	}
}

func TestGateway_DeleteSessionRowFailure(t *testing.T) {
	repo := newTestRepo(t)
	flaky := &flakyStore{ChatStore: repo, failSess: true}
	g, _ := newTestGateway(t, flaky)
	s, _ := seedSession(t, g, 3)

	if err := g.DeleteSession(context.Background(), s.ID); err == nil {
		t.Error("DeleteSession() should fail when the session row cannot be deleted")
	}
}

func TestGateway_ImageOwnership(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGateway(t, newTestRepo(t))

	ref, err := g.UploadImage(ctx, "alice", &Image{Data: []byte("png"), ContentType: "image/png"})
	if err != nil {
		t.Fatalf("UploadImage() error = %v", err)
	}
	if g.ImageURL(ref) != "/api/v1/images/"+ref {
		t.Errorf("ImageURL() = %s", g.ImageURL(ref))
	}

	rc, err := g.OpenImage(ctx, "alice", ref)
	if err != nil {
		t.Fatalf("OpenImage(owner) error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "png" {
		t.Errorf("content = %q", data)
	}

	if _, err := g.OpenImage(ctx, "bob", ref); !errors.Is(err, file.ErrNotFound) {
		t.Errorf("OpenImage(other user) error = %v, want ErrNotFound", err)
	}

	if _, err := g.UploadImage(ctx, "alice", &Image{}); err == nil {
		t.Error("UploadImage() with empty data should fail")
	}
}

func TestGateway_ListSessionsCapped(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGateway(t, newTestRepo(t))
	for i := 0; i < SessionListLimit+5; i++ {
		if _, err := g.CreateSession(ctx, "owner", fmt.Sprint(i), ""); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
	}
	got, err := g.ListSessions(ctx, "owner")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(got) != SessionListLimit {
		t.Errorf("len = %d, want %d", len(got), SessionListLimit)
	}
}
