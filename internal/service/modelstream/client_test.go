package modelstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ndjsonServer 按片段写出响应，每写一段刷新一次
func ndjsonServer(t *testing.T, status int, pieces ...string) (*httptest.Server, *chatPayload) {
	t.Helper()
	var got chatPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(status)
		flusher, _ := w.(http.Flusher)
		for _, p := range pieces {
			_, _ = w.Write([]byte(p))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func line(content string, done bool) string {
	b, _ := json.Marshal(map[string]interface{}{
		"message": map[string]string{"role": "assistant", "content": content},
		"done":    done,
	})
	return string(b) + "\n"
}

func collect(chunks *[]string) ChunkFunc {
	return func(text string) error {
		*chunks = append(*chunks, text)
		return nil
	}
}

func userRequest() *ChatRequest {
	return &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}}
}

func TestClient_StreamConcatenatesChunks(t *testing.T) {
	srv, payload := ndjsonServer(t, http.StatusOK,
		line("Hel", false),
		line("lo, ", false),
		line("world", false),
		line("", true),
	)
	c := NewClient(srv.URL, "llava")

	var chunks []string
	if err := c.Stream(context.Background(), userRequest(), collect(&chunks)); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got := strings.Join(chunks, ""); got != "Hello, world" {
		t.Errorf("concatenated = %q, want %q", got, "Hello, world")
	}
	if len(chunks) != 3 {
		t.Errorf("chunks = %d, want 3", len(chunks))
	}
	if payload.Model != "llava" || !payload.Stream {
		t.Errorf("payload = %+v, want model llava with stream", payload)
	}
}

func TestClient_StreamLineSplitAcrossReads(t *testing.T) {
	full := line("Hello", false)
	srv, _ := ndjsonServer(t, http.StatusOK,
		full[:10],
		full[10:],
		line("", true),
	)
	c := NewClient(srv.URL, "llava")

	var chunks []string
	if err := c.Stream(context.Background(), userRequest(), collect(&chunks)); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "Hello" {
		t.Errorf("chunks = %v, want [Hello]", chunks)
	}
}

func TestClient_StreamTrailingLineWithoutNewline(t *testing.T) {
	last := strings.TrimSuffix(line("!", true), "\n")
	srv, _ := ndjsonServer(t, http.StatusOK, line("Hi", false), last)
	c := NewClient(srv.URL, "llava")

	var chunks []string
	if err := c.Stream(context.Background(), userRequest(), collect(&chunks)); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got := strings.Join(chunks, ""); got != "Hi!" {
		t.Errorf("concatenated = %q, want Hi!", got)
	}
}

func TestClient_StreamSkipsMalformedLines(t *testing.T) {
	srv, _ := ndjsonServer(t, http.StatusOK,
		line("a", false),
		"not json\n",
		line("b", true),
	)
	c := NewClient(srv.URL, "llava")

	var chunks []string
	if err := c.Stream(context.Background(), userRequest(), collect(&chunks)); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got := strings.Join(chunks, ""); got != "ab" {
		t.Errorf("concatenated = %q, want ab", got)
	}
}

func TestClient_StreamStopsAtDone(t *testing.T) {
	srv, _ := ndjsonServer(t, http.StatusOK,
		line("x", true),
		line("ignored", false),
	)
	c := NewClient(srv.URL, "llava")

	var chunks []string
	if err := c.Stream(context.Background(), userRequest(), collect(&chunks)); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("chunks = %v, want only the first", chunks)
	}
}

func TestClient_StreamErrorLine(t *testing.T) {
	srv, _ := ndjsonServer(t, http.StatusOK,
		line("partial", false),
		`{"error":"model 'llava' not found"}`+"\n",
	)
	c := NewClient(srv.URL, "llava")

	var chunks []string
	err := c.Stream(context.Background(), userRequest(), collect(&chunks))
	var se *StreamError
	if !errors.As(err, &se) {
		t.Fatalf("Stream() error = %v, want *StreamError", err)
	}
	if !strings.Contains(se.Message, "not found") {
		t.Errorf("StreamError.Message = %q", se.Message)
	}
	if len(chunks) != 1 || chunks[0] != "partial" {
		t.Errorf("chunks delivered before failure = %v", chunks)
	}
}

func TestClient_StreamNon2xx(t *testing.T) {
	srv, _ := ndjsonServer(t, http.StatusInternalServerError, "boom")
	c := NewClient(srv.URL, "llava")

	called := false
	err := c.Stream(context.Background(), userRequest(), func(string) error {
		called = true
		return nil
	})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Stream() error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusInternalServerError || se.Body != "boom" {
		t.Errorf("StatusError = %+v", se)
	}
	if called {
		t.Error("onChunk must not be called for a non-2xx response")
	}
}

func TestClient_StreamConnectionDroppedMidway(t *testing.T) {
	first := line("first", false)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 声明的长度大于实际写出的字节，客户端会读到意外的 EOF
		w.Header().Set("Content-Length", fmt.Sprint(len(first)+100))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(first))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "llava")

	var chunks []string
	err := c.Stream(context.Background(), userRequest(), collect(&chunks))
	if err == nil {
		t.Fatal("Stream() should fail when the connection drops")
	}
	if len(chunks) != 1 || chunks[0] != "first" {
		t.Errorf("chunks = %v, want [first] retained", chunks)
	}
}

func TestClient_StreamCallbackAbort(t *testing.T) {
	srv, _ := ndjsonServer(t, http.StatusOK, line("a", false), line("b", false), line("", true))
	c := NewClient(srv.URL, "llava")

	stop := errors.New("stop")
	count := 0
	err := c.Stream(context.Background(), userRequest(), func(string) error {
		count++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Stream() error = %v, want callback error", err)
	}
	if count != 1 {
		t.Errorf("callback count = %d, want 1", count)
	}
}

func TestClient_StreamEmptyMessages(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "llava")
	if err := c.Stream(context.Background(), &ChatRequest{}, nil); !errors.Is(err, ErrEmptyMessages) {
		t.Errorf("Stream() error = %v, want ErrEmptyMessages", err)
	}
}

func TestClient_StreamUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "llava")
	if err := c.Stream(context.Background(), userRequest(), nil); err == nil {
		t.Error("Stream() against a closed server should fail")
	}
}

func TestClient_StreamSendsImages(t *testing.T) {
	srv, payload := ndjsonServer(t, http.StatusOK, line("ok", true))
	c := NewClient(srv.URL, "llava")

	req := &ChatRequest{
		Model: "bakllava",
		Messages: []Message{
			{Role: RoleSystem, Content: "you are a client"},
			{Role: RoleUser, Content: "look", Images: []string{"aGVsbG8="}},
		},
	}
	if err := c.Stream(context.Background(), req, nil); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if payload.Model != "bakllava" {
		t.Errorf("model = %s, want request override", payload.Model)
	}
	if len(payload.Messages) != 2 || len(payload.Messages[1].Images) != 1 || payload.Messages[1].Images[0] != "aGVsbG8=" {
		t.Errorf("messages = %+v", payload.Messages)
	}
	if len(payload.Messages[0].Images) != 0 {
		t.Errorf("system message should carry no images")
	}
}
