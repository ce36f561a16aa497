package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/retenify/retenify/internal/cache"
	"github.com/retenify/retenify/internal/chatstore"
	"github.com/retenify/retenify/internal/handlers"
	"github.com/retenify/retenify/internal/models"
)

type mockGenerator struct {
	mu       sync.Mutex
	prompts  []string
	response string
	err      error
	block    bool
	panicMsg string
}

type mockStore struct {
	chats     map[string]models.Chat
	createErr error
	addErr    error
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMain(t *testing.T, gen handlers.Generator, opts ...handlers.Option) (handlers.Main, *chatstore.Repository, *cache.Cache) {
	t.Helper()

	logger := discardLogger()
	c, err := cache.New(context.Background(), cache.NewMemoryStorage(), logger)
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	repo := chatstore.New(c, "demo-user", logger)

	m, err := handlers.NewMain(repo, c, gen, nil, logger, opts...)
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
	})

	return m, repo, c
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return v
}

func TestNewMain(t *testing.T) {
	logger := discardLogger()
	c, err := cache.New(context.Background(), cache.NewMemoryStorage(), logger)
	if err != nil {
		t.Fatal(err)
	}

	main, err := handlers.NewMain(chatstore.New(c, "demo-user", logger), c, nil, nil, logger)
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name           string
		gen            handlers.Generator
		wantGeneration bool
	}{
		{name: "Fallback only", gen: nil, wantGeneration: false},
		{name: "With generator", gen: &mockGenerator{response: "hi"}, wantGeneration: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newMain(t, tt.gen)

			w := do(t, m.Handler(), http.MethodGet, "/health", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			body := decodeBody[map[string]any](t, w)
			if body["status"] != "ok" || body["generation"] != tt.wantGeneration || body["consent"] != "unset" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	m, _, _ := newMain(t, &mockGenerator{panicMsg: "boom"})

	w := do(t, m.Handler(), http.MethodPost, "/chat", `{"message":"hello","createNew":true}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := decodeBody[errorBody](t, w); body.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("error code = %q, want INTERNAL_ERROR", body.Error.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	m, _, _ := newMain(t, nil)

	if w := do(t, m.Handler(), http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /nope status = %d, want 404", w.Code)
	}
	if w := do(t, m.Handler(), http.MethodGet, "/chat", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /chat status = %d, want 405", w.Code)
	}
}

func (g *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.response, g.err
}

func (g *mockGenerator) prompt(i int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i >= len(g.prompts) {
		return ""
	}
	return g.prompts[i]
}

func (m *mockStore) CreateChat(_ context.Context, title string) (models.Chat, error) {
	if m.createErr != nil {
		return models.Chat{}, m.createErr
	}
	if title == "" {
		title = models.DefaultChatTitle
	}
	now := time.Now()
	ch := models.Chat{ID: "new", Title: title, CreatedAt: now, UpdatedAt: now}
	m.chats[ch.ID] = ch
	return ch, nil
}

func (m *mockStore) Chat(id string) (models.Chat, bool) {
	ch, ok := m.chats[id]
	return ch, ok
}

func (m *mockStore) Chats() []models.Chat {
	chats := make([]models.Chat, 0, len(m.chats))
	for _, ch := range m.chats {
		chats = append(chats, ch)
	}
	return chats
}

func (m *mockStore) UpdateChat(_ context.Context, id string, u chatstore.Update) (models.Chat, error) {
	ch, ok := m.chats[id]
	if !ok {
		return models.Chat{}, chatstore.ErrChatNotFound
	}
	if u.Title != nil {
		ch.Title = *u.Title
	}
	m.chats[id] = ch
	return ch, nil
}

func (m *mockStore) DeleteChat(_ context.Context, id string) (bool, error) {
	_, ok := m.chats[id]
	delete(m.chats, id)
	return ok, nil
}

func (m *mockStore) AddMessage(_ context.Context, id string, msg models.Message) (models.Chat, error) {
	if m.addErr != nil {
		return models.Chat{}, m.addErr
	}
	ch, ok := m.chats[id]
	if !ok {
		return models.Chat{}, chatstore.ErrChatNotFound
	}
	ch.Messages = append(ch.Messages, msg)
	m.chats[id] = ch
	return ch, nil
}

var errBroken = errors.New("storage is broken")
