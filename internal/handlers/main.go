package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	retenify "github.com/retenify/retenify"
	"github.com/retenify/retenify/internal/cache"
	"github.com/retenify/retenify/internal/chatstore"
	"github.com/retenify/retenify/internal/models"
	"github.com/retenify/retenify/internal/prompt"
	"github.com/tmaxmax/go-sse"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Generator produces the assistant reply for a fully built prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Store defines the chat persistence used by the handlers. Returned chats are copies owned by
// the caller.
type Store interface {
	CreateChat(ctx context.Context, title string) (models.Chat, error)
	Chat(id string) (models.Chat, bool)
	Chats() []models.Chat
	UpdateChat(ctx context.Context, id string, u chatstore.Update) (models.Chat, error)
	DeleteChat(ctx context.Context, id string) (bool, error)
	AddMessage(ctx context.Context, id string, msg models.Message) (models.Chat, error)
}

// Main serves the chat API. It validates requests, runs chat turns against the Generator and
// pushes chat list updates to SSE subscribers.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	store     Store
	cache     *cache.Cache
	generator Generator
	persona   *prompt.Persona

	generationTimeout time.Duration
	now               func() time.Time

	tracer    trace.Tracer
	turns     metric.Int64Counter
	fallbacks metric.Int64Counter
	latency   metric.Float64Histogram

	logger *slog.Logger
}

// Option configures Main.
type Option func(*Main)

const (
	chatsSSETopic = "chats"

	defaultGenerationTimeout = 30 * time.Second
	instrumentationName      = "github.com/retenify/retenify/internal/handlers"

	errLoggerKey = "err"
)

var chatsSSEType = sse.Type("chats")

// WithGenerationTimeout bounds every call to the Generator. Zero or negative disables the bound.
func WithGenerationTimeout(d time.Duration) Option {
	return func(m *Main) {
		m.generationTimeout = d
	}
}

// WithTelemetry replaces the global tracer and meter.
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) Option {
	return func(m *Main) {
		m.tracer = tracer
		m.initInstruments(meter)
	}
}

// WithClock replaces the clock used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Main) {
		m.now = now
	}
}

// NewMain creates a new Main. A nil generator means no generation provider is configured, in
// which case every turn is answered with the fixed fallback reply. A nil persona selects the
// embedded default.
func NewMain(
	store Store,
	c *cache.Cache,
	generator Generator,
	persona *prompt.Persona,
	logger *slog.Logger,
	opts ...Option,
) (Main, error) {
	tmpl, err := template.ParseFS(retenify.TemplateFS, "templates/*.html")
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	if persona == nil {
		if persona, err = prompt.Default(); err != nil {
			return Main{}, fmt.Errorf("failed to load default persona: %w", err)
		}
	}

	m := Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, chatsSSETopic},
				}, true
			},
		},
		templates:         tmpl,
		store:             store,
		cache:             c,
		generator:         generator,
		persona:           persona,
		generationTimeout: defaultGenerationTimeout,
		now:               time.Now,
		tracer:            otel.Tracer(instrumentationName),
		logger:            logger.With(slog.String("module", "main")),
	}
	m.initInstruments(otel.Meter(instrumentationName))

	for _, opt := range opts {
		opt(&m)
	}

	return m, nil
}

func (m *Main) initInstruments(meter metric.Meter) {
	var err error
	if m.turns, err = meter.Int64Counter("retenify.chat.turns",
		metric.WithDescription("Chat turns answered")); err != nil {
		m.logger.Warn("Failed to create turns counter", slog.String(errLoggerKey, err.Error()))
	}
	if m.fallbacks, err = meter.Int64Counter("retenify.chat.fallbacks",
		metric.WithDescription("Chat turns answered with a fallback reply")); err != nil {
		m.logger.Warn("Failed to create fallbacks counter", slog.String(errLoggerKey, err.Error()))
	}
	if m.latency, err = meter.Float64Histogram("retenify.generation.duration",
		metric.WithDescription("Generation call duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		m.logger.Warn("Failed to create latency histogram", slog.String(errLoggerKey, err.Error()))
	}
}

// Handler returns the routed API wrapped in the panic recovery middleware.
func (m Main) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", m.HandleChat)
	mux.HandleFunc("GET /chat/{id}", m.HandleGetChat)
	mux.HandleFunc("POST /chat/{id}", m.HandleContinueChat)
	mux.HandleFunc("PATCH /chat/{id}", m.HandleRenameChat)
	mux.HandleFunc("DELETE /chat/{id}", m.HandleDeleteChat)
	mux.HandleFunc("GET /chat/{id}/transcript", m.HandleTranscript)

	mux.HandleFunc("GET /chats", m.HandleListChats)
	mux.HandleFunc("POST /chats", m.HandleCreateChat)

	mux.HandleFunc("GET /consent", m.HandleGetConsent)
	mux.HandleFunc("POST /consent", m.HandleSetConsent)
	mux.HandleFunc("GET /preferences", m.HandleGetPreferences)
	mux.HandleFunc("PUT /preferences", m.HandleSetPreferences)
	mux.HandleFunc("GET /analytics", m.HandleAnalytics)
	mux.HandleFunc("POST /analytics/pageviews", m.HandlePageView)

	mux.HandleFunc("GET /sse/chats", m.HandleSSE)
	mux.HandleFunc("GET /health", m.HandleHealth)

	return m.recoverer(mux)
}

// HandleSSE subscribes the client to chat list updates.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// HandleHealth reports liveness together with the generation mode.
func (m Main) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"generation": m.generator != nil,
		"consent":    m.cache.Consent().String(),
	})
}

// publishChats pushes the current chat summaries on the chats topic.
func (m Main) publishChats() {
	chats := m.store.Chats()
	summaries := make([]models.ChatSummary, len(chats))
	for i, ch := range chats {
		summaries[i] = ch.Summary()
	}

	data, err := json.Marshal(summaries)
	if err != nil {
		m.logger.Error("Failed to marshal chat summaries", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: chatsSSEType,
	}
	msg.AppendData(string(data))

	if err := m.sseSrv.Publish(&msg, chatsSSETopic); err != nil {
		m.logger.Error("Failed to publish chats", slog.String(errLoggerKey, err.Error()))
	}
}

// Shutdown gracefully terminates the SSE server. It broadcasts a close message to all connected
// clients and waits up to 5 seconds for connections to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("close")}
	// SSE requires data on every event.
	e.AppendData("bye")

	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
