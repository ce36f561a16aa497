// Package chatstore keeps the chat collection of a user in memory and re-persists it to the
// cache after every change.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/retenify/retenify/internal/cache"
	"github.com/retenify/retenify/internal/models"
)

// ErrChatNotFound is returned when an operation names a chat that does not exist.
var ErrChatNotFound = errors.New("chat not found")

// Feature names recorded in the cache analytics.
const (
	featureChatCreated       = "chat-created"
	featureChatDeleted       = "chat-deleted"
	featureUserMessageSent   = "user-message-sent"
	featureAIResponseReceive = "ai-response-received"
)

const errLoggerKey = "err"

// Repository stores the chats of one user. All operations are serialised by a mutex, so a
// read-modify-write such as AddMessage never loses a concurrent update. Returned chats are
// copies and may be modified freely by the caller.
type Repository struct {
	mu    sync.Mutex
	chats map[string]models.Chat

	userID string
	cache  *cache.Cache
	now    func() time.Time
	logger *slog.Logger
}

// Update lists the fields UpdateChat may change. Nil fields are left untouched.
type Update struct {
	Title    *string
	Messages []models.Message
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock replaces the clock used for chat timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// New creates a Repository for userID and restores whatever chat collection the cache holds
// for that user.
func New(c *cache.Cache, userID string, logger *slog.Logger, opts ...Option) *Repository {
	r := &Repository{
		chats:  make(map[string]models.Chat),
		userID: userID,
		cache:  c,
		now:    time.Now,
		logger: logger.With(slog.String("module", "chatstore")),
	}
	for _, opt := range opts {
		opt(r)
	}

	if saved, ok := cache.ChatHistory[[]models.Chat](c, userID); ok {
		for _, ch := range saved {
			r.chats[ch.ID] = ch
		}
		r.logger.Info("Restored chats from cache", slog.Int("count", len(saved)))
	}

	return r
}

// GenerateID returns a chat identifier made of the base-36 millisecond timestamp and a short
// random base-36 suffix. Identifiers sort by creation time but are not guaranteed unique.
func GenerateID() string {
	return generateID(time.Now())
}

func generateID(now time.Time) string {
	const suffixLen = 6
	suffix := make([]byte, suffixLen)
	for i := range suffix {
		suffix[i] = strconv.FormatInt(rand.Int64N(36), 36)[0]
	}
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + string(suffix)
}

// CreateChat creates an empty chat. An empty title means models.DefaultChatTitle. The chat is
// kept even when persisting fails; the error reports the failed persistence.
func (r *Repository) CreateChat(ctx context.Context, title string) (models.Chat, error) {
	if title == "" {
		title = models.DefaultChatTitle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	ch := models.Chat{
		ID:        generateID(now),
		Title:     title,
		Messages:  []models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.chats[ch.ID] = ch

	if err := r.persistLocked(ctx); err != nil {
		return ch.Clone(), err
	}
	r.track(ctx, featureChatCreated)

	return ch.Clone(), nil
}

// Chat returns the chat with the given id.
func (r *Repository) Chat(id string) (models.Chat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.chats[id]
	if !ok {
		return models.Chat{}, false
	}
	return ch.Clone(), true
}

// Chats returns every chat, most recently updated first.
func (r *Repository) Chats() []models.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats := make([]models.Chat, 0, len(r.chats))
	for _, ch := range r.chats {
		chats = append(chats, ch.Clone())
	}
	slices.SortFunc(chats, func(a, b models.Chat) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return chats
}

// UpdateChat applies u to the chat and bumps its UpdatedAt. It returns ErrChatNotFound for an
// unknown id.
func (r *Repository) UpdateChat(ctx context.Context, id string, u Update) (models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.chats[id]
	if !ok {
		return models.Chat{}, ErrChatNotFound
	}

	if u.Title != nil {
		ch.Title = *u.Title
	}
	if u.Messages != nil {
		ch.Messages = slices.Clone(u.Messages)
	}
	ch.UpdatedAt = r.touch(ch)
	r.chats[id] = ch

	return ch.Clone(), r.persistLocked(ctx)
}

// DeleteChat removes the chat and reports whether it existed.
func (r *Repository) DeleteChat(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[id]; !ok {
		return false, nil
	}
	delete(r.chats, id)

	if err := r.persistLocked(ctx); err != nil {
		return true, err
	}
	r.track(ctx, featureChatDeleted)

	return true, nil
}

// AddMessage appends msg to the chat and bumps its UpdatedAt. When msg comes from the user and
// the chat still carries the default title, the title is derived from the message. It returns
// ErrChatNotFound for an unknown id.
func (r *Repository) AddMessage(ctx context.Context, id string, msg models.Message) (models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.chats[id]
	if !ok {
		return models.Chat{}, ErrChatNotFound
	}

	ch.Messages = append(slices.Clip(ch.Messages), msg)
	ch.UpdatedAt = r.touch(ch)
	if msg.IsUser && ch.Title == models.DefaultChatTitle {
		ch.Title = models.TitleFromMessage(msg.Content)
	}
	r.chats[id] = ch

	if err := r.persistLocked(ctx); err != nil {
		return ch.Clone(), err
	}
	if msg.IsUser {
		r.track(ctx, featureUserMessageSent)
	} else {
		r.track(ctx, featureAIResponseReceive)
	}

	return ch.Clone(), nil
}

// touch returns the new UpdatedAt of ch, never earlier than its current one.
func (r *Repository) touch(ch models.Chat) time.Time {
	now := r.now()
	if now.Before(ch.UpdatedAt) {
		return ch.UpdatedAt
	}
	return now
}

func (r *Repository) persistLocked(ctx context.Context) error {
	chats := make([]models.Chat, 0, len(r.chats))
	for _, ch := range r.chats {
		chats = append(chats, ch)
	}
	if err := r.cache.SetChatHistory(ctx, r.userID, chats); err != nil {
		r.logger.Error("Failed to persist chats",
			slog.String("userID", r.userID),
			slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to persist chats: %w", err)
	}
	return nil
}

func (r *Repository) track(ctx context.Context, feature string) {
	if err := r.cache.TrackFeatureUsage(ctx, feature); err != nil {
		r.logger.Warn("Failed to track feature usage",
			slog.String("feature", feature),
			slog.String(errLoggerKey, err.Error()))
	}
}
