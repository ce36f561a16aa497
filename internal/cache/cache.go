package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	snapshotKey    = "retenify-cache"
	consentKey     = "cookie-consent"
	consentDateKey = "cookie-consent-date"

	consentAccepted = "accepted"
	consentDeclined = "declined"

	errLoggerKey = "err"
)

// Consent is the user's decision about whether cache contents may leave process memory.
type Consent int

const (
	// ConsentUnset means the user has not answered yet. Nothing is mirrored to storage.
	ConsentUnset Consent = iota
	// ConsentGranted allows the cache to mirror its full contents to storage on every change.
	ConsentGranted
	// ConsentDeclined forbids mirroring; declining also purges everything cached so far.
	ConsentDeclined
)

func (c Consent) String() string {
	switch c {
	case ConsentGranted:
		return "granted"
	case ConsentDeclined:
		return "declined"
	default:
		return "unset"
	}
}

// Item is a cached value with the time it was stored and an optional absolute expiry, both in
// Unix milliseconds.
type Item struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Expiry    *int64          `json:"expiry,omitempty"`
}

func (i Item) expired(now time.Time) bool {
	return i.Expiry != nil && now.UnixMilli() > *i.Expiry
}

// Cache is an expiring key-value store kept in memory and mirrored to a Storage while consent is
// granted. Expired entries are removed lazily when read; there is no other eviction.
//
// A Cache is safe for concurrent use. Construct one per process with New and pass it to its
// collaborators.
type Cache struct {
	mu      sync.Mutex
	items   map[string]Item
	consent Consent

	storage Storage
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the clock used for timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a Cache backed by storage. It reads the persisted consent marker once and, if
// consent was granted, restores the mirrored snapshot. A snapshot that cannot be parsed is
// dropped.
func New(ctx context.Context, storage Storage, logger *slog.Logger, opts ...Option) (*Cache, error) {
	c := &Cache{
		items:   make(map[string]Item),
		storage: storage,
		now:     time.Now,
		logger:  logger.With(slog.String("module", "cache")),
	}
	for _, opt := range opts {
		opt(c)
	}

	marker, err := storage.Get(ctx, consentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read consent marker: %w", err)
	}
	switch string(marker) {
	case consentAccepted:
		c.consent = ConsentGranted
	case consentDeclined:
		c.consent = ConsentDeclined
	}

	if c.consent != ConsentGranted {
		return c, nil
	}

	snapshot, err := storage.Get(ctx, snapshotKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache snapshot: %w", err)
	}
	if snapshot == nil {
		return c, nil
	}

	var items map[string]Item
	if err := json.Unmarshal(snapshot, &items); err != nil {
		c.logger.Warn("Dropping unparsable cache snapshot", slog.String(errLoggerKey, err.Error()))
		return c, nil
	}
	now := c.now()
	for k, item := range items {
		if item.expired(now) {
			continue
		}
		c.items[k] = item
	}
	c.logger.Debug("Restored cache snapshot", slog.Int("items", len(c.items)))

	return c, nil
}

// Set stores data under key. A positive expiry makes the entry disappear once that much time has
// passed. The in-memory write always happens; the returned error reports a value that cannot be
// encoded or a failed write to storage.
func (c *Cache) Set(ctx context.Context, key string, data any, expiry time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode cache value %q: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.setLocked(key, raw, expiry)
	return c.persistLocked(ctx)
}

// GetRaw returns the encoded value stored under key, or false when the key is missing or expired.
func (c *Cache) GetRaw(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.getLocked(key)
}

// Get decodes the value stored under key into T. It reports false when the key is missing,
// expired, or holds a value of a different shape.
func Get[T any](c *Cache, key string) (T, bool) {
	var v T
	raw, ok := c.GetRaw(key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("Failed to decode cache value",
			slog.String("key", key),
			slog.String(errLoggerKey, err.Error()))
		return v, false
	}
	return v, true
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	return c.persistLocked(ctx)
}

// Clear removes every entry, including the mirrored snapshot when consent is granted.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.items)
	if c.consent != ConsentGranted {
		return nil
	}
	if err := c.storage.Delete(ctx, snapshotKey); err != nil {
		return fmt.Errorf("failed to delete cache snapshot: %w", err)
	}
	return nil
}

// Consent returns the current consent state.
func (c *Cache) Consent() Consent {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.consent
}

// Accept grants consent and immediately mirrors the current contents to storage.
func (c *Cache) Accept(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeConsentLocked(ctx, consentAccepted); err != nil {
		return err
	}
	c.consent = ConsentGranted
	return c.persistLocked(ctx)
}

// Decline withdraws consent and purges all cached data, in memory and in storage.
func (c *Cache) Decline(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consent = ConsentDeclined
	clear(c.items)

	if err := c.storage.Delete(ctx, snapshotKey); err != nil {
		return fmt.Errorf("failed to delete cache snapshot: %w", err)
	}
	return c.writeConsentLocked(ctx, consentDeclined)
}

func (c *Cache) writeConsentLocked(ctx context.Context, marker string) error {
	if err := c.storage.Put(ctx, consentKey, []byte(marker)); err != nil {
		return fmt.Errorf("failed to write consent marker: %w", err)
	}
	date := c.now().UTC().Format(time.RFC3339)
	if err := c.storage.Put(ctx, consentDateKey, []byte(date)); err != nil {
		return fmt.Errorf("failed to write consent date: %w", err)
	}
	return nil
}

func (c *Cache) setLocked(key string, raw json.RawMessage, expiry time.Duration) {
	now := c.now()
	item := Item{
		Data:      raw,
		Timestamp: now.UnixMilli(),
	}
	if expiry > 0 {
		e := now.Add(expiry).UnixMilli()
		item.Expiry = &e
	}
	c.items[key] = item
}

// getLocked drops an expired entry from memory only. The mirror catches up on the next write,
// and expired entries are skipped when a snapshot is restored.
func (c *Cache) getLocked(key string) (json.RawMessage, bool) {
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if item.expired(c.now()) {
		delete(c.items, key)
		return nil, false
	}
	return item.Data, true
}

func (c *Cache) persistLocked(ctx context.Context) error {
	if c.consent != ConsentGranted {
		return nil
	}

	snapshot, err := json.Marshal(c.items)
	if err != nil {
		return fmt.Errorf("failed to encode cache snapshot: %w", err)
	}
	if err := c.storage.Put(ctx, snapshotKey, snapshot); err != nil {
		c.logger.Warn("Failed to mirror cache to storage", slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to write cache snapshot: %w", err)
	}
	return nil
}
