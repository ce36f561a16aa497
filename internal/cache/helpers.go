package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	chatHistoryTTL  = 24 * time.Hour
	sidebarStateTTL = 30 * 24 * time.Hour
	themeTTL        = 365 * 24 * time.Hour
	pageViewsTTL    = 7 * 24 * time.Hour
	featureUsageTTL = 30 * 24 * time.Hour
	searchesTTL     = 3 * 24 * time.Hour

	maxRecentSearches = 10

	sidebarStateKey = "sidebar-collapsed"
	themeKey        = "theme-preference"
	pageViewsKey    = "page-views"
	featureUsageKey = "feature-usage"
	searchesKey     = "recent-searches"
)

// Theme is the console colour scheme preference.
type Theme string

// Supported themes.
const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Valid reports whether t is one of the supported themes.
func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}

// Analytics holds usage counters collected while consent is granted.
type Analytics struct {
	PageViews    map[string]int `json:"pageViews"`
	FeatureUsage map[string]int `json:"featureUsage"`
}

// ChatHistoryKey is the cache key holding the chat collection of a user.
func ChatHistoryKey(userID string) string {
	return "chat-history-" + userID
}

// SetChatHistory stores the chat collection of a user for 24 hours.
func (c *Cache) SetChatHistory(ctx context.Context, userID string, chats any) error {
	return c.Set(ctx, ChatHistoryKey(userID), chats, chatHistoryTTL)
}

// ChatHistory returns the chat collection stored for a user.
func ChatHistory[T any](c *Cache, userID string) (T, bool) {
	return Get[T](c, ChatHistoryKey(userID))
}

// SetRecentSearches stores up to the first 10 searches for 3 days.
func (c *Cache) SetRecentSearches(ctx context.Context, searches []string) error {
	if len(searches) > maxRecentSearches {
		searches = searches[:maxRecentSearches]
	}
	return c.Set(ctx, searchesKey, searches, searchesTTL)
}

// RecentSearches returns the stored searches, if any.
func (c *Cache) RecentSearches() ([]string, bool) {
	return Get[[]string](c, searchesKey)
}

// SetSidebarState stores whether the console sidebar is collapsed, for 30 days.
func (c *Cache) SetSidebarState(ctx context.Context, collapsed bool) error {
	return c.Set(ctx, sidebarStateKey, collapsed, sidebarStateTTL)
}

// SidebarState returns the stored sidebar state, if any.
func (c *Cache) SidebarState() (bool, bool) {
	return Get[bool](c, sidebarStateKey)
}

// SetTheme stores the theme preference for a year.
func (c *Cache) SetTheme(ctx context.Context, theme Theme) error {
	if !theme.Valid() {
		return fmt.Errorf("unsupported theme %q", theme)
	}
	return c.Set(ctx, themeKey, theme, themeTTL)
}

// Theme returns the stored theme preference, if any.
func (c *Cache) Theme() (Theme, bool) {
	return Get[Theme](c, themeKey)
}

// TrackPageView counts a visit to page. Nothing is recorded unless consent is granted.
func (c *Cache) TrackPageView(ctx context.Context, page string) error {
	return c.increment(ctx, pageViewsKey, page, pageViewsTTL)
}

// TrackFeatureUsage counts a use of feature. Nothing is recorded unless consent is granted.
func (c *Cache) TrackFeatureUsage(ctx context.Context, feature string) error {
	return c.increment(ctx, featureUsageKey, feature, featureUsageTTL)
}

// Analytics returns the collected counters. Missing counters are returned as empty maps.
func (c *Cache) Analytics() Analytics {
	pageViews, ok := Get[map[string]int](c, pageViewsKey)
	if !ok {
		pageViews = map[string]int{}
	}
	featureUsage, ok := Get[map[string]int](c, featureUsageKey)
	if !ok {
		featureUsage = map[string]int{}
	}
	return Analytics{
		PageViews:    pageViews,
		FeatureUsage: featureUsage,
	}
}

func (c *Cache) increment(ctx context.Context, key, name string, expiry time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consent != ConsentGranted {
		return nil
	}

	counts := map[string]int{}
	if raw, ok := c.getLocked(key); ok {
		if err := json.Unmarshal(raw, &counts); err != nil {
			counts = map[string]int{}
		}
	}
	counts[name]++

	raw, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	c.setLocked(key, raw, expiry)
	return c.persistLocked(ctx)
}
