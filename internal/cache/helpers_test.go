package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/retenify/retenify/internal/cache"
)

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now()}
	c := newCache(t, cache.NewMemoryStorage(), clk)

	if _, ok := c.SidebarState(); ok {
		t.Error("SidebarState() reported a value before any was set")
	}
	if err := c.SetSidebarState(ctx, true); err != nil {
		t.Fatalf("SetSidebarState() error = %v", err)
	}
	if collapsed, ok := c.SidebarState(); !ok || !collapsed {
		t.Errorf("SidebarState() = %v, %v, want true, true", collapsed, ok)
	}

	if err := c.SetTheme(ctx, cache.ThemeDark); err != nil {
		t.Fatalf("SetTheme() error = %v", err)
	}
	if theme, ok := c.Theme(); !ok || theme != cache.ThemeDark {
		t.Errorf("Theme() = %q, %v, want dark, true", theme, ok)
	}
	if err := c.SetTheme(ctx, cache.Theme("sepia")); err == nil {
		t.Error("SetTheme() accepted an unsupported theme")
	}

	clk.now = clk.now.Add(31 * 24 * time.Hour)
	if _, ok := c.SidebarState(); ok {
		t.Error("sidebar state survived its 30 day expiry")
	}
	if _, ok := c.Theme(); !ok {
		t.Error("theme expired before a year")
	}
}

func TestTrackingRequiresConsent(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, cache.NewMemoryStorage(), &clock{now: time.Now()})

	if err := c.TrackFeatureUsage(ctx, "chat-created"); err != nil {
		t.Fatalf("TrackFeatureUsage() error = %v", err)
	}
	if got := c.Analytics().FeatureUsage["chat-created"]; got != 0 {
		t.Errorf("feature usage recorded without consent: %d", got)
	}

	if err := c.Accept(ctx); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.TrackFeatureUsage(ctx, "chat-created"); err != nil {
			t.Fatalf("TrackFeatureUsage() error = %v", err)
		}
	}
	if err := c.TrackPageView(ctx, "console"); err != nil {
		t.Fatalf("TrackPageView() error = %v", err)
	}

	a := c.Analytics()
	if got := a.FeatureUsage["chat-created"]; got != 3 {
		t.Errorf("FeatureUsage[chat-created] = %d, want 3", got)
	}
	if got := a.PageViews["console"]; got != 1 {
		t.Errorf("PageViews[console] = %d, want 1", got)
	}
}

func TestChatHistoryKey(t *testing.T) {
	if got := cache.ChatHistoryKey("demo-user"); got != "chat-history-demo-user" {
		t.Errorf("ChatHistoryKey() = %q", got)
	}
}

func TestRecentSearches(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now()}
	c := newCache(t, cache.NewMemoryStorage(), clk)

	var searches []string
	for i := 0; i < 12; i++ {
		searches = append(searches, string(rune('a'+i)))
	}
	if err := c.SetRecentSearches(ctx, searches); err != nil {
		t.Fatalf("SetRecentSearches() error = %v", err)
	}

	got, ok := c.RecentSearches()
	if !ok || len(got) != 10 || got[0] != "a" || got[9] != "j" {
		t.Errorf("RecentSearches() = %v, %v, want the first 10", got, ok)
	}

	clk.now = clk.now.Add(4 * 24 * time.Hour)
	if _, ok := c.RecentSearches(); ok {
		t.Error("recent searches survived their 3 day expiry")
	}
}
