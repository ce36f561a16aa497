package cache_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/retenify/retenify/internal/cache"
)

func TestStorages(t *testing.T) {
	tests := []struct {
		name string
		open func(t *testing.T) cache.Storage
	}{
		{
			name: "Memory",
			open: func(*testing.T) cache.Storage { return cache.NewMemoryStorage() },
		},
		{
			name: "Bolt",
			open: func(t *testing.T) cache.Storage {
				s, err := cache.NewBoltStorage(filepath.Join(t.TempDir(), "store.db"))
				if err != nil {
					t.Fatalf("NewBoltStorage() error = %v", err)
				}
				return s
			},
		},
		{
			name: "SQLite",
			open: func(t *testing.T) cache.Storage {
				s, err := cache.NewSQLiteStorage(filepath.Join(t.TempDir(), "store.sqlite"))
				if err != nil {
					t.Fatalf("NewSQLiteStorage() error = %v", err)
				}
				return s
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := tt.open(t)
			defer s.Close()

			v, err := s.Get(ctx, "missing")
			if err != nil || v != nil {
				t.Errorf("Get(missing) = %q, %v, want nil, nil", v, err)
			}

			if err := s.Put(ctx, "k", []byte("one")); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := s.Put(ctx, "k", []byte("two")); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}
			v, err = s.Get(ctx, "k")
			if err != nil || !bytes.Equal(v, []byte("two")) {
				t.Errorf("Get(k) = %q, %v, want %q", v, err, "two")
			}

			if err := s.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := s.Delete(ctx, "k"); err != nil {
				t.Errorf("Delete() of missing key error = %v", err)
			}
			v, err = s.Get(ctx, "k")
			if err != nil || v != nil {
				t.Errorf("Get(k) after delete = %q, %v, want nil, nil", v, err)
			}
		})
	}
}

func TestBoltStorageSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	clk := &clock{now: time.Now()}

	s, err := cache.NewBoltStorage(path)
	if err != nil {
		t.Fatalf("NewBoltStorage() error = %v", err)
	}
	c := newCache(t, s, clk)
	if err := c.Accept(ctx); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if err := c.SetTheme(ctx, cache.ThemeLight); err != nil {
		t.Fatalf("SetTheme() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = cache.NewBoltStorage(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	reloaded := newCache(t, s, clk)
	if theme, ok := reloaded.Theme(); !ok || theme != cache.ThemeLight {
		t.Errorf("Theme() after reopen = %q, %v, want light, true", theme, ok)
	}
}
