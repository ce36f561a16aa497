package telemetry_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/retenify/retenify/internal/telemetry"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := telemetry.ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitLoggerWritesFile(t *testing.T) {
	defaultLogger := slog.Default()
	t.Cleanup(func() { slog.SetDefault(defaultLogger) })

	dir := t.TempDir()
	logger, closer, err := telemetry.InitLogger(telemetry.Config{Dir: dir, Level: "info"})
	if err != nil {
		t.Fatalf("InitLogger() error = %v", err)
	}
	logger.Info("Hello from test", slog.String("chatID", "abc"))
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, telemetry.ServiceName+".log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, want := range []string{`"msg":"Hello from test"`, `"chatID":"abc"`, `"service":"retenify"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("log file = %s, want to contain %s", raw, want)
		}
	}
}

func TestInitTelemetry(t *testing.T) {
	ctx := context.Background()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, telemetry.Config{}, "test")
	if err != nil {
		t.Fatalf("InitTelemetry() without dir error = %v", err)
	}
	if tracer == nil || meter == nil {
		t.Fatal("InitTelemetry() returned nil tracer or meter")
	}
	cleanup()

	dir := t.TempDir()
	tracer, meter, cleanup, err = telemetry.InitTelemetry(ctx, telemetry.Config{Dir: dir}, "test")
	if err != nil {
		t.Fatalf("InitTelemetry() error = %v", err)
	}
	_, span := tracer.Start(ctx, "test-span")
	span.End()
	counter, err := meter.Int64Counter("test.counter")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	counter.Add(ctx, 1)
	cleanup()

	if _, err := os.Stat(filepath.Join(dir, telemetry.ServiceName+"_traces.log")); err != nil {
		t.Errorf("trace file missing: %v", err)
	}
}
