package services_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/retenify/retenify/internal/services"
)

const anthropicStream = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Reach out "}}

event: ping
data: {"type":"ping"}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"personally."}}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}

event: message_stop
data: {"type":"message_stop"}

`

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("request path = %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, anthropicStream)
	}))
	defer srv.Close()

	a := services.NewAnthropic("key", srv.URL, "claude-test", services.DefaultParameters(), discardLogger())
	got, err := a.Generate(context.Background(), "How do I win back a customer?")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "Reach out personally." {
		t.Errorf("Generate() = %q", got)
	}
}

func TestAnthropicErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantErr     error
	}{
		{
			name:        "Authentication",
			status:      http.StatusUnauthorized,
			contentType: "application/json",
			body:        `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantErr:     services.ErrInvalidAPIKey,
		},
		{
			name:        "Rate limit",
			status:      http.StatusTooManyRequests,
			contentType: "application/json",
			body:        `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`,
			wantErr:     services.ErrRateLimited,
		},
		{
			name:        "Stream error event",
			status:      http.StatusOK,
			contentType: "text/event-stream",
			body:        "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"rate_limit_error\",\"message\":\"busy\"}}\n\n",
			wantErr:     services.ErrRateLimited,
		},
		{
			name:        "Refusal",
			status:      http.StatusOK,
			contentType: "text/event-stream",
			body:        "event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"refusal\"}}\n\n",
			wantErr:     services.ErrContentFiltered,
		},
		{
			name:        "Empty stream",
			status:      http.StatusOK,
			contentType: "text/event-stream",
			body:        "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
			wantErr:     services.ErrEmptyResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			a := services.NewAnthropic("key", srv.URL, "claude-test", services.Parameters{}, discardLogger())
			_, err := a.Generate(context.Background(), "hello")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Generate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
