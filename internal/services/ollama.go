package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Ollama provides text generation from a model served by an Ollama instance.
type Ollama struct {
	host   string
	model  string
	params Parameters

	client *api.Client
	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server.
func NewOllama(host, model string, params Parameters, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: scheme and host are required", host)
	}

	return Ollama{
		host:   host,
		model:  model,
		params: params.withDefaults(),
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

// Generate runs a single non-streaming completion of prompt.
func (o Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	f := false
	req := api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: &f,
		Options: map[string]any{
			"temperature": o.params.Temperature,
			"num_predict": o.params.MaxTokens,
		},
	}

	var sb strings.Builder
	var doneReason string
	if err := o.client.Generate(ctx, &req, func(res api.GenerateResponse) error {
		sb.WriteString(res.Response)
		if res.Done {
			doneReason = res.DoneReason
		}
		return nil
	}); err != nil {
		return "", ollamaError(err)
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: done reason %q", ErrEmptyResponse, doneReason)
	}

	o.logger.Debug("Generated response",
		slog.String("host", o.host),
		slog.String("model", o.model),
		slog.String("doneReason", doneReason))

	return sb.String(), nil
}

func ollamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrInvalidAPIKey, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
	}
	return fmt.Errorf("error sending request: %w", err)
}
