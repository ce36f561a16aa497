package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tmaxmax/go-sse"
)

// Anthropic provides text generation through the Anthropic Messages API. Responses are streamed
// and concatenated.
type Anthropic struct {
	apiKey   string
	model    string
	endpoint string
	params   Parameters

	client *http.Client
	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	// AnthropicDefaultEndpoint is the public Anthropic API root.
	AnthropicDefaultEndpoint = "https://api.anthropic.com/v1"

	anthropicVersion      = "2023-06-01"
	anthropicStopRefusal  = "refusal"
	anthropicAuthError    = "authentication_error"
	anthropicRateLimit    = "rate_limit_error"
	anthropicBillingError = "billing_error"
)

// NewAnthropic creates a new Anthropic instance. An empty endpoint selects
// AnthropicDefaultEndpoint.
func NewAnthropic(apiKey, endpoint, model string, params Parameters, logger *slog.Logger) Anthropic {
	if endpoint == "" {
		endpoint = AnthropicDefaultEndpoint
	}
	return Anthropic{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		params:   params.withDefaults(),
		client:   &http.Client{},
		logger:   logger.With(slog.String("module", "anthropic")),
	}
}

// Generate streams the reply to prompt from the Messages API and returns the joined text.
func (a Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicChatRequest{
		Model: a.model,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   a.params.MaxTokens,
		Temperature: a.params.Temperature,
		Stream:      true,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("error reading error response: %w", err)
		}
		var e anthropicError
		if err := json.Unmarshal(body, &e); err != nil || e.Error.Type == "" {
			return "", fmt.Errorf("anthropic error, status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return "", anthropicErr(resp.StatusCode, e)
	}

	var sb strings.Builder
	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			return "", fmt.Errorf("error reading response: %w", err)
		}
		switch ev.Type {
		case "error":
			var e anthropicError
			if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
				return "", fmt.Errorf("error unmarshaling error: %w", err)
			}
			return "", anthropicErr(0, e)
		case "content_block_delta", "message_delta":
			var res anthropicStreamResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				return "", fmt.Errorf("error unmarshaling response: %w", err)
			}
			if res.Delta.StopReason == anthropicStopRefusal {
				return "", fmt.Errorf("%w: stop reason %s", ErrContentFiltered, res.Delta.StopReason)
			}
			sb.WriteString(res.Delta.Text)
		case "message_stop":
			return a.result(sb.String())
		default:
			continue
		}
	}

	return a.result(sb.String())
}

func (a Anthropic) result(text string) (string, error) {
	if text == "" {
		return "", ErrEmptyResponse
	}
	a.logger.Debug("Generated response",
		slog.String("model", a.model),
		slog.Int("length", len(text)))
	return text, nil
}

func anthropicErr(statusCode int, e anthropicError) error {
	msg := fmt.Sprintf("anthropic error %s: %s", e.Error.Type, e.Error.Message)
	switch {
	case e.Error.Type == anthropicAuthError || statusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrInvalidAPIKey, msg)
	case e.Error.Type == anthropicBillingError || statusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)
	case e.Error.Type == anthropicRateLimit || statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	}
	return errors.New(msg)
}
