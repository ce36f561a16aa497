package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides text generation through an OpenAI compatible chat completion API.
type OpenAI struct {
	model  string
	params Parameters

	client *goopenai.Client

	logger *slog.Logger
}

const openAIInsufficientQuota = "insufficient_quota"

// NewOpenAI creates a new OpenAI instance. An empty baseURL keeps the client's default endpoint.
func NewOpenAI(apiKey, baseURL, model string, params Parameters, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return OpenAI{
		model:  model,
		params: params.withDefaults(),
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "openai")),
	}
}

// Generate is a wrapper around the OpenAI chat completion API.
func (o OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: o.model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: float32(o.params.Temperature),
		MaxTokens:   o.params.MaxTokens,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", openAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices found", ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == goopenai.FinishReasonContentFilter {
		return "", fmt.Errorf("%w: finish reason %s", ErrContentFiltered, choice.FinishReason)
	}
	if choice.Message.Content == "" {
		return "", fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, choice.FinishReason)
	}

	o.logger.Debug("Generated response",
		slog.String("model", o.model),
		slog.String("finishReason", string(choice.FinishReason)),
		slog.Int("totalTokens", resp.Usage.TotalTokens))

	return choice.Message.Content, nil
}

func openAIError(err error) error {
	var apiErr *goopenai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("error sending request: %w", err)
	}

	code := fmt.Sprint(apiErr.Code)
	switch {
	case apiErr.HTTPStatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrInvalidAPIKey, err)
	case apiErr.HTTPStatusCode == http.StatusTooManyRequests &&
		(code == openAIInsufficientQuota || apiErr.Type == openAIInsufficientQuota):
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case code == "content_filter":
		return fmt.Errorf("%w: %w", ErrContentFiltered, err)
	}
	return fmt.Errorf("error sending request: %w", err)
}
