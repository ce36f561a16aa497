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
	"net/url"
	"strings"
)

// Gemini talks to the Google Generative Language REST API.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	params  Parameters

	client *http.Client
	logger *slog.Logger
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Reason string `json:"reason"`
		} `json:"details"`
	} `json:"error"`
}

const (
	// GeminiDefaultBaseURL is the public endpoint of the Generative Language API.
	GeminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// GeminiDefaultModel is used when no model is configured.
	GeminiDefaultModel = "gemini-3-flash-preview"

	geminiFinishSafety = "SAFETY"
)

// NewGemini creates a Gemini client. An empty baseURL selects GeminiDefaultBaseURL and an empty
// model selects GeminiDefaultModel.
func NewGemini(apiKey, baseURL, model string, params Parameters, logger *slog.Logger) Gemini {
	if baseURL == "" {
		baseURL = GeminiDefaultBaseURL
	}
	if model == "" {
		model = GeminiDefaultModel
	}
	return Gemini{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		params:  params.withDefaults(),
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "gemini")),
	}
}

// Generate sends prompt as a single user turn and returns the text of the first candidate.
func (g Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: prompt}},
			},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.params.Temperature,
			MaxOutputTokens: g.params.MaxTokens,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", geminiError(resp.StatusCode, body)
	}

	var res geminiResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("error unmarshaling response: %w", err)
	}

	if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked, reason %s", ErrContentFiltered, res.PromptFeedback.BlockReason)
	}
	if len(res.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrEmptyResponse)
	}

	candidate := res.Candidates[0]
	if candidate.FinishReason == geminiFinishSafety {
		return "", fmt.Errorf("%w: finish reason %s", ErrContentFiltered, candidate.FinishReason)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, candidate.FinishReason)
	}

	g.logger.Debug("Generated response",
		slog.String("model", g.model),
		slog.String("finishReason", candidate.FinishReason),
		slog.Int("length", sb.Len()))

	return sb.String(), nil
}

func geminiError(statusCode int, body []byte) error {
	var e geminiErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Message == "" {
		return fmt.Errorf("gemini error, status code %d: %s", statusCode, strings.TrimSpace(string(body)))
	}

	msg := fmt.Sprintf("gemini error %s: %s", e.Error.Status, e.Error.Message)
	for _, d := range e.Error.Details {
		if d.Reason == "API_KEY_INVALID" {
			return fmt.Errorf("%w: %s", ErrInvalidAPIKey, msg)
		}
	}

	if statusCode == http.StatusTooManyRequests || e.Error.Status == "RESOURCE_EXHAUSTED" {
		if strings.Contains(strings.ToLower(e.Error.Message), "quota") {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)
		}
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	}

	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrInvalidAPIKey, msg)
	}

	return errors.New(msg)
}
