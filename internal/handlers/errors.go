package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/retenify/retenify/internal/services"
)

// Error codes carried by the structured error body.
const (
	codeInvalidInput      = "INVALID_INPUT"
	codeEmptyMessage      = "EMPTY_MESSAGE"
	codeMessageTooLong    = "MESSAGE_TOO_LONG"
	codeInvalidJSON       = "INVALID_JSON"
	codeInvalidChatID     = "INVALID_CHAT_ID"
	codeChatNotFound      = "CHAT_NOT_FOUND"
	codeChatCreation      = "CHAT_CREATION_ERROR"
	codeMessageSave       = "MESSAGE_SAVE_ERROR"
	codeInternal          = "INTERNAL_ERROR"
	codeInvalidPreference = "INVALID_PREFERENCE"

	codeInvalidAPIKey     = "INVALID_API_KEY"
	codeQuotaExceeded     = "QUOTA_EXCEEDED"
	codeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	codeContentFiltered   = "CONTENT_FILTERED"
	codeAIServiceError    = "AI_SERVICE_ERROR"
)

// apiError is the body of every failed request: {"error": {...}}.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

var (
	errInvalidJSON = apiError{Code: codeInvalidJSON, Message: "Invalid request format."}
	errInternal    = apiError{Code: codeInternal, Message: "An unexpected error occurred. Please try again."}
)

// generationFailure is the classification of a failed generation call.
type generationFailure struct {
	Code    string
	Message string
	Details string
}

// classifyGenerationError maps a provider error onto a failure class with its apologetic
// message. Sentinel errors take precedence, then markers in the error text.
func classifyGenerationError(err error) generationFailure {
	text := err.Error()
	switch {
	case errors.Is(err, services.ErrInvalidAPIKey) || strings.Contains(text, "API_KEY_INVALID"):
		return generationFailure{
			Code:    codeInvalidAPIKey,
			Message: "I'm having trouble connecting to my AI service right now. Let me try to help you anyway!",
			Details: "The AI service API key is invalid or missing.",
		}
	case errors.Is(err, services.ErrQuotaExceeded) || strings.Contains(text, "QUOTA_EXCEEDED"):
		return generationFailure{
			Code:    codeQuotaExceeded,
			Message: "I'm experiencing high demand right now. Please try again in a few minutes.",
			Details: "The API quota has been exceeded for this period.",
		}
	case errors.Is(err, services.ErrRateLimited) || strings.Contains(text, "RATE_LIMIT_EXCEEDED"):
		return generationFailure{
			Code:    codeRateLimitExceeded,
			Message: "I need a moment to catch up. Please wait a few seconds and try again.",
			Details: "Rate limit exceeded for the AI service.",
		}
	case errors.Is(err, services.ErrContentFiltered) || strings.Contains(text, "SAFETY"):
		return generationFailure{
			Code:    codeContentFiltered,
			Message: "I can't respond to that message. Could you try rephrasing it?",
			Details: "Content was blocked by safety filters.",
		}
	}
	return generationFailure{
		Code:    codeAIServiceError,
		Message: "I'm having some technical difficulties. Let me try to help you in a different way.",
		Details: text,
	}
}

func (m Main) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error("Failed to encode response", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) writeError(w http.ResponseWriter, status int, e apiError) {
	m.writeJSON(w, status, errorResponse{Error: e})
}

// recoverer turns a panic in next into a 500 INTERNAL_ERROR response.
func (m Main) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			m.logger.Error("Recovered from panic",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String(errLoggerKey, fmt.Sprint(rec)),
				slog.String("stack", string(debug.Stack())))
			m.writeError(w, http.StatusInternalServerError, errInternal)
		}()
		next.ServeHTTP(w, r)
	})
}
