package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/retenify/retenify/internal/chatstore"
	"github.com/retenify/retenify/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	maxMessageLength = 10000

	fallbackNewChat = "I'm currently experiencing some technical difficulties with my AI service. " +
		"However, I'm here to help! Could you please rephrase your question or let me know what " +
		"specific information you're looking for about customer retention?"
	fallbackContinueChat = "I'm still experiencing technical difficulties. Could you try rephrasing your question?"

	chatFailureSuffix      = " I'm still here to help with customer retention strategies. What specific area would you like to discuss?"
	statelessFailureSuffix = " What would you like to know?"

	// ISO 8601 with milliseconds, always in UTC.
	responseTimeLayout = "2006-01-02T15:04:05.000Z"
)

type chatRequest struct {
	Message   any    `json:"message"`
	CreateNew bool   `json:"createNew"`
	ChatID    string `json:"chatId"`
}

type continueChatRequest struct {
	Message any `json:"message"`
}

type renameChatRequest struct {
	Title any `json:"title"`
}

type chatResponse struct {
	ChatID    string `json:"chatId,omitempty"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

// turn describes how a reply is produced for one user message.
type turn struct {
	message  string
	history  []models.Message
	fallback string
	suffix   string
}

var (
	errChatNotFound  = apiError{Code: codeChatNotFound, Message: "Chat not found."}
	errInvalidChatID = apiError{Code: codeInvalidChatID, Message: "Invalid chat ID provided."}
	errChatCreation  = apiError{Code: codeChatCreation, Message: "Failed to create new chat. Please try again."}
	errMessageSave   = apiError{Code: codeMessageSave, Message: "Failed to save conversation. Please try again."}
)

// validateMessage checks the raw message field of a request body.
func validateMessage(v any) (string, *apiError) {
	msg, ok := v.(string)
	if !ok || msg == "" {
		return "", &apiError{Code: codeInvalidInput, Message: "Message is required and must be a string."}
	}
	if strings.TrimSpace(msg) == "" {
		return "", &apiError{Code: codeEmptyMessage, Message: "Message cannot be empty."}
	}
	if utf8.RuneCountInString(msg) > maxMessageLength {
		return "", &apiError{Code: codeMessageTooLong, Message: "Message is too long. Please keep it under 10,000 characters."}
	}
	return msg, nil
}

func (m Main) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		m.logger.Warn("Failed to decode request body",
			slog.String("path", r.URL.Path),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadRequest, errInvalidJSON)
		return false
	}
	return true
}

func chatIDFromPath(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	return id, id != ""
}

// HandleChat answers a chat message. With createNew a chat is created for the turn, with chatId
// the turn continues that chat, and with neither the reply is generated without storing anything.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !m.decode(w, r, &req) {
		return
	}

	msg, apiErr := validateMessage(req.Message)
	if apiErr != nil {
		m.writeError(w, http.StatusBadRequest, *apiErr)
		return
	}

	switch {
	case req.CreateNew:
		ch, err := m.store.CreateChat(r.Context(), "")
		if err != nil {
			m.logger.Error("Failed to create new chat", slog.String(errLoggerKey, err.Error()))
			m.writeError(w, http.StatusInternalServerError, errChatCreation)
			return
		}
		m.chatTurn(w, r, ch, msg, fallbackNewChat)
	case req.ChatID != "":
		ch, ok := m.store.Chat(req.ChatID)
		if !ok {
			m.writeError(w, http.StatusNotFound, errChatNotFound)
			return
		}
		m.chatTurn(w, r, ch, msg, fallbackContinueChat)
	default:
		reply := m.reply(r.Context(), turn{
			message:  msg,
			fallback: fallbackNewChat,
			suffix:   statelessFailureSuffix,
		})
		m.turns.Add(r.Context(), 1, metric.WithAttributes(attribute.Bool("stateless", true)))
		m.writeJSON(w, http.StatusOK, chatResponse{
			Response:  reply,
			Timestamp: m.timestamp(),
		})
	}
}

// HandleContinueChat answers a message in the chat named by the path.
func (m Main) HandleContinueChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDFromPath(r)
	if !ok {
		m.writeError(w, http.StatusBadRequest, errInvalidChatID)
		return
	}

	var req continueChatRequest
	if !m.decode(w, r, &req) {
		return
	}

	msg, apiErr := validateMessage(req.Message)
	if apiErr != nil {
		m.writeError(w, http.StatusBadRequest, *apiErr)
		return
	}

	ch, ok := m.store.Chat(chatID)
	if !ok {
		m.writeError(w, http.StatusNotFound, errChatNotFound)
		return
	}

	m.chatTurn(w, r, ch, msg, fallbackContinueChat)
}

// chatTurn records msg in ch, produces the reply, records it and writes the response.
func (m Main) chatTurn(w http.ResponseWriter, r *http.Request, ch models.Chat, msg, fallback string) {
	ctx := r.Context()
	history := ch.Messages

	um := models.NewUserMessage(msg, m.now())
	if _, err := m.store.AddMessage(ctx, ch.ID, um); err != nil {
		if errors.Is(err, chatstore.ErrChatNotFound) {
			m.writeError(w, http.StatusNotFound, errChatNotFound)
			return
		}
		m.logger.Error("Failed to add user message",
			slog.String("chatID", ch.ID),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, errMessageSave)
		return
	}

	reply := m.reply(ctx, turn{
		message:  msg,
		history:  history,
		fallback: fallback,
		suffix:   chatFailureSuffix,
	})

	am := models.NewAssistantMessage(reply, m.now())
	if _, err := m.store.AddMessage(ctx, ch.ID, am); err != nil {
		if errors.Is(err, chatstore.ErrChatNotFound) {
			m.writeError(w, http.StatusNotFound, errChatNotFound)
			return
		}
		m.logger.Error("Failed to add assistant message",
			slog.String("chatID", ch.ID),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, errMessageSave)
		return
	}

	m.publishChats()
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.Bool("stateless", false)))

	m.writeJSON(w, http.StatusOK, chatResponse{
		ChatID:    ch.ID,
		Response:  reply,
		Timestamp: m.timestamp(),
	})
}

// reply produces the assistant text for t. It never fails: without a generator the fixed
// fallback is used, and a failed generation yields the apologetic message of its class.
func (m Main) reply(ctx context.Context, t turn) string {
	if m.generator == nil {
		m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("code", "UNCONFIGURED")))
		return t.fallback
	}

	text, err := m.generate(ctx, t.history, t.message)
	if err != nil {
		f := classifyGenerationError(err)
		m.logger.Error("Generation failed",
			slog.String("code", f.Code),
			slog.String("details", f.Details),
			slog.String(errLoggerKey, err.Error()))
		m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("code", f.Code)))
		return f.Message + t.suffix
	}
	return text
}

func (m Main) generate(ctx context.Context, history []models.Message, msg string) (string, error) {
	ctx, span := m.tracer.Start(ctx, "generate")
	defer span.End()

	prompt, err := m.persona.Build(history, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prompt")
		return "", fmt.Errorf("failed to build prompt: %w", err)
	}
	span.SetAttributes(
		attribute.Int("prompt.length", len(prompt)),
		attribute.Int("context.messages", min(len(history), m.persona.ContextMessages)),
	)

	if m.generationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.generationTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := m.generator.Generate(ctx, prompt)
	m.latency.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		err := errors.New("generator returned an empty reply")
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty reply")
		return "", err
	}

	span.SetAttributes(attribute.Int("response.length", len(text)))
	return text, nil
}

func (m Main) timestamp() string {
	return m.now().UTC().Format(responseTimeLayout)
}

// HandleGetChat returns the chat named by the path.
func (m Main) HandleGetChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDFromPath(r)
	if !ok {
		m.writeError(w, http.StatusBadRequest, errInvalidChatID)
		return
	}

	ch, ok := m.store.Chat(chatID)
	if !ok {
		m.writeError(w, http.StatusNotFound, apiError{
			Code:    codeChatNotFound,
			Message: "Chat not found. It may have been deleted or never existed.",
		})
		return
	}

	m.writeJSON(w, http.StatusOK, ch)
}

// HandleRenameChat replaces the title of the chat named by the path.
func (m Main) HandleRenameChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDFromPath(r)
	if !ok {
		m.writeError(w, http.StatusBadRequest, errInvalidChatID)
		return
	}

	var req renameChatRequest
	if !m.decode(w, r, &req) {
		return
	}
	title, ok := req.Title.(string)
	title = strings.TrimSpace(title)
	if !ok || title == "" {
		m.writeError(w, http.StatusBadRequest, apiError{
			Code:    codeInvalidInput,
			Message: "Title is required and must be a string.",
		})
		return
	}

	ch, err := m.store.UpdateChat(r.Context(), chatID, chatstore.Update{Title: &title})
	if err != nil {
		if errors.Is(err, chatstore.ErrChatNotFound) {
			m.writeError(w, http.StatusNotFound, errChatNotFound)
			return
		}
		m.logger.Error("Failed to rename chat",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	m.publishChats()
	m.writeJSON(w, http.StatusOK, ch)
}

// HandleDeleteChat removes the chat named by the path.
func (m Main) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDFromPath(r)
	if !ok {
		m.writeError(w, http.StatusBadRequest, errInvalidChatID)
		return
	}

	deleted, err := m.store.DeleteChat(r.Context(), chatID)
	if err != nil {
		m.logger.Error("Failed to delete chat",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	if !deleted {
		m.writeError(w, http.StatusNotFound, errChatNotFound)
		return
	}

	m.publishChats()
	m.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
