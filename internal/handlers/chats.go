package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/retenify/retenify/internal/models"
)

type createChatRequest struct {
	Title string `json:"title"`
}

type listChatsResponse struct {
	Chats []models.ChatSummary `json:"chats"`
}

// HandleListChats returns the summaries of every chat, most recently updated first.
func (m Main) HandleListChats(w http.ResponseWriter, _ *http.Request) {
	chats := m.store.Chats()
	summaries := make([]models.ChatSummary, len(chats))
	for i, ch := range chats {
		summaries[i] = ch.Summary()
	}

	m.writeJSON(w, http.StatusOK, listChatsResponse{Chats: summaries})
}

// HandleCreateChat creates an empty chat. The body is optional; a missing or blank title selects
// the default one.
func (m Main) HandleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		m.logger.Warn("Failed to decode request body",
			slog.String("path", r.URL.Path),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadRequest, errInvalidJSON)
		return
	}

	ch, err := m.store.CreateChat(r.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		m.logger.Error("Failed to create chat", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, errChatCreation)
		return
	}

	m.publishChats()
	m.writeJSON(w, http.StatusCreated, ch)
}
