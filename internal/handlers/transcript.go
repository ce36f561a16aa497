package handlers

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/retenify/retenify/internal/models"
)

type transcriptMessage struct {
	ID        string
	IsUser    bool
	Timestamp string
	HTML      template.HTML
}

type transcriptPage struct {
	Title     string
	CreatedAt time.Time
	Messages  []transcriptMessage
}

// HandleTranscript renders the chat named by the path as an HTML page, with message text
// rendered from Markdown.
func (m Main) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDFromPath(r)
	if !ok {
		m.writeError(w, http.StatusBadRequest, errInvalidChatID)
		return
	}

	ch, ok := m.store.Chat(chatID)
	if !ok {
		m.writeError(w, http.StatusNotFound, errChatNotFound)
		return
	}

	page := transcriptPage{
		Title:     ch.Title,
		CreatedAt: ch.CreatedAt,
		Messages:  make([]transcriptMessage, len(ch.Messages)),
	}
	for i, msg := range ch.Messages {
		html, err := models.RenderMarkdown(msg.Content)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("chatID", chatID),
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			m.writeError(w, http.StatusInternalServerError, errInternal)
			return
		}
		page.Messages[i] = transcriptMessage{
			ID:        msg.ID,
			IsUser:    msg.IsUser,
			Timestamp: msg.Timestamp,
			HTML:      html,
		}
	}

	var buf bytes.Buffer
	if err := m.templates.ExecuteTemplate(&buf, "transcript.html", page); err != nil {
		m.logger.Error("Failed to execute transcript template",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
