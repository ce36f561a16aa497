package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single entry of a chat. It is created when the user submits text or when the
// assistant (or a fallback) answers, and it is never modified afterwards.
type Message struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	IsUser    bool   `json:"isUser"`
	Timestamp string `json:"timestamp"`
}

// NewUserMessage creates a message authored by the user.
func NewUserMessage(content string, now time.Time) Message {
	return newMessage(content, true, now)
}

// NewAssistantMessage creates a message authored by the assistant, either generated or a fallback.
func NewAssistantMessage(content string, now time.Time) Message {
	return newMessage(content, false, now)
}

func newMessage(content string, isUser bool, now time.Time) Message {
	return Message{
		ID:        uuid.New().String(),
		Content:   content,
		IsUser:    isUser,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

// Speaker returns the label used for the message when it is quoted as conversational context.
func (m Message) Speaker() string {
	if m.IsUser {
		return "User"
	}
	return "Assistant"
}
