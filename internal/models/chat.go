package models

import (
	"time"
	"unicode/utf8"
)

// DefaultChatTitle is the title a chat carries until its first user message names it.
const DefaultChatTitle = "New Chat"

// maxTitleLength is the number of characters of a user message kept when it becomes a chat title.
const maxTitleLength = 50

// Chat represents a conversation record. Messages are kept in chronological insertion order and
// UpdatedAt is never earlier than CreatedAt.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatSummary is the listing view of a chat, without its messages.
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// Summary returns the listing view of the chat.
func (c Chat) Summary() ChatSummary {
	return ChatSummary{
		ID:           c.ID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}

// Clone returns a copy of the chat that shares no memory with the original.
func (c Chat) Clone() Chat {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	c.Messages = msgs
	return c
}

// LastMessages returns up to n of the most recent messages, oldest first.
func (c Chat) LastMessages(n int) []Message {
	if n <= 0 {
		return nil
	}
	if len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// TitleFromMessage derives a chat title from a user message: the content itself, or its first
// 50 characters followed by "..." when it is longer.
func TitleFromMessage(content string) string {
	if utf8.RuneCountInString(content) <= maxTitleLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxTitleLength]) + "..."
}
