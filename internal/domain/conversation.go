package domain

import (
	"time"
)

// Speaker labels used when rendering prior turns.
const (
	SpeakerHuman     = "Human"
	SpeakerAssistant = "Assistant"
)

// Conversation groups turns that share a chat identifier.
type Conversation struct {
	ChatID         string    `json:"chat_id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ConversationSummary is a listing row for a user's conversations.
type ConversationSummary struct {
	ChatID string    `json:"chat_id"`
	Title  string    `json:"title"`
	LastAt time.Time `json:"last_at"`
}

// Turn is one utterance plus its reply. Turns are append-only.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ChatID    string    `json:"chat_id"`
	UserText  string    `json:"user_text"`
	Reply     string    `json:"reply"`
	CreatedAt time.Time `json:"created_at"`
}

// Utterance is a single speaker line in a rendered history.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Lines expands the turn into its human and assistant lines.
// An empty reply contributes no assistant line.
func (t Turn) Lines() []Utterance {
	lines := []Utterance{{Speaker: SpeakerHuman, Text: t.UserText}}
	if t.Reply != "" {
		lines = append(lines, Utterance{Speaker: SpeakerAssistant, Text: t.Reply})
	}
	return lines
}
