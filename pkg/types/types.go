// Package types defines the core domain types for the Recall conversation
// memory system: users, memory entries, summaries, and usage records.
package types

import (
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// IsValidRole reports whether r is one of the three recognized roles.
func IsValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one turn of a chat exchange as sent to a provider. Unlike
// MemoryEntry it carries no identity or embedding; it is the wire shape of
// a prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User is an opaque identity that owns memory entries, summaries, and usage
// records. Deleting a user cascades to everything it owns.
type User struct {
	ID        string    `json:"id"` // UUID
	CreatedAt time.Time `json:"created_at"`
}

// MemoryEntry is one stored conversation turn with its embedding.
// Entries are immutable once created; the only mutation the core performs
// is deletion during summarization pruning.
type MemoryEntry struct {
	ID             string    `json:"id"` // UUID, fresh per insert attempt
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"embedding,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the fields required before an entry may be stored.
// The embedding dimension is checked separately by the store against its
// configured dimension.
func (e *MemoryEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("memory entry: id is required")
	}
	if e.UserID == "" {
		return fmt.Errorf("memory entry: user_id is required")
	}
	if e.ConversationID == "" {
		return fmt.Errorf("memory entry: conversation_id is required")
	}
	if !IsValidRole(e.Role) {
		return fmt.Errorf("memory entry: invalid role %q", e.Role)
	}
	if e.Content == "" {
		return fmt.Errorf("memory entry: content is required")
	}
	if len(e.Embedding) == 0 {
		return fmt.Errorf("memory entry: embedding is required")
	}
	return nil
}

// Summary is a condensed replacement for a window of raw entries.
// Summaries are append-only: a conversation accumulates one summary per
// compacted window and none is ever updated in place.
type Summary struct {
	ID             string    `json:"id"` // UUID
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	SummaryText    string    `json:"summary_text"`
	MessagesCount  int       `json:"messages_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// UsageRecord is one row of the append-only token/cost ledger, written once
// per completion call. EstimatedCost is informational, never authoritative
// billing.
type UsageRecord struct {
	ID               string    `json:"id"` // UUID
	UserID           string    `json:"user_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	EstimatedCost    float64   `json:"estimated_cost"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
