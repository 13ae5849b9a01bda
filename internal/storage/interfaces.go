// Package storage provides composable storage interfaces for the Recall
// conversation memory core.
//
// The storage layer is split into small, focused interfaces that can be
// implemented independently and composed as needed. The Postgres
// implementation is the primary backend (pgvector-backed similarity search);
// the SQLite implementation is an embedded fallback for development and
// tests.
package storage

import (
	"context"
	"time"

	"github.com/talvos/recall/pkg/types"
)

// VectorStore persists memory entries with their embeddings and answers
// similarity queries scoped to an owner.
type VectorStore interface {
	// Insert persists a new entry. It never overwrites: the caller generates
	// a fresh id per attempt. Inserting an entry whose embedding length does
	// not match the store's configured dimension fails with ErrDimension.
	Insert(ctx context.Context, entry *types.MemoryEntry) error

	// Search returns entries owned by opts.UserID (and opts.ConversationID
	// when set) whose similarity to the query vector is at least
	// opts.Threshold, ordered by descending similarity, capped at opts.TopK.
	// An empty result is valid, not an error.
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error)

	// Delete removes entries by id. Ids already absent are ignored
	// (deletion is idempotent).
	Delete(ctx context.Context, ids []string) error

	// CountMessages returns the live number of raw entries in a conversation.
	// The count is always derived from storage, never cached in process.
	CountMessages(ctx context.Context, userID, conversationID string) (int, error)

	// ListConversation returns up to limit entries of a conversation in
	// chronological order (created_at ascending, id as tiebreak). A limit
	// below 1 returns the whole conversation.
	ListConversation(ctx context.Context, userID, conversationID string, limit int) ([]types.MemoryEntry, error)

	// ListConversations returns the distinct conversation ids owned by a user.
	ListConversations(ctx context.Context, userID string) ([]string, error)

	// DeleteConversation removes every entry and summary of one conversation.
	DeleteConversation(ctx context.Context, userID, conversationID string) error
}

// SummaryStore persists conversation summaries and applies compactions.
type SummaryStore interface {
	// ApplySummary atomically inserts the summary row and deletes exactly the
	// given entry ids. On any failure neither write persists. Competing
	// compactions of the same conversation are serialized by the store: when
	// any of the entry ids is already gone the window belonged to a
	// compaction that won the race, and ApplySummary fails with
	// ErrAlreadyCompacted instead of writing a duplicate summary.
	ApplySummary(ctx context.Context, summary *types.Summary, entryIDs []string) error

	// ListSummaries returns the summaries of a conversation in creation order.
	ListSummaries(ctx context.Context, userID, conversationID string) ([]types.Summary, error)
}

// UsageStore is the append-only token/cost ledger.
type UsageStore interface {
	// RecordUsage appends one usage record. Records are never deleted by the
	// core.
	RecordUsage(ctx context.Context, rec *types.UsageRecord) error

	// Aggregate returns usage totals grouped by provider and model for a
	// user. A zero since means no lower time bound; an empty userID means
	// all users.
	Aggregate(ctx context.Context, userID string, since time.Time) ([]UsageTotals, error)
}

// UserStore manages the user relation that everything else hangs off.
type UserStore interface {
	// CreateUser inserts a user row with the given id (UUID).
	CreateUser(ctx context.Context, id string) error

	// DeleteUser removes a user; owned entries, summaries, and usage records
	// cascade.
	DeleteUser(ctx context.Context, id string) error
}

// Store is the full storage surface a backend implements.
type Store interface {
	VectorStore
	SummaryStore
	UsageStore
	UserStore

	// Dimension returns the embedding dimension the store was configured with.
	Dimension() int

	// Close releases any resources held by the store.
	Close() error
}
