package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/talvos/recall/internal/config"
	"github.com/talvos/recall/internal/storage"
	"github.com/talvos/recall/pkg/types"
)

// Manager is the front door of the memory core. It embeds and stores turns,
// retrieves relevant context, and reports when a conversation is due for
// compaction. Message counts always come from storage; the manager caches
// nothing, so concurrent writers and restarts cannot skew the threshold
// check.
type Manager struct {
	store    storage.Store
	embedder *Embedder
	cfg      config.MemoryConfig
}

// NewManager wires a Manager. The embedder's dimension must match the
// store's.
func NewManager(store storage.Store, embedder *Embedder, cfg config.MemoryConfig) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("memory: store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("memory: embedder is required")
	}
	if store.Dimension() != embedder.Dimension() {
		return nil, fmt.Errorf("memory: store dimension %d does not match embedder dimension %d",
			store.Dimension(), embedder.Dimension())
	}
	return &Manager{store: store, embedder: embedder, cfg: cfg}, nil
}

// AddMessage embeds one conversation turn and stores it. The entry gets a
// fresh UUID per attempt, so a retried call can never overwrite an earlier
// one. Embedding failures wrap ErrEmbedding and nothing is written; store
// failures wrap ErrStore.
func (m *Manager) AddMessage(ctx context.Context, userID, conversationID string, role types.Role, content string) (*types.MemoryEntry, error) {
	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}

	entry := &types.MemoryEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Embedding:      embedding,
	}
	if err := m.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return entry, nil
}

// RetrieveContext returns the stored turns most relevant to query, scoped
// to the user (and conversation when conversationID is non-empty). Results
// pass the configured similarity floor and are capped at the configured
// top-K; an empty slice means nothing relevant, not an error.
func (m *Manager) RetrieveContext(ctx context.Context, userID, conversationID, query string) ([]types.MemoryEntry, error) {
	queryVec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := m.store.Search(ctx, queryVec, storage.SearchOptions{
		UserID:         userID,
		ConversationID: conversationID,
		Threshold:      m.cfg.SimilarityThreshold,
		TopK:           m.cfg.RetrievalTopK,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	entries := make([]types.MemoryEntry, 0, len(results))
	for _, r := range results {
		entries = append(entries, r.Entry)
	}
	return entries, nil
}

// MessageCount returns the live number of raw entries in a conversation,
// derived from storage on every call.
func (m *Manager) MessageCount(ctx context.Context, userID, conversationID string) (int, error) {
	count, err := m.store.CountMessages(ctx, userID, conversationID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return count, nil
}

// NeedsCompaction reports whether a conversation has reached the
// summarization threshold.
func (m *Manager) NeedsCompaction(ctx context.Context, userID, conversationID string) (bool, error) {
	count, err := m.MessageCount(ctx, userID, conversationID)
	if err != nil {
		return false, err
	}
	return count >= m.cfg.SummarizeThreshold, nil
}

// History returns a conversation's raw entries in chronological order. A
// limit below 1 returns the whole conversation; exports rely on that, so
// the manager never imposes a cap of its own.
func (m *Manager) History(ctx context.Context, userID, conversationID string, limit int) ([]types.MemoryEntry, error) {
	entries, err := m.store.ListConversation(ctx, userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return entries, nil
}

// Summaries returns a conversation's summaries in creation order.
func (m *Manager) Summaries(ctx context.Context, userID, conversationID string) ([]types.Summary, error) {
	summaries, err := m.store.ListSummaries(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return summaries, nil
}

// Conversations returns the ids of a user's conversations.
func (m *Manager) Conversations(ctx context.Context, userID string) ([]string, error) {
	ids, err := m.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return ids, nil
}

// DeleteConversation removes a conversation's raw entries and its
// summaries. Deleting a conversation that has neither is a no-op.
func (m *Manager) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if err := m.store.DeleteConversation(ctx, userID, conversationID); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

// Config exposes the memory tuning the manager runs with.
func (m *Manager) Config() config.MemoryConfig { return m.cfg }
