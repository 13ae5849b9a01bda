package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/talvos/recall/internal/llm"
	"github.com/talvos/recall/internal/storage"
	"github.com/talvos/recall/pkg/types"
)

// Summarizer compacts old conversation turns into summaries. It condenses
// everything except the keepRecent newest entries, then atomically appends
// the summary and deletes exactly the condensed entries. Fail-closed: if
// the provider call or the storage write fails, no entry is deleted and the
// conversation stays fully intact. Competing compactions of one conversation
// resolve to a single summary: the loser finds its window already consumed
// and backs off without writing.
type Summarizer struct {
	store      storage.Store
	provider   llm.ChatProvider
	keepRecent int
	chunker    *llm.Chunker
}

// SummaryResult describes a completed compaction.
type SummaryResult struct {
	Summary       *types.Summary
	PrunedEntries int
}

// NewSummarizer creates a Summarizer that keeps the keepRecent newest
// entries of a conversation verbatim.
func NewSummarizer(store storage.Store, provider llm.ChatProvider, keepRecent int) (*Summarizer, error) {
	if store == nil {
		return nil, fmt.Errorf("summarizer: store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("summarizer: provider is required")
	}
	if keepRecent < 0 {
		return nil, fmt.Errorf("summarizer: keepRecent must be non-negative, got %d", keepRecent)
	}
	return &Summarizer{
		store:      store,
		provider:   provider,
		keepRecent: keepRecent,
		chunker:    &llm.Chunker{MaxChunkSize: 3000, Overlap: 200},
	}, nil
}

// SummarizeAndPrune compacts one conversation. It returns (nil, nil) when
// there is nothing to compact, i.e. the conversation has keepRecent entries
// or fewer. All failures wrap ErrSummarization and leave storage unchanged.
func (s *Summarizer) SummarizeAndPrune(ctx context.Context, userID, conversationID string) (*SummaryResult, error) {
	entries, err := s.store.ListConversation(ctx, userID, conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load conversation: %v", ErrSummarization, err)
	}
	if len(entries) <= s.keepRecent {
		return nil, nil
	}

	// Condense everything except the newest keepRecent entries.
	window := entries[:len(entries)-s.keepRecent]

	summaryText, err := s.summarize(ctx, window)
	if err != nil {
		return nil, err
	}

	summary := &types.Summary{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		SummaryText:    summaryText,
		MessagesCount:  len(window),
	}
	ids := make([]string, len(window))
	for i, e := range window {
		ids[i] = e.ID
	}

	if err := s.store.ApplySummary(ctx, summary, ids); err != nil {
		if errors.Is(err, storage.ErrAlreadyCompacted) {
			// A concurrent compaction consumed this window first. Its
			// summary stands; nothing was written here.
			log.Printf("memory: conversation %s was compacted concurrently, discarding duplicate summary", conversationID)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to apply summary: %v", ErrSummarization, err)
	}

	log.Printf("memory: compacted conversation %s: %d entries into one summary", conversationID, len(window))
	return &SummaryResult{Summary: summary, PrunedEntries: len(window)}, nil
}

// summarize turns the window into summary text. Long transcripts are
// chunked and condensed piecewise.
func (s *Summarizer) summarize(ctx context.Context, window []types.MemoryEntry) (string, error) {
	transcript := llm.TranscriptText(window)

	var parts []string
	for _, chunk := range s.chunker.Chunk(transcript) {
		result, err := s.provider.Chat(ctx, []types.Message{
			{Role: types.RoleUser, Content: llm.SummaryPrompt(chunk)},
		})
		if err != nil {
			return "", fmt.Errorf("%w: provider call failed: %v", ErrSummarization, err)
		}
		text := strings.TrimSpace(result.Text)
		if text == "" {
			return "", fmt.Errorf("%w: provider returned an empty summary", ErrSummarization)
		}
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: nothing to summarize", ErrSummarization)
	}
	return strings.Join(parts, "\n\n"), nil
}
