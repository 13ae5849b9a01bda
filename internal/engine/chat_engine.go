// Package engine orchestrates a chat turn end to end: retrieve relevant
// memory, call the provider, persist both turns, account usage, and compact
// the conversation when it grows past the threshold.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/talvos/recall/internal/accounting"
	"github.com/talvos/recall/internal/llm"
	"github.com/talvos/recall/internal/memory"
	"github.com/talvos/recall/internal/pricing"
	"github.com/talvos/recall/pkg/types"
)

// recentHistoryTurns is how many of the newest stored turns ride along in
// the prompt verbatim.
const recentHistoryTurns = 10

// Events receives notifications about completed work. Implementations must
// not block; the engine calls them inline.
type Events interface {
	TurnCompleted(userID, conversationID string)
	SummaryCreated(userID, conversationID string, prunedEntries int)
}

// noopEvents is used when no event sink is wired.
type noopEvents struct{}

func (noopEvents) TurnCompleted(string, string)       {}
func (noopEvents) SummaryCreated(string, string, int) {}

// ChatEngine ties the memory core, a chat provider, and the accountant into
// the send-message flow.
type ChatEngine struct {
	manager    *memory.Manager
	summarizer *memory.Summarizer
	accountant *accounting.Accountant
	provider   llm.ChatProvider
	events     Events

	// retryBackoff is overridable in tests.
	retryBackoff time.Duration
}

// ChatResponse is the outcome of one chat turn.
type ChatResponse struct {
	ConversationID string             `json:"conversation_id"`
	Reply          string             `json:"reply"`
	ContextUsed    int                `json:"context_used"`
	Summarized     bool               `json:"summarized"`
	Usage          *types.UsageRecord `json:"usage,omitempty"`
}

// NewChatEngine wires a ChatEngine. events may be nil.
func NewChatEngine(manager *memory.Manager, summarizer *memory.Summarizer, accountant *accounting.Accountant, provider llm.ChatProvider, events Events) (*ChatEngine, error) {
	if manager == nil || summarizer == nil || accountant == nil || provider == nil {
		return nil, fmt.Errorf("engine: manager, summarizer, accountant and provider are required")
	}
	if events == nil {
		events = noopEvents{}
	}
	return &ChatEngine{
		manager:      manager,
		summarizer:   summarizer,
		accountant:   accountant,
		provider:     provider,
		events:       events,
		retryBackoff: 500 * time.Millisecond,
	}, nil
}

// SendMessage runs one chat turn for a user. A missing conversationID
// starts a new conversation.
//
// Degradation rules: failed context retrieval degrades to a memoryless
// prompt, failed turn storage and failed accounting are logged and dropped,
// and a failed compaction leaves the conversation uncompacted. Only a
// provider failure (after one bounded retry) aborts the turn.
func (e *ChatEngine) SendMessage(ctx context.Context, userID, conversationID, content string) (*ChatResponse, error) {
	if userID == "" {
		return nil, fmt.Errorf("engine: user id is required")
	}
	if content == "" {
		return nil, fmt.Errorf("engine: message content is required")
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	// 1. Retrieve relevant context. A broken store or embedder must not
	// block the chat, so this degrades to no context.
	contextEntries, err := e.manager.RetrieveContext(ctx, userID, conversationID, content)
	if err != nil {
		log.Printf("engine: context retrieval degraded for conversation %s: %v", conversationID, err)
		contextEntries = nil
	}

	// 2. Build the prompt: system message with injected context, recent
	// history, then the new user turn.
	messages := e.buildPrompt(ctx, userID, conversationID, contextEntries, content)

	// 3. Call the provider, retrying once after a backoff.
	result, err := e.chatWithRetry(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrProvider, err)
	}

	// 4. Store both turns. Best-effort: the reply already exists, so a
	// storage failure only costs future recall.
	if _, err := e.manager.AddMessage(ctx, userID, conversationID, types.RoleUser, content); err != nil {
		log.Printf("engine: failed to store user turn for conversation %s: %v", conversationID, err)
	}
	if _, err := e.manager.AddMessage(ctx, userID, conversationID, types.RoleAssistant, result.Text); err != nil {
		log.Printf("engine: failed to store assistant turn for conversation %s: %v", conversationID, err)
	}

	// 5. Account usage. Provider-reported counts win; heuristics fill in
	// when a provider reports nothing.
	promptTokens, completionTokens := result.PromptTokens, result.CompletionTokens
	if promptTokens == 0 {
		promptTokens = pricing.CountMessageTokens(e.provider.Provider(), messages)
	}
	if completionTokens == 0 {
		completionTokens = pricing.CountTokens(e.provider.Provider(), result.Text)
	}
	usage := e.accountant.Record(ctx, accounting.Usage{
		UserID:           userID,
		ConversationID:   conversationID,
		Provider:         e.provider.Provider(),
		Model:            e.provider.Model(),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	})

	// 6. Compact when the conversation has reached the threshold.
	summarized := e.maybeCompact(ctx, userID, conversationID)

	e.events.TurnCompleted(userID, conversationID)

	return &ChatResponse{
		ConversationID: conversationID,
		Reply:          result.Text,
		ContextUsed:    len(contextEntries),
		Summarized:     summarized,
		Usage:          usage,
	}, nil
}

// buildPrompt assembles the provider message list for one turn.
func (e *ChatEngine) buildPrompt(ctx context.Context, userID, conversationID string, contextEntries []types.MemoryEntry, content string) []types.Message {
	system := llm.DefaultSystemPrompt
	if block := llm.ContextBlock(contextEntries); block != "" {
		system += "\n\n" + block
	}
	messages := []types.Message{{Role: types.RoleSystem, Content: system}}

	history, err := e.manager.History(ctx, userID, conversationID, 0)
	if err != nil {
		log.Printf("engine: history unavailable for conversation %s: %v", conversationID, err)
	}
	if len(history) > recentHistoryTurns {
		history = history[len(history)-recentHistoryTurns:]
	}
	for _, entry := range history {
		if entry.Role == types.RoleUser || entry.Role == types.RoleAssistant {
			messages = append(messages, types.Message{Role: entry.Role, Content: entry.Content})
		}
	}

	return append(messages, types.Message{Role: types.RoleUser, Content: content})
}

// chatWithRetry calls the provider, retrying once after a backoff. An open
// circuit breaker is not retried: the breaker exists to shed load.
func (e *ChatEngine) chatWithRetry(ctx context.Context, messages []types.Message) (*llm.ChatResult, error) {
	result, err := e.provider.Chat(ctx, messages)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, llm.ErrCircuitOpen) || ctx.Err() != nil {
		return nil, err
	}

	log.Printf("engine: provider call failed, retrying once: %v", err)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(e.retryBackoff):
	}
	return e.provider.Chat(ctx, messages)
}

// maybeCompact runs a compaction when the threshold is reached. Failures
// are logged; raw entries stay in place either way.
func (e *ChatEngine) maybeCompact(ctx context.Context, userID, conversationID string) bool {
	due, err := e.manager.NeedsCompaction(ctx, userID, conversationID)
	if err != nil {
		log.Printf("engine: threshold check failed for conversation %s: %v", conversationID, err)
		return false
	}
	if !due {
		return false
	}

	result, err := e.summarizer.SummarizeAndPrune(ctx, userID, conversationID)
	if err != nil {
		log.Printf("engine: compaction failed for conversation %s: %v", conversationID, err)
		return false
	}
	if result == nil {
		return false
	}
	e.events.SummaryCreated(userID, conversationID, result.PrunedEntries)
	return true
}
