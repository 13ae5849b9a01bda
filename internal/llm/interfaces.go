// Package llm provides clients for the supported chat and embedding
// providers. All clients wrap their HTTP calls in a circuit breaker so a
// misbehaving provider fails fast instead of piling up requests.
package llm

import (
	"context"

	"github.com/talvos/recall/pkg/types"
)

// ChatResult is the outcome of one chat completion.
type ChatResult struct {
	// Text is the assistant's reply.
	Text string

	// PromptTokens and CompletionTokens are the provider-reported usage
	// counts. Zero when the provider did not report usage; callers fall
	// back to heuristic counting in that case.
	PromptTokens     int
	CompletionTokens int
}

// ChatProvider is the interface for multi-turn chat completion.
type ChatProvider interface {
	Chat(ctx context.Context, messages []types.Message) (*ChatResult, error)

	// Provider returns the lowercase provider name ("openai", "anthropic",
	// "gemini", "ollama").
	Provider() string

	// Model returns the configured model name.
	Model() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}
