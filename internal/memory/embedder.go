package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/talvos/recall/internal/llm"
)

// Embedder validates text and produces embeddings of a fixed dimension.
// It wraps an llm.EmbeddingGenerator with the input checks the store relies
// on: no empty input, a length bound, and an exact dimension match.
type Embedder struct {
	gen       llm.EmbeddingGenerator
	dimension int
	maxChars  int
}

// NewEmbedder creates an Embedder producing vectors of the given dimension.
// maxChars bounds accepted input length; zero means 8192.
func NewEmbedder(gen llm.EmbeddingGenerator, dimension, maxChars int) (*Embedder, error) {
	if gen == nil {
		return nil, fmt.Errorf("embedder: generator is required")
	}
	if dimension < 1 {
		return nil, fmt.Errorf("embedder: dimension must be positive, got %d", dimension)
	}
	if maxChars <= 0 {
		maxChars = 8192
	}
	return &Embedder{gen: gen, dimension: dimension, maxChars: maxChars}, nil
}

// Dimension returns the embedding dimension this embedder guarantees.
func (e *Embedder) Dimension() int { return e.dimension }

// Model returns the underlying embedding model name.
func (e *Embedder) Model() string { return e.gen.Model() }

// Embed produces the embedding of text. All failures, including invalid
// input and a wrong-sized vector from the provider, wrap ErrEmbedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", ErrEmbedding)
	}
	if len(text) > e.maxChars {
		return nil, fmt.Errorf("%w: input length %d exceeds limit %d", ErrEmbedding, len(text), e.maxChars)
	}

	vec, err := e.gen.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vec) != e.dimension {
		return nil, fmt.Errorf("%w: provider returned dimension %d, expected %d",
			ErrEmbedding, len(vec), e.dimension)
	}
	return vec, nil
}
