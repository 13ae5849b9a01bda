package storage

import (
	"errors"

	"github.com/talvos/recall/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimension indicates an embedding whose length does not match the
	// store's configured dimension. Mixing dimensions must fail, never
	// silently truncate.
	ErrDimension = errors.New("embedding dimension mismatch")

	// ErrAlreadyCompacted indicates a compaction whose window was already
	// consumed by a concurrent compaction. The summary was not written.
	ErrAlreadyCompacted = errors.New("entries already compacted")
)

// SearchOptions scopes and bounds a similarity query.
type SearchOptions struct {
	// UserID scopes results to one owner. Required: a search without an
	// owner is rejected so cross-user leakage cannot happen by omission.
	UserID string

	// ConversationID optionally narrows results to one conversation.
	// Empty means all of the user's conversations.
	ConversationID string

	// Threshold is the minimum similarity (inner product) a row must reach
	// to be returned. Acts as the relevance floor of the two-stage filter.
	Threshold float64

	// TopK caps the number of rows returned (the hard cap of the two-stage
	// filter). Values < 1 fall back to the default of 4.
	TopK int
}

// Normalize applies defaults and validates the options.
func (o *SearchOptions) Normalize() error {
	if o.UserID == "" {
		return errors.New("search: user id is required")
	}
	if o.TopK < 1 {
		o.TopK = 4
	}
	if o.TopK > 100 {
		o.TopK = 100
	}
	return nil
}

// SearchResult pairs a retrieved entry with its similarity to the query
// vector. Similarity is the inner product between stored and query vectors
// (cosine similarity for normalized vectors), not Euclidean distance.
type SearchResult struct {
	Entry      types.MemoryEntry
	Similarity float64
}

// UsageTotals is one aggregation bucket of the usage ledger.
type UsageTotals struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	Requests      int     `json:"requests"`
	TotalTokens   int     `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}
