// Package memory implements the conversation memory core: embedding and
// storing turns, retrieving relevant context, and compacting old messages
// into summaries.
package memory

import "errors"

// The memory core classifies failures so callers can pick the right
// degradation: embedding failures skip the write, store failures degrade to
// memoryless operation, provider failures are hard errors, and
// summarization failures leave raw entries untouched.
var (
	// ErrEmbedding wraps failures to produce an embedding. The turn is not
	// stored; the chat itself may still proceed.
	ErrEmbedding = errors.New("embedding failed")

	// ErrStore wraps vector store failures. Retrieval callers treat this as
	// "no context available" rather than aborting the chat.
	ErrStore = errors.New("store operation failed")

	// ErrProvider wraps chat completion failures. These are surfaced to the
	// caller; there is no useful degradation for a missing reply.
	ErrProvider = errors.New("provider request failed")

	// ErrSummarization wraps compaction failures. Fail-closed: when any
	// part of a compaction fails, no entry is deleted.
	ErrSummarization = errors.New("summarization failed")
)
