package llm

import (
	"fmt"
	"strings"

	"github.com/talvos/recall/pkg/types"
)

// DefaultSystemPrompt is the base system message for chat turns.
const DefaultSystemPrompt = "You are a helpful AI assistant. Be concise and helpful."

// SummaryPrompt builds the single-turn prompt asking a provider to condense
// a transcript.
func SummaryPrompt(conversationText string) string {
	return fmt.Sprintf("Please provide a concise summary of the following conversation:\n\n%s", conversationText)
}

// TranscriptText renders entries as "role: content" lines, one per turn, in
// the order given.
func TranscriptText(entries []types.MemoryEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Role, e.Content))
	}
	return strings.Join(lines, "\n")
}

// ContextBlock renders retrieved memories for injection into the system
// prompt. Returns "" when nothing was retrieved, so callers can skip the
// section entirely.
func ContextBlock(memories []types.MemoryEntry) string {
	if len(memories) == 0 {
		return ""
	}
	lines := make([]string, 0, len(memories))
	for _, mem := range memories {
		lines = append(lines, fmt.Sprintf("Previous %s: %s", mem.Role, mem.Content))
	}
	return "Relevant context from previous conversation:\n" + strings.Join(lines, "\n")
}
