package pricing

import (
	"strings"

	"github.com/talvos/recall/pkg/types"
)

// Per-message and per-conversation formatting overhead, matching the
// chat-completions message framing.
const (
	messageOverheadTokens      = 4
	conversationOverheadTokens = 3
)

// CountTokens estimates the token count of text for a provider. These are
// heuristics tuned per tokenizer family, not exact counts; exact usage comes
// back in provider responses and takes precedence when available.
func CountTokens(provider, text string) int {
	if text == "" {
		return 0
	}
	switch strings.ToLower(provider) {
	case "openai":
		// Roughly 1.3 tokens per English word under cl100k-family encodings.
		return int(float64(len(strings.Fields(text))) * 1.3)
	case "anthropic":
		// Claude averages just under 4 characters per token.
		return max(1, len(text)*10/38)
	case "gemini":
		return max(1, len(text)*10/37)
	default:
		return len(strings.Fields(text))
	}
}

// CountMessageTokens estimates the total prompt tokens of a message list,
// including role and framing overhead.
func CountMessageTokens(provider string, messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += CountTokens(provider, msg.Content)
		total += messageOverheadTokens
	}
	return total + conversationOverheadTokens
}
