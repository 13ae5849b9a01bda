package llm

import (
	"strings"
	"unicode"
)

// Chunker splits a long transcript into provider-sized pieces. Splitting is
// sentence-aware so a summary prompt never starts mid-sentence, with a
// configurable overlap to preserve context across pieces.
type Chunker struct {
	MaxChunkSize int // maximum chunk size in estimated tokens (default: 3000)
	Overlap      int // overlap between chunks in estimated tokens (default: 200)
}

// EstimateTokens gives a rough token count for sizing chunks: about four
// characters per token for English text.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Chunk splits content into overlapping chunks. Content that fits within
// MaxChunkSize is returned unchanged as a single chunk.
func (c *Chunker) Chunk(content string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	maxSize := c.MaxChunkSize
	if maxSize <= 0 {
		maxSize = 3000
	}
	overlap := c.Overlap
	if overlap <= 0 {
		overlap = 200
	}

	if EstimateTokens(content) <= maxSize {
		return []string{content}
	}

	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	currentTokens := 0
	var kept []string // sentences of the current chunk, for overlap

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, current.String())
		current.Reset()
		currentTokens = 0

		// Seed the next chunk with the tail of the previous one.
		start := len(kept)
		overlapTokens := 0
		for i := len(kept) - 1; i >= 0; i-- {
			t := EstimateTokens(kept[i])
			if overlapTokens+t > overlap {
				break
			}
			overlapTokens += t
			start = i
		}
		kept = kept[start:]
		for _, s := range kept {
			current.WriteString(s)
			currentTokens += EstimateTokens(s)
		}
	}

	for _, sentence := range sentences {
		t := EstimateTokens(sentence)
		if currentTokens+t > maxSize && currentTokens > 0 {
			flush()
		}
		current.WriteString(sentence)
		currentTokens += t
		kept = append(kept, sentence)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitSentences breaks text on sentence-ending punctuation followed by
// whitespace, keeping the punctuation and trailing space with the sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}
