package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talvos/recall/pkg/types"
)

func TestLoadTable(t *testing.T) {
	table, err := LoadTable()
	require.NoError(t, err)

	assert.True(t, table.IsSupported("openai", "gpt-4.1"))
	assert.True(t, table.IsSupported("anthropic", "claude-sonnet-4-20250514"))
	assert.True(t, table.IsSupported("gemini", "gemini-2.5-flash"))
	assert.False(t, table.IsSupported("openai", "gpt-9"))
	assert.NotEmpty(t, table.SupportedModels("openai"))
}

func TestEstimate_ExactModel(t *testing.T) {
	// gpt-4.1: $0.002/1K input, $0.008/1K output.
	cost := Estimate("openai", "gpt-4.1", 1000, 1000)
	assert.InDelta(t, 0.010, cost, 1e-9)
}

func TestEstimate_FuzzyMatching(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		wantAs   string
	}{
		{"dated gpt-4.1 snapshot", "openai", "gpt-4.1-2025-04-14", "gpt-4.1"},
		{"gpt-4.1 mini variant", "openai", "gpt-4.1-mini-2025-04-14", "gpt-4.1-mini"},
		{"o3 pro", "openai", "o3-pro-2025-06-10", "o3-pro"},
		{"gpt-4o snapshot", "openai", "gpt-4o-2024-11-20", "gpt-4o"},
		{"sonnet 4 alias", "anthropic", "claude-sonnet-4", "claude-sonnet-4-20250514"},
		{"opus 4 alias", "anthropic", "claude-opus-4-1", "claude-opus-4-20250514"},
		{"claude 3 haiku alias", "anthropic", "claude-3-haiku", "claude-3-haiku-20240307"},
		{"gemini 2.5 flash lite", "gemini", "models/gemini-2.5-flash-lite", "gemini-2.5-flash-lite"},
		{"gemini 2.0 default", "gemini", "gemini-2.0-flash-001", "gemini-2.0-flash"},
	}

	table, err := LoadTable()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := table.Lookup(tt.provider, tt.model)
			require.True(t, ok)
			want, ok := table.Lookup(tt.provider, tt.wantAs)
			require.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
}

func TestEstimate_UnknownModelCostsZero(t *testing.T) {
	assert.Zero(t, Estimate("openai", "totally-made-up", 5000, 5000))
	assert.Zero(t, Estimate("acme", "gpt-4.1", 5000, 5000))
	assert.Zero(t, Estimate("", "", 5000, 5000))
}

func TestEstimate_NegativeTokensClampToZero(t *testing.T) {
	assert.Zero(t, Estimate("openai", "gpt-4.1", -100, -100))
}

func TestEstimate_Monotonic(t *testing.T) {
	// More tokens never cost less.
	prev := 0.0
	for tokens := 0; tokens <= 10000; tokens += 500 {
		cost := Estimate("anthropic", "claude-sonnet-4-20250514", tokens, tokens)
		assert.GreaterOrEqual(t, cost, prev, "cost must be non-decreasing in token count")
		prev = cost
	}
}

func TestCountTokens(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog"

	// 9 words * 1.3.
	assert.Equal(t, 11, CountTokens("openai", text))
	// 43 chars / 3.8.
	assert.Equal(t, 11, CountTokens("anthropic", text))
	// 43 chars / 3.7.
	assert.Equal(t, 11, CountTokens("gemini", text))
	// Unknown providers fall back to a word count.
	assert.Equal(t, 9, CountTokens("acme", text))

	assert.Zero(t, CountTokens("openai", ""))
	// Short non-empty text still counts at least one token.
	assert.Equal(t, 1, CountTokens("anthropic", "hi"))
}

func TestCountMessageTokens(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleSystem, Content: "You are helpful."},
		{Role: types.RoleUser, Content: "Hello there, how are you today?"},
	}

	perMessage := CountTokens("openai", messages[0].Content) +
		CountTokens("openai", messages[1].Content)
	want := perMessage + 2*4 + 3

	assert.Equal(t, want, CountMessageTokens("openai", messages))
	assert.Equal(t, 3, CountMessageTokens("openai", nil), "empty conversations still carry framing overhead")
}
