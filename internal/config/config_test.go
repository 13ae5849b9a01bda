package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sqlite engine avoids the DSN requirement in tests that don't care about it.
func setSQLiteEngine(t *testing.T) {
	t.Helper()
	t.Setenv("RECALL_STORAGE_ENGINE", "sqlite")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setSQLiteEngine(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7272, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 20, cfg.Memory.SummarizeThreshold)
	assert.Equal(t, 10, cfg.Memory.KeepRecent)
	assert.Equal(t, 4, cfg.Memory.RetrievalTopK)
	assert.InDelta(t, 0.7, cfg.Memory.SimilarityThreshold, 1e-9)
	assert.Equal(t, 1536, cfg.Memory.EmbeddingDimension)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "openai", cfg.LLM.EmbeddingProvider)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setSQLiteEngine(t)
	t.Setenv("RECALL_PORT", "9000")
	t.Setenv("RECALL_SUMMARIZE_THRESHOLD", "30")
	t.Setenv("RECALL_SIMILARITY_THRESHOLD", "0.5")
	t.Setenv("RECALL_LLM_PROVIDER", "anthropic")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Memory.SummarizeThreshold)
	assert.InDelta(t, 0.5, cfg.Memory.SimilarityThreshold, 1e-9)
	// Anthropic cannot embed, so embeddings fall to Ollama.
	assert.Equal(t, "ollama", cfg.LLM.EmbeddingProvider)
}

func TestLoadConfig_UnparsableValuesKeepDefaults(t *testing.T) {
	setSQLiteEngine(t)
	t.Setenv("RECALL_PORT", "not-a-number")
	t.Setenv("RECALL_SIMILARITY_THRESHOLD", "high")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7272, cfg.Server.Port)
	assert.InDelta(t, 0.7, cfg.Memory.SimilarityThreshold, 1e-9)
}

func TestLoadConfig_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("RECALL_STORAGE_ENGINE", "postgres")
	t.Setenv("RECALL_POSTGRES_DSN", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RECALL_POSTGRES_DSN")
}

func TestValidate_KeepRecentBelowThreshold(t *testing.T) {
	setSQLiteEngine(t)
	t.Setenv("RECALL_KEEP_RECENT", "25")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keep recent")
}

func TestValidate_UnknownEngine(t *testing.T) {
	t.Setenv("RECALL_STORAGE_ENGINE", "etcd")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage engine")
}
