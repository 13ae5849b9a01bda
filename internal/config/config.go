// Package config provides configuration management for Recall.
// It loads settings from environment variables with the RECALL_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration settings for the Recall service.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	LLM      LLMConfig
	Memory   MemoryConfig
	Security SecurityConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 7272)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Engine      string // Storage engine: postgres, sqlite (default: postgres)
	PostgresDSN string // PostgreSQL connection string
	SQLitePath  string // Path to the SQLite database file (default: ./data/recall.db)

	// BackupDir enables periodic SQLite snapshots when set. Ignored for the
	// postgres engine, which has its own backup tooling.
	BackupDir         string
	BackupIntervalMin int // Minutes between snapshots (default: 60)
	BackupKeep        int // Newest snapshots to retain (default: 24)
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	Provider             string // Chat provider: openai, anthropic, gemini, ollama (default: openai)
	EmbeddingProvider    string // Embedding provider: openai, ollama (default: derived from Provider)
	OpenAIAPIKey         string // OpenAI API key
	OpenAIModel          string // OpenAI chat model (default: gpt-4o-mini)
	OpenAIEmbeddingModel string // OpenAI embedding model (default: text-embedding-3-small)
	AnthropicAPIKey      string // Anthropic API key
	AnthropicModel       string // Anthropic model (default: claude-3-5-sonnet-20241022)
	GeminiAPIKey         string // Google Gemini API key
	GeminiModel          string // Gemini model (default: gemini-1.5-flash)
	OllamaURL            string // Ollama API URL (default: http://localhost:11434)
	OllamaModel          string // Ollama chat model (default: qwen2.5:7b)
	OllamaEmbeddingModel string // Ollama embedding model (default: nomic-embed-text)
}

// MemoryConfig tunes the conversation memory core.
type MemoryConfig struct {
	// EmbeddingDimension is the vector dimension the store is created with.
	// All embeddings must match it exactly (default: 1536).
	EmbeddingDimension int

	// SummarizeThreshold is the per-conversation message count at which a
	// compaction is triggered (default: 20).
	SummarizeThreshold int

	// KeepRecent is how many of the newest messages survive a compaction
	// verbatim (default: 10).
	KeepRecent int

	// RetrievalTopK caps how many entries a context retrieval returns
	// (default: 4).
	RetrievalTopK int

	// SimilarityThreshold is the minimum inner-product similarity an entry
	// needs to be retrieved (default: 0.7).
	SimilarityThreshold float64

	// MaxEmbedChars bounds the text length accepted for embedding
	// (default: 8192). Longer inputs are rejected, not truncated.
	MaxEmbedChars int
}

// SecurityConfig contains authentication and rate limiting settings.
type SecurityConfig struct {
	APIToken       string  // Bearer token for the HTTP API; empty disables auth
	RateLimitRPS   float64 // Sustained requests per second per client (default: 10)
	RateLimitBurst int     // Burst allowance per client (default: 20)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the RECALL_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("RECALL_PORT", 7272),
			Host: getEnv("RECALL_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			Engine:            getEnv("RECALL_STORAGE_ENGINE", "postgres"),
			PostgresDSN:       getEnv("RECALL_POSTGRES_DSN", ""),
			SQLitePath:        getEnv("RECALL_SQLITE_PATH", "./data/recall.db"),
			BackupDir:         getEnv("RECALL_BACKUP_DIR", ""),
			BackupIntervalMin: getEnvInt("RECALL_BACKUP_INTERVAL_MIN", 60),
			BackupKeep:        getEnvInt("RECALL_BACKUP_KEEP", 24),
		},
		LLM: LLMConfig{
			Provider:             getEnv("RECALL_LLM_PROVIDER", "openai"),
			EmbeddingProvider:    getEnv("RECALL_EMBEDDING_PROVIDER", ""),
			OpenAIAPIKey:         getEnv("RECALL_OPENAI_API_KEY", ""),
			OpenAIModel:          getEnv("RECALL_OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIEmbeddingModel: getEnv("RECALL_OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			AnthropicAPIKey:      getEnv("RECALL_ANTHROPIC_API_KEY", ""),
			AnthropicModel:       getEnv("RECALL_ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
			GeminiAPIKey:         getEnv("RECALL_GEMINI_API_KEY", ""),
			GeminiModel:          getEnv("RECALL_GEMINI_MODEL", "gemini-1.5-flash"),
			OllamaURL:            getEnv("RECALL_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:          getEnv("RECALL_OLLAMA_MODEL", "qwen2.5:7b"),
			OllamaEmbeddingModel: getEnv("RECALL_OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		},
		Memory: MemoryConfig{
			EmbeddingDimension:  getEnvInt("RECALL_EMBEDDING_DIMENSION", 1536),
			SummarizeThreshold:  getEnvInt("RECALL_SUMMARIZE_THRESHOLD", 20),
			KeepRecent:          getEnvInt("RECALL_KEEP_RECENT", 10),
			RetrievalTopK:       getEnvInt("RECALL_RETRIEVAL_TOP_K", 4),
			SimilarityThreshold: getEnvFloat("RECALL_SIMILARITY_THRESHOLD", 0.7),
			MaxEmbedChars:       getEnvInt("RECALL_MAX_EMBED_CHARS", 8192),
		},
		Security: SecurityConfig{
			APIToken:       getEnv("RECALL_API_TOKEN", ""),
			RateLimitRPS:   getEnvFloat("RECALL_RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("RECALL_RATE_LIMIT_BURST", 20),
		},
	}

	// EmbeddingProvider defaults to the chat provider when it can embed;
	// Anthropic and Gemini have no embedding endpoint here, so fall back
	// to Ollama.
	if cfg.LLM.EmbeddingProvider == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.EmbeddingProvider = "openai"
		default:
			cfg.LLM.EmbeddingProvider = "ollama"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail in confusing ways at
// runtime.
func (c *Config) Validate() error {
	if c.Memory.EmbeddingDimension < 1 {
		return fmt.Errorf("config: embedding dimension must be positive, got %d", c.Memory.EmbeddingDimension)
	}
	if c.Memory.SummarizeThreshold < 2 {
		return fmt.Errorf("config: summarize threshold must be at least 2, got %d", c.Memory.SummarizeThreshold)
	}
	if c.Memory.KeepRecent < 0 || c.Memory.KeepRecent >= c.Memory.SummarizeThreshold {
		return fmt.Errorf("config: keep recent must be in [0, threshold), got %d with threshold %d",
			c.Memory.KeepRecent, c.Memory.SummarizeThreshold)
	}
	if c.Memory.RetrievalTopK < 1 {
		return fmt.Errorf("config: retrieval top-k must be positive, got %d", c.Memory.RetrievalTopK)
	}
	switch c.Storage.Engine {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: RECALL_POSTGRES_DSN is required with the postgres engine")
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the variable exists but cannot be parsed, it returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. If the variable exists but cannot be parsed, it returns the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
