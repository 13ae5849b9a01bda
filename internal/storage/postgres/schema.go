// Package postgres provides the PostgreSQL implementation of the Recall
// storage interfaces, backed by pgvector for similarity search.
package postgres

import "fmt"

// schema returns the SQL statements that create the database schema.
// All statements are idempotent (IF NOT EXISTS). The embedding column is
// typed to the configured dimension so the database itself rejects
// mixed-dimension inserts.
func schema(dimension int) string {
	return fmt.Sprintf(`
-- Users: opaque identities that own everything below.
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Memory entries: one row per conversation turn, with its embedding.
CREATE TABLE IF NOT EXISTS memory_entries (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    conversation_id UUID NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    content TEXT NOT NULL,
    embedding vector(%d) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Summaries: append-only compaction records, one per pruned window.
CREATE TABLE IF NOT EXISTS summaries (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    conversation_id UUID NOT NULL,
    summary_text TEXT NOT NULL,
    messages_count INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Usage records: append-only token/cost ledger, never deleted by the core.
CREATE TABLE IF NOT EXISTS usage_records (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    prompt_tokens INTEGER NOT NULL,
    completion_tokens INTEGER NOT NULL,
    total_tokens INTEGER NOT NULL,
    estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    conversation_id UUID,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Conversation scans: count, chronological listing, pruning.
CREATE INDEX IF NOT EXISTS idx_entries_user_conversation
    ON memory_entries(user_id, conversation_id, created_at, id);

-- Ledger aggregation by user and time window.
CREATE INDEX IF NOT EXISTS idx_usage_user_created
    ON usage_records(user_id, created_at);

CREATE INDEX IF NOT EXISTS idx_summaries_user_conversation
    ON summaries(user_id, conversation_id, created_at);
`, dimension)
}

// migrationIVFFlat creates the approximate nearest-neighbor index for inner
// product search. ivfflat requires at least one row to exist, so the
// statement is guarded; the index is picked up on a later restart once data
// has accumulated.
const migrationIVFFlat = `
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_entries_embedding_ip'
  ) THEN
    IF EXISTS (SELECT 1 FROM memory_entries LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_entries_embedding_ip ON memory_entries USING ivfflat (embedding vector_ip_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
