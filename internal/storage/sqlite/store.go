// Package sqlite provides an embedded fallback storage backend.
//
// It implements the full storage.Store surface on a single SQLite file (or
// :memory: database). Embeddings are stored as little-endian float32 BLOBs
// and similarity is computed in-process, so search cost is linear in the
// number of a user's entries. That is acceptable for the development and
// test workloads this backend exists for; production deployments use the
// PostgreSQL backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/talvos/recall/internal/storage"
	"github.com/talvos/recall/pkg/types"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db        *sql.DB
	dimension int
}

var _ storage.Store = (*Store)(nil)

// NewStore opens (or creates) a SQLite database at dsn and applies the
// schema. The embedding dimension is fixed for the lifetime of the store.
func NewStore(dsn string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidInput)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes (including compactions) and avoids SQLITE_BUSY
	// errors under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db, dimension: dimension}, nil
}

// Dimension returns the configured embedding dimension.
func (s *Store) Dimension() int { return s.dimension }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Insert persists a new memory entry.
func (s *Store) Insert(ctx context.Context, entry *types.MemoryEntry) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if len(entry.Embedding) != s.dimension {
		return fmt.Errorf("%w: got %d, store configured for %d",
			storage.ErrDimension, len(entry.Embedding), s.dimension)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO memory_entries (id, user_id, conversation_id, role, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.ConversationID,
		string(entry.Role),
		entry.Content,
		serializeEmbedding(entry.Embedding),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert entry: %w", err)
	}
	return nil
}

// Search loads the candidate rows for the owner, scores them in-process with
// the inner product, then applies the threshold floor and the top-K cap.
func (s *Store) Search(ctx context.Context, query []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	if err := opts.Normalize(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store configured for %d",
			storage.ErrDimension, len(query), s.dimension)
	}

	sqlQuery := `
		SELECT id, user_id, conversation_id, role, content, embedding, created_at
		FROM memory_entries
		WHERE user_id = ?
	`
	args := []any{opts.UserID}
	if opts.ConversationID != "" {
		sqlQuery += " AND conversation_id = ?"
		args = append(args, opts.ConversationID)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query entries: %w", err)
	}
	defer rows.Close()

	var results []storage.SearchResult
	for rows.Next() {
		var entry types.MemoryEntry
		var role string
		var blob []byte
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.ConversationID,
			&role, &entry.Content, &blob, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan entry: %w", err)
		}
		entry.Role = types.Role(role)

		embedding, err := deserializeEmbedding(blob, s.dimension)
		if err != nil {
			return nil, fmt.Errorf("sqlite: entry %s: %w", entry.ID, err)
		}
		entry.Embedding = embedding

		sim := innerProduct(embedding, query)
		if sim < opts.Threshold {
			continue
		}
		results = append(results, storage.SearchResult{Entry: entry, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate entries: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if !results[i].Entry.CreatedAt.Equal(results[j].Entry.CreatedAt) {
			return results[i].Entry.CreatedAt.Before(results[j].Entry.CreatedAt)
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// Delete removes entries by id. Missing ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf("DELETE FROM memory_entries WHERE id IN (%s)", placeholders(len(ids)))
	if _, err := s.db.ExecContext(ctx, query, stringArgs(ids)...); err != nil {
		return fmt.Errorf("sqlite: failed to delete entries: %w", err)
	}
	return nil
}

// CountMessages returns the live entry count of a conversation.
func (s *Store) CountMessages(ctx context.Context, userID, conversationID string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM memory_entries
		WHERE user_id = ? AND conversation_id = ?
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, userID, conversationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count messages: %w", err)
	}
	return count, nil
}

// ListConversation returns up to limit entries in chronological order.
func (s *Store) ListConversation(ctx context.Context, userID, conversationID string, limit int) ([]types.MemoryEntry, error) {
	// LIMIT -1 means no limit; callers pass limit < 1 to read the whole
	// conversation (exports and compactions must never truncate).
	if limit < 1 {
		limit = -1
	}

	const query = `
		SELECT id, user_id, conversation_id, role, content, embedding, created_at
		FROM memory_entries
		WHERE user_id = ? AND conversation_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list conversation: %w", err)
	}
	defer rows.Close()

	var entries []types.MemoryEntry
	for rows.Next() {
		var entry types.MemoryEntry
		var role string
		var blob []byte
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.ConversationID,
			&role, &entry.Content, &blob, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan entry: %w", err)
		}
		entry.Role = types.Role(role)
		if entry.Embedding, err = deserializeEmbedding(blob, s.dimension); err != nil {
			return nil, fmt.Errorf("sqlite: entry %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListConversations returns the distinct conversation ids owned by a user.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]string, error) {
	const query = `
		SELECT DISTINCT conversation_id FROM memory_entries
		WHERE user_id = ?
		ORDER BY conversation_id
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteConversation removes every entry and summary of one conversation.
func (s *Store) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM memory_entries WHERE user_id = ? AND conversation_id = ?",
		userID, conversationID); err != nil {
		return fmt.Errorf("sqlite: failed to delete conversation entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM summaries WHERE user_id = ? AND conversation_id = ?",
		userID, conversationID); err != nil {
		return fmt.Errorf("sqlite: failed to delete conversation summaries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit conversation delete: %w", err)
	}
	return nil
}

// ApplySummary inserts the summary and deletes the summarized entries in one
// transaction. The single-connection pool serialises competing compactions;
// whichever loses the race finds its window already pruned and fails with
// ErrAlreadyCompacted instead of writing a duplicate summary.
func (s *Store) ApplySummary(ctx context.Context, summary *types.Summary, entryIDs []string) error {
	if summary == nil || summary.ID == "" || summary.UserID == "" ||
		summary.ConversationID == "" || summary.SummaryText == "" {
		return fmt.Errorf("%w: summary requires id, user, conversation and text", storage.ErrInvalidInput)
	}
	if len(entryIDs) == 0 {
		return fmt.Errorf("%w: no entries to summarize", storage.ErrInvalidInput)
	}

	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Delete before inserting so a stale window is caught inside the
	// transaction: a concurrent compaction that won the race already
	// removed some of these ids.
	deleteQuery := fmt.Sprintf("DELETE FROM memory_entries WHERE id IN (%s)", placeholders(len(entryIDs)))
	res, err := tx.ExecContext(ctx, deleteQuery, stringArgs(entryIDs)...)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete summarized entries: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to count deleted entries: %w", err)
	}
	if deleted != int64(len(entryIDs)) {
		return fmt.Errorf("%w: only %d of %d entries were still present", storage.ErrAlreadyCompacted, deleted, len(entryIDs))
	}

	const insertQuery = `
		INSERT INTO summaries (id, user_id, conversation_id, summary_text, messages_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insertQuery,
		summary.ID, summary.UserID, summary.ConversationID,
		summary.SummaryText, summary.MessagesCount, summary.CreatedAt,
	); err != nil {
		return fmt.Errorf("sqlite: failed to insert summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit compaction: %w", err)
	}
	return nil
}

// ListSummaries returns the summaries of a conversation in creation order.
func (s *Store) ListSummaries(ctx context.Context, userID, conversationID string) ([]types.Summary, error) {
	const query = `
		SELECT id, user_id, conversation_id, summary_text, messages_count, created_at
		FROM summaries
		WHERE user_id = ? AND conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list summaries: %w", err)
	}
	defer rows.Close()

	var summaries []types.Summary
	for rows.Next() {
		var sum types.Summary
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.ConversationID,
			&sum.SummaryText, &sum.MessagesCount, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// RecordUsage appends one usage record to the ledger.
func (s *Store) RecordUsage(ctx context.Context, rec *types.UsageRecord) error {
	if rec == nil || rec.ID == "" || rec.UserID == "" || rec.Provider == "" || rec.Model == "" {
		return fmt.Errorf("%w: usage record requires id, user, provider and model", storage.ErrInvalidInput)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO usage_records (id, user_id, provider, model, prompt_tokens,
			completion_tokens, total_tokens, estimated_cost, conversation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.EstimatedCost, nullableString(rec.ConversationID), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to record usage: %w", err)
	}
	return nil
}

// Aggregate returns usage totals grouped by provider and model.
func (s *Store) Aggregate(ctx context.Context, userID string, since time.Time) ([]storage.UsageTotals, error) {
	query := `
		SELECT provider, model, COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(estimated_cost), 0)
		FROM usage_records
	`
	var conditions []string
	var args []any
	if userID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, userID)
	}
	if !since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, since)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " GROUP BY provider, model ORDER BY provider, model"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var totals []storage.UsageTotals
	for rows.Next() {
		var t storage.UsageTotals
		if err := rows.Scan(&t.Provider, &t.Model, &t.Requests, &t.TotalTokens, &t.EstimatedCost); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan usage totals: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// CreateUser inserts a user row.
func (s *Store) CreateUser(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO users (id) VALUES (?)", id); err != nil {
		return fmt.Errorf("sqlite: failed to create user: %w", err)
	}
	return nil
}

// DeleteUser removes a user; owned rows cascade.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// innerProduct computes the dot product of two equal-length vectors in
// float64 to avoid accumulating float32 rounding error.
func innerProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// serializeEmbedding converts a float32 slice to little-endian bytes.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding converts little-endian bytes back to a float32 slice.
// dimension validates the buffer size.
func deserializeEmbedding(buf []byte, dimension int) ([]float32, error) {
	if len(buf) != dimension*4 {
		return nil, fmt.Errorf("embedding blob size mismatch: expected %d bytes, got %d", dimension*4, len(buf))
	}
	embedding := make([]float32, dimension)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return embedding, nil
}

// placeholders returns n comma-separated "?" placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// stringArgs converts a string slice to []any for ExecContext.
func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// nullableString converts an empty string to NULL.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
