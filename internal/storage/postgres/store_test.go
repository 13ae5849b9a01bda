package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talvos/recall/internal/storage"
	"github.com/talvos/recall/internal/storage/postgres"
	"github.com/talvos/recall/pkg/types"
)

const testDimension = 4

// postgresTestDSN returns the DSN for the test database. If
// POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh Store connected to the test database with a
// small embedding dimension, truncates all tables, and registers cleanup.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	store, err := postgres.NewStore(postgresTestDSN(t), testDimension)
	require.NoError(t, err, "NewStore should succeed")

	require.NoError(t, store.TruncateForTest(context.Background()))

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// newTestUser inserts a user row and returns its id.
func newTestUser(t *testing.T, store *postgres.Store) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, store.CreateUser(context.Background(), id))
	return id
}

// newTestEntry builds a valid entry owned by userID in conversationID.
func newTestEntry(userID, conversationID string, embedding []float32) *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           types.RoleUser,
		Content:        "test content",
		Embedding:      embedding,
	}
}

func TestInsert_DimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)

	entry := newTestEntry(user, uuid.NewString(), []float32{1, 0, 0}) // 3 != 4
	err := store.Insert(context.Background(), entry)
	assert.ErrorIs(t, err, storage.ErrDimension)
}

func TestInsert_InvalidEntry(t *testing.T) {
	store := newTestStore(t)
	err := store.Insert(context.Background(), &types.MemoryEntry{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSearch_SelfSimilarity(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)
	conv := uuid.NewString()

	vec := []float32{1, 0, 0, 0}
	entry := newTestEntry(user, conv, vec)
	require.NoError(t, store.Insert(context.Background(), entry))

	results, err := store.Search(context.Background(), vec, storage.SearchOptions{
		UserID:    user,
		Threshold: 0.9,
		TopK:      4,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, entry.ID, results[0].Entry.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestSearch_CrossUserIsolation(t *testing.T) {
	store := newTestStore(t)
	userA := newTestUser(t, store)
	userB := newTestUser(t, store)

	vec := []float32{0, 1, 0, 0}
	require.NoError(t, store.Insert(context.Background(), newTestEntry(userB, uuid.NewString(), vec)))

	results, err := store.Search(context.Background(), vec, storage.SearchOptions{
		UserID:    userA,
		Threshold: 0.0,
		TopK:      10,
	})
	require.NoError(t, err)
	assert.Empty(t, results, "user A must never see user B's entries")
}

func TestSearch_ThresholdFiltersWeakMatches(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)
	conv := uuid.NewString()

	// Best similarity against the query is 0.6.
	require.NoError(t, store.Insert(context.Background(),
		newTestEntry(user, conv, []float32{0.6, 0.8, 0, 0})))

	results, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, storage.SearchOptions{
		UserID:    user,
		Threshold: 0.95,
		TopK:      4,
	})
	require.NoError(t, err)
	assert.Empty(t, results, "below-threshold matches are filtered, not an error")
}

func TestSearch_OrderedByDescendingSimilarity(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)
	conv := uuid.NewString()

	far := newTestEntry(user, conv, []float32{0, 1, 0, 0})
	near := newTestEntry(user, conv, []float32{1, 0, 0, 0})
	mid := newTestEntry(user, conv, []float32{0.7071, 0.7071, 0, 0})
	for _, e := range []*types.MemoryEntry{far, near, mid} {
		require.NoError(t, store.Insert(context.Background(), e))
	}

	results, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, storage.SearchOptions{
		UserID:    user,
		Threshold: -1,
		TopK:      3,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, near.ID, results[0].Entry.ID)
	assert.Equal(t, mid.ID, results[1].Entry.ID)
	assert.Equal(t, far.ID, results[2].Entry.ID)
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
	assert.GreaterOrEqual(t, results[1].Similarity, results[2].Similarity)
}

func TestSearch_ConversationScoping(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)
	convA := uuid.NewString()
	convB := uuid.NewString()

	vec := []float32{1, 0, 0, 0}
	inA := newTestEntry(user, convA, vec)
	require.NoError(t, store.Insert(context.Background(), inA))
	require.NoError(t, store.Insert(context.Background(), newTestEntry(user, convB, vec)))

	results, err := store.Search(context.Background(), vec, storage.SearchOptions{
		UserID:         user,
		ConversationID: convA,
		Threshold:      0.5,
		TopK:           10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, inA.ID, results[0].Entry.ID)
}

func TestDelete_Idempotent(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)
	conv := uuid.NewString()

	entry := newTestEntry(user, conv, []float32{1, 0, 0, 0})
	require.NoError(t, store.Insert(context.Background(), entry))

	require.NoError(t, store.Delete(context.Background(), []string{entry.ID}))
	// Second delete of the same id set is a no-op, not an error.
	require.NoError(t, store.Delete(context.Background(), []string{entry.ID}))

	count, err := store.CountMessages(context.Background(), user, conv)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestListConversation_ChronologicalOrder(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)
	conv := uuid.NewString()

	base := time.Now().UTC().Add(-time.Hour)
	var want []string
	for i := 0; i < 5; i++ {
		e := newTestEntry(user, conv, []float32{1, 0, 0, 0})
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Insert(context.Background(), e))
		want = append(want, e.ID)
	}

	entries, err := store.ListConversation(context.Background(), user, conv, 50)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, want[i], e.ID)
	}
}

func TestApplySummary_AtomicReplace(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)
	conv := uuid.NewString()

	var ids []string
	for i := 0; i < 3; i++ {
		e := newTestEntry(user, conv, []float32{1, 0, 0, 0})
		require.NoError(t, store.Insert(context.Background(), e))
		ids = append(ids, e.ID)
	}

	sum := &types.Summary{
		ID:             uuid.NewString(),
		UserID:         user,
		ConversationID: conv,
		SummaryText:    "condensed",
		MessagesCount:  3,
	}
	require.NoError(t, store.ApplySummary(context.Background(), sum, ids))

	count, err := store.CountMessages(context.Background(), user, conv)
	require.NoError(t, err)
	assert.Zero(t, count, "summarized entries must be pruned")

	summaries, err := store.ListSummaries(context.Background(), user, conv)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 3, summaries[0].MessagesCount)
}

func TestApplySummary_LostRaceRejected(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)
	conv := uuid.NewString()

	var ids []string
	for i := 0; i < 3; i++ {
		e := newTestEntry(user, conv, []float32{1, 0, 0, 0})
		require.NoError(t, store.Insert(context.Background(), e))
		ids = append(ids, e.ID)
	}

	winner := &types.Summary{
		ID:             uuid.NewString(),
		UserID:         user,
		ConversationID: conv,
		SummaryText:    "winner",
		MessagesCount:  3,
	}
	require.NoError(t, store.ApplySummary(context.Background(), winner, ids))

	// A compaction that selected the same window before the winner
	// committed must be rejected, not stack a second summary.
	loser := &types.Summary{
		ID:             uuid.NewString(),
		UserID:         user,
		ConversationID: conv,
		SummaryText:    "loser",
		MessagesCount:  3,
	}
	err := store.ApplySummary(context.Background(), loser, ids)
	assert.ErrorIs(t, err, storage.ErrAlreadyCompacted)

	summaries, err := store.ListSummaries(context.Background(), user, conv)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "winner", summaries[0].SummaryText)
}

func TestDeleteConversation_RemovesSummaries(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)
	conv := uuid.NewString()

	entry := newTestEntry(user, conv, []float32{1, 0, 0, 0})
	require.NoError(t, store.Insert(context.Background(), entry))
	require.NoError(t, store.ApplySummary(context.Background(), &types.Summary{
		ID:             uuid.NewString(),
		UserID:         user,
		ConversationID: conv,
		SummaryText:    "condensed",
		MessagesCount:  1,
	}, []string{entry.ID}))

	require.NoError(t, store.DeleteConversation(context.Background(), user, conv))

	summaries, err := store.ListSummaries(context.Background(), user, conv)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestApplySummary_RequiresText(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)

	err := store.ApplySummary(context.Background(), &types.Summary{
		ID:             uuid.NewString(),
		UserID:         user,
		ConversationID: uuid.NewString(),
	}, []string{uuid.NewString()})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestUsage_RecordAndAggregate(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)

	for i := 0; i < 2; i++ {
		require.NoError(t, store.RecordUsage(context.Background(), &types.UsageRecord{
			ID:               uuid.NewString(),
			UserID:           user,
			Provider:         "openai",
			Model:            "gpt-4.1",
			PromptTokens:     100,
			CompletionTokens: 50,
			TotalTokens:      150,
			EstimatedCost:    0.001,
		}))
	}

	totals, err := store.Aggregate(context.Background(), user, time.Time{})
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "openai", totals[0].Provider)
	assert.Equal(t, 2, totals[0].Requests)
	assert.Equal(t, 300, totals[0].TotalTokens)
	assert.InDelta(t, 0.002, totals[0].EstimatedCost, 1e-9)
}

func TestDeleteUser_Cascades(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store)
	conv := uuid.NewString()

	require.NoError(t, store.Insert(context.Background(), newTestEntry(user, conv, []float32{1, 0, 0, 0})))
	require.NoError(t, store.DeleteUser(context.Background(), user))

	// A fresh search as that user finds nothing left behind.
	results, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, storage.SearchOptions{
		UserID: user, Threshold: 0, TopK: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}
