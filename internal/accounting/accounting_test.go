package accounting

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talvos/recall/internal/pricing"
	"github.com/talvos/recall/internal/storage"
	"github.com/talvos/recall/internal/storage/sqlite"
	"github.com/talvos/recall/pkg/types"
)

func newTestAccountant(t *testing.T) (*Accountant, *sqlite.Store, string) {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "ledger.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	user := uuid.NewString()
	require.NoError(t, store.CreateUser(context.Background(), user))

	acct, err := NewAccountant(store)
	require.NoError(t, err)
	return acct, store, user
}

func TestRecord_ComputesTotalsAndCost(t *testing.T) {
	acct, _, user := newTestAccountant(t)

	rec := acct.Record(context.Background(), Usage{
		UserID:           user,
		Provider:         "openai",
		Model:            "gpt-4.1",
		PromptTokens:     1000,
		CompletionTokens: 500,
	})

	assert.Equal(t, 1500, rec.TotalTokens)
	// 1000/1K * 0.002 + 500/1K * 0.008.
	assert.InDelta(t, 0.006, rec.EstimatedCost, 1e-9)

	totals, err := acct.Totals(context.Background(), user, time.Time{})
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, 1, totals[0].Requests)
	assert.Equal(t, 1500, totals[0].TotalTokens)
}

func TestRecord_UnknownModelCostsZero(t *testing.T) {
	acct, _, user := newTestAccountant(t)

	rec := acct.Record(context.Background(), Usage{
		UserID:           user,
		Provider:         "openai",
		Model:            "experimental-model-x",
		PromptTokens:     10000,
		CompletionTokens: 10000,
	})
	assert.Zero(t, rec.EstimatedCost)
	assert.Equal(t, 20000, rec.TotalTokens)
}

// brokenStore rejects every write.
type brokenStore struct{}

func (brokenStore) RecordUsage(context.Context, *types.UsageRecord) error {
	return errors.New("disk full")
}

func (brokenStore) Aggregate(context.Context, string, time.Time) ([]storage.UsageTotals, error) {
	return nil, nil
}

func TestRecord_NeverReturnsError(t *testing.T) {
	table, err := pricing.LoadTable()
	require.NoError(t, err)
	acct := &Accountant{store: brokenStore{}, table: table}

	rec := acct.Record(context.Background(), Usage{
		UserID:   uuid.NewString(),
		Provider: "anthropic",
		Model:    "claude-sonnet-4-20250514",
	})
	require.NotNil(t, rec, "a failed ledger write must not surface to the caller")
}

func TestTotals_WindowFiltering(t *testing.T) {
	acct, store, user := newTestAccountant(t)

	old := &types.UsageRecord{
		ID:           uuid.NewString(),
		UserID:       user,
		Provider:     "openai",
		Model:        "gpt-4.1",
		TotalTokens:  100,
		PromptTokens: 100,
		CreatedAt:    time.Now().UTC().AddDate(0, 0, -60),
	}
	require.NoError(t, store.RecordUsage(context.Background(), old))

	acct.Record(context.Background(), Usage{
		UserID: user, Provider: "openai", Model: "gpt-4.1", PromptTokens: 50,
	})

	all, err := acct.Totals(context.Background(), user, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].Requests)

	recent, err := acct.Totals(context.Background(), user, Last30Days())
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 1, recent[0].Requests, "records older than the window are excluded")
}
