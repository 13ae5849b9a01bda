// Package accounting maintains the append-only token and cost ledger.
//
// Recording is best-effort on purpose: a chat reply that was already
// generated must reach the user even when the ledger write fails, so Record
// logs failures instead of returning them. Reads report their errors
// normally.
package accounting

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/talvos/recall/internal/pricing"
	"github.com/talvos/recall/internal/storage"
	"github.com/talvos/recall/pkg/types"
)

// Accountant records per-request usage and answers aggregation queries.
type Accountant struct {
	store storage.UsageStore
	table pricing.Table
}

// NewAccountant creates an Accountant over the given ledger store using the
// embedded price table.
func NewAccountant(store storage.UsageStore) (*Accountant, error) {
	table, err := pricing.LoadTable()
	if err != nil {
		return nil, err
	}
	return &Accountant{store: store, table: table}, nil
}

// Usage is the input of one ledger entry.
type Usage struct {
	UserID           string
	ConversationID   string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Record computes the cost estimate and appends one ledger row. It never
// returns an error: unknown models cost zero and a failed write is logged
// and dropped. The built record is returned for callers that want to echo
// usage back to the client.
func (a *Accountant) Record(ctx context.Context, u Usage) *types.UsageRecord {
	rec := &types.UsageRecord{
		ID:               uuid.NewString(),
		UserID:           u.UserID,
		ConversationID:   u.ConversationID,
		Provider:         u.Provider,
		Model:            u.Model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.PromptTokens + u.CompletionTokens,
		EstimatedCost:    a.table.Estimate(u.Provider, u.Model, u.PromptTokens, u.CompletionTokens),
	}

	if err := a.store.RecordUsage(ctx, rec); err != nil {
		log.Printf("accounting: failed to record usage for user %s: %v", u.UserID, err)
	}
	return rec
}

// Totals aggregates the ledger by provider and model. A zero since means
// all time; the conventional reporting window is the last 30 days.
func (a *Accountant) Totals(ctx context.Context, userID string, since time.Time) ([]storage.UsageTotals, error) {
	return a.store.Aggregate(ctx, userID, since)
}

// Last30Days is the standard reporting window.
func Last30Days() time.Time {
	return time.Now().UTC().AddDate(0, 0, -30)
}
