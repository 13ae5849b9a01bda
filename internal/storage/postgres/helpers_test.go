// Package postgres provides the PostgreSQL implementation of storage
// interfaces. This file contains test helpers only used during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows between tests. It lives in the postgres
// package (not the _test package) so it can reach the unexported db field,
// and is exported so the postgres_test package can call it.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"TRUNCATE TABLE users, memory_entries, summaries, usage_records CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}
