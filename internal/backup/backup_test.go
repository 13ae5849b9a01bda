package backup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talvos/recall/internal/backup"
	"github.com/talvos/recall/internal/storage/sqlite"
	"github.com/talvos/recall/pkg/types"
)

func newSeededDB(t *testing.T) (dbPath, userID, conversationID string) {
	t.Helper()

	dbPath = filepath.Join(t.TempDir(), "recall.db")
	store, err := sqlite.NewStore(dbPath, 4)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	userID = uuid.NewString()
	conversationID = uuid.NewString()
	require.NoError(t, store.CreateUser(ctx, userID))
	require.NoError(t, store.Insert(ctx, &types.MemoryEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           types.RoleUser,
		Content:        "snapshot me",
		Embedding:      []float32{1, 0, 0, 0},
		CreatedAt:      time.Now().UTC(),
	}))
	return dbPath, userID, conversationID
}

func TestSnapshotNow(t *testing.T) {
	dbPath, _, _ := newSeededDB(t)
	dir := t.TempDir()

	svc, err := backup.NewService(backup.Config{
		DBPath: dbPath,
		Dir:    dir,
		Verify: true,
	})
	require.NoError(t, err)

	snap, err := svc.SnapshotNow(context.Background())
	require.NoError(t, err)
	assert.Positive(t, snap.Size)

	_, err = os.Stat(snap.Path)
	assert.NoError(t, err)
	assert.False(t, svc.LastSnapshot().IsZero())
}

func TestSnapshot_MissingDatabase(t *testing.T) {
	svc, err := backup.NewService(backup.Config{
		DBPath: filepath.Join(t.TempDir(), "missing.db"),
		Dir:    t.TempDir(),
	})
	require.NoError(t, err)

	_, err = svc.SnapshotNow(context.Background())
	assert.Error(t, err)
}

func TestPruneKeepsNewest(t *testing.T) {
	dbPath, _, _ := newSeededDB(t)
	dir := t.TempDir()

	svc, err := backup.NewService(backup.Config{
		DBPath: dbPath,
		Dir:    dir,
		Keep:   2,
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := svc.SnapshotNow(context.Background())
		require.NoError(t, err)
	}

	snaps, err := svc.List()
	require.NoError(t, err)
	assert.Len(t, snaps, 2, "pruning keeps the newest Keep snapshots")
}

func TestRestoreRoundTrip(t *testing.T) {
	dbPath, userID, conversationID := newSeededDB(t)
	dir := t.TempDir()

	svc, err := backup.NewService(backup.Config{
		DBPath: dbPath,
		Dir:    dir,
		Verify: true,
	})
	require.NoError(t, err)

	ctx := context.Background()
	snap, err := svc.SnapshotNow(ctx)
	require.NoError(t, err)

	// Clobber the live database, then restore the snapshot over it.
	require.NoError(t, os.WriteFile(dbPath, []byte("not a database"), 0644))
	require.NoError(t, svc.Restore(ctx, snap.Path))

	store, err := sqlite.NewStore(dbPath, 4)
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.ListConversation(ctx, userID, conversationID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snapshot me", entries[0].Content)
}

func TestRestoreRejectedWhileRunning(t *testing.T) {
	dbPath, _, _ := newSeededDB(t)

	svc, err := backup.NewService(backup.Config{
		DBPath:   dbPath,
		Dir:      t.TempDir(),
		Interval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Run(ctx)
		close(done)
	}()

	// Give Run a moment to mark itself running.
	time.Sleep(20 * time.Millisecond)
	err = svc.Restore(context.Background(), "whatever.db")
	assert.Error(t, err)

	cancel()
	<-done
}
