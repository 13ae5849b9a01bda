// Package backup provides periodic snapshots of the SQLite memory database.
// Snapshots use VACUUM INTO, which produces a consistent copy even with WAL
// mode active, so the server keeps serving while a snapshot runs.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Config controls the snapshot service.
type Config struct {
	DBPath   string        // Path to the live SQLite database
	Dir      string        // Directory snapshots are written to
	Interval time.Duration // Time between snapshots (default: 1h)
	Keep     int           // Newest snapshots to retain (default: 24)
	Verify   bool          // Run integrity_check on every snapshot
}

// Service takes and prunes snapshots on a fixed interval.
type Service struct {
	cfg Config

	mu           sync.Mutex
	running      bool
	lastSnapshot time.Time
}

// Snapshot describes one snapshot file on disk.
type Snapshot struct {
	Path      string
	Size      int64
	Timestamp time.Time
}

// NewService validates the configuration and creates the snapshot directory.
func NewService(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup: snapshot directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 24
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("backup: failed to create snapshot directory: %w", err)
	}
	return &Service{cfg: cfg}, nil
}

// Run takes snapshots until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup: service is already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("backup: snapshot service started (interval=%v dir=%s keep=%d)",
		s.cfg.Interval, s.cfg.Dir, s.cfg.Keep)

	for {
		select {
		case <-ctx.Done():
			log.Println("backup: snapshot service stopping")
			return ctx.Err()
		case <-ticker.C:
			snap, err := s.SnapshotNow(ctx)
			if err != nil {
				log.Printf("backup: scheduled snapshot failed: %v", err)
				continue
			}
			log.Printf("backup: snapshot written: %s (%d bytes)", snap.Path, snap.Size)
		}
	}
}

// SnapshotNow writes one snapshot and prunes old ones.
func (s *Service) SnapshotNow(ctx context.Context) (*Snapshot, error) {
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("backup: database not found: %w", err)
	}

	// Microseconds keep names unique under rapid successive snapshots.
	name := fmt.Sprintf("recall-%s.db", time.Now().UTC().Format("20060102-150405.000000"))
	path := filepath.Join(s.cfg.Dir, name)

	if err := vacuumInto(ctx, s.cfg.DBPath, path); err != nil {
		return nil, err
	}
	if s.cfg.Verify {
		if err := verifySnapshot(ctx, path); err != nil {
			_ = os.Remove(path)
			return nil, err
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat snapshot: %w", err)
	}

	s.mu.Lock()
	s.lastSnapshot = time.Now()
	s.mu.Unlock()

	if err := s.prune(); err != nil {
		log.Printf("backup: pruning failed: %v", err)
	}

	return &Snapshot{Path: path, Size: info.Size(), Timestamp: info.ModTime()}, nil
}

// List returns the snapshots on disk, newest first.
func (s *Service) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read snapshot directory: %w", err)
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			Path:      filepath.Join(s.cfg.Dir, entry.Name()),
			Size:      info.Size(),
			Timestamp: info.ModTime(),
		})
	}

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].Timestamp.Equal(snaps[j].Timestamp) {
			return snaps[i].Path > snaps[j].Path
		}
		return snaps[i].Timestamp.After(snaps[j].Timestamp)
	})
	return snaps, nil
}

// Restore replaces the live database with a snapshot. The server must not be
// using the database while a restore runs. The current database is copied
// aside first so a failed restore can roll back.
func (s *Service) Restore(ctx context.Context, snapshotPath string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("backup: cannot restore while the snapshot service is running")
	}

	if err := verifySnapshot(ctx, snapshotPath); err != nil {
		return err
	}

	preRestore := s.cfg.DBPath + ".pre-restore"
	hadExisting := false
	if _, err := os.Stat(s.cfg.DBPath); err == nil {
		hadExisting = true
		if err := copyFile(s.cfg.DBPath, preRestore); err != nil {
			return fmt.Errorf("backup: failed to save pre-restore copy: %w", err)
		}
	}

	if err := copyFile(snapshotPath, s.cfg.DBPath); err != nil {
		if hadExisting {
			if rbErr := copyFile(preRestore, s.cfg.DBPath); rbErr != nil {
				return fmt.Errorf("backup: restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
			}
			return fmt.Errorf("backup: restore failed, rolled back: %w", err)
		}
		return err
	}

	if err := verifySnapshot(ctx, s.cfg.DBPath); err != nil {
		return fmt.Errorf("backup: restored database failed verification: %w", err)
	}
	if hadExisting {
		_ = os.Remove(preRestore)
	}
	log.Printf("backup: database restored from %s", snapshotPath)
	return nil
}

// LastSnapshot reports when the most recent snapshot completed. The zero
// time means none have run yet.
func (s *Service) LastSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSnapshot
}

// prune removes everything beyond the Keep newest snapshots.
func (s *Service) prune() error {
	snaps, err := s.List()
	if err != nil {
		return err
	}
	if len(snaps) <= s.cfg.Keep {
		return nil
	}

	var lastErr error
	for _, snap := range snaps[s.cfg.Keep:] {
		if err := os.Remove(snap.Path); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("backup: failed to delete some snapshots: %w", lastErr)
	}
	return nil
}

func vacuumInto(ctx context.Context, sourcePath, destPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("backup: failed to open source database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("backup: failed to ping source database: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("backup: snapshot failed: %w", err)
	}
	return nil
}

func verifySnapshot(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check failed: %s", result)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
