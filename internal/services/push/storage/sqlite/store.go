// Package sqlite provides SQLite-backed persistence for the push pipeline's
// resume checkpoints. The checkpoint is a dedicated small record, kept apart
// from the notification collection it tracks.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	sqlitemigrate "github.com/notifeed/notifeed/internal/platform/storage/sqlitemigrate"
	"github.com/notifeed/notifeed/internal/services/push/feed"
	"github.com/notifeed/notifeed/internal/services/push/storage"
	"github.com/notifeed/notifeed/internal/services/push/storage/sqlite/migrations"
)

// Store persists resume checkpoints in a local SQLite database.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a checkpoint store at the provided path and applies the
// embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// LoadPosition returns the last persisted resume position for the stream.
func (s *Store) LoadPosition(ctx context.Context, stream string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}

	var position string
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT position FROM feed_checkpoints WHERE stream = ?
`, stream).Scan(&position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("load checkpoint: %w", err)
	}
	return position, nil
}

// SavePosition records the resume position for the stream. Saves never
// regress: persisting the same or an older position redundantly leaves the
// stored value unchanged, which makes retry-after-crash paths idempotent.
func (s *Store) SavePosition(ctx context.Context, stream string, position string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return fmt.Errorf("stream name is required")
	}
	position = strings.TrimSpace(position)
	if _, _, err := feed.ParsePosition(position); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint write: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback checkpoint write: %v", cause, rollbackErr)
		}
		return cause
	}

	var current string
	err = tx.QueryRowContext(ctx, `
SELECT position FROM feed_checkpoints WHERE stream = ?
`, stream).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return rollbackWith(fmt.Errorf("read current checkpoint: %w", err))
	default:
		cmp, cmpErr := feed.ComparePositions(position, current)
		if cmpErr == nil && cmp <= 0 {
			// Redundant save of the same or an older position.
			_ = tx.Rollback()
			return nil
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO feed_checkpoints (stream, position, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (stream) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at
`, stream, position, time.Now().UTC().UnixMilli()); err != nil {
		return rollbackWith(fmt.Errorf("write checkpoint: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint write: %w", err)
	}
	return nil
}
