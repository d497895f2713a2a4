// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
	"github.com/poiesic/medfuse/storage/sqlite/migrations"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DefaultMaxRetries is the number of failed attempts after which an item
// stops being selected for processing.
const DefaultMaxRetries = 3

// Store is a CheckpointStore backed by a single SQLite file.
type Store struct {
	db         *sql.DB
	path       string
	maxRetries int
	now        func() time.Time
}

var _ storage.CheckpointStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries sets how many failed attempts an item gets before it is
// skipped by PendingItems. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithClock overrides the time source used to stamp attempts.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore opens (creating if needed) the checkpoint database at path and
// applies pending migrations. Pass MemoryPath for a throwaway store.
func NewStore(path string, opts ...Option) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)"
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating checkpoint directory: %w", err)
		}
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint database: %w", err)
	}
	// One writer. An in-memory database also lives only as long as its connection.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:         db,
		path:       path,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// MaxRetries returns the configured retry limit.
func (s *Store) MaxRetries() int {
	return s.maxRetries
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

// Register inserts pending checkpoints for ids not seen before.
func (s *Store) Register(ctx context.Context, itemIDs ...string) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO checkpoints (item_id, status, attempt_count) VALUES (?, ?, 0)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, id := range itemIDs {
			res, err := stmt.ExecContext(ctx, id, core.StatusPending)
			if err != nil {
				return fmt.Errorf("registering %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	return inserted, err
}

// MarkProcessing claims an item for the current run.
func (s *Store) MarkProcessing(ctx context.Context, itemID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := currentStatus(ctx, tx, itemID)
		if err != nil {
			return err
		}
		switch status {
		case core.StatusProcessing:
			return fmt.Errorf("%w: %s", storage.ErrAlreadyProcessing, itemID)
		case core.StatusCompleted:
			return fmt.Errorf("%w: %s", storage.ErrAlreadyCompleted, itemID)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE checkpoints SET status = ?, last_attempt_at = ? WHERE item_id = ?`,
			core.StatusProcessing, s.now().UnixMicro(), itemID)
		return err
	})
}

// MarkCompleted finishes an item. Completing an already completed item is a no-op.
func (s *Store) MarkCompleted(ctx context.Context, itemID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := currentStatus(ctx, tx, itemID)
		if err != nil {
			return err
		}
		switch status {
		case core.StatusCompleted:
			return nil
		case core.StatusProcessing:
		default:
			return fmt.Errorf("%w: %s is %s", storage.ErrInvalidTransition, itemID, status)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE checkpoints SET status = ?, error_message = NULL WHERE item_id = ?`,
			core.StatusCompleted, itemID)
		return err
	})
}

// MarkFailed records a failed attempt.
func (s *Store) MarkFailed(ctx context.Context, itemID, message string) error {
	return s.fail(ctx, itemID, message,
		`UPDATE checkpoints
		 SET status = ?, error_message = ?, last_attempt_at = ?, attempt_count = attempt_count + 1
		 WHERE item_id = ?`)
}

// MarkRejected records a failure that retrying cannot fix.
func (s *Store) MarkRejected(ctx context.Context, itemID, message string) error {
	return s.fail(ctx, itemID, message,
		`UPDATE checkpoints
		 SET status = ?, error_message = ?, last_attempt_at = ?,
		     attempt_count = MAX(attempt_count + 1, `+fmt.Sprint(s.maxRetries)+`)
		 WHERE item_id = ?`)
}

func (s *Store) fail(ctx context.Context, itemID, message, query string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, core.StatusFailed, message, s.now().UnixMicro(), itemID)
	if err != nil {
		return fmt.Errorf("marking %s failed: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, itemID)
	}
	return nil
}

// PendingItems returns the next page of ids eligible for processing.
func (s *Store) PendingItems(ctx context.Context, after string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id FROM checkpoints
		 WHERE item_id > ?
		   AND (status = ? OR (status = ? AND attempt_count < ?))
		 ORDER BY item_id
		 LIMIT ?`,
		after, core.StatusPending, core.StatusFailed, s.maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Reset returns items to pending. With no ids every checkpoint is reset.
func (s *Store) Reset(ctx context.Context, itemIDs ...string) error {
	const reset = `UPDATE checkpoints
		SET status = ?, error_message = NULL, last_attempt_at = NULL, attempt_count = 0`

	if len(itemIDs) == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx, reset, core.StatusPending)
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, reset+` WHERE item_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range itemIDs {
			if _, err := stmt.ExecContext(ctx, core.StatusPending, id); err != nil {
				return fmt.Errorf("resetting %s: %w", id, err)
			}
		}
		return nil
	})
}

// RecoverStale returns items stuck in processing to pending.
func (s *Store) RecoverStale(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkpoints SET status = ? WHERE status = ?`,
		core.StatusPending, core.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("recovering stale checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Get returns the checkpoint for an item.
func (s *Store) Get(ctx context.Context, itemID string) (*core.CheckpointRecord, error) {
	var (
		record      core.CheckpointRecord
		status      string
		lastAttempt sql.NullInt64
		message     sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT item_id, status, last_attempt_at, error_message, attempt_count
		 FROM checkpoints WHERE item_id = ?`, itemID).
		Scan(&record.ItemID, &status, &lastAttempt, &message, &record.AttemptCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting checkpoint: %w", err)
	}

	record.Status = core.CheckpointStatus(status)
	if lastAttempt.Valid {
		record.LastAttemptAt = time.UnixMicro(lastAttempt.Int64).UTC()
	}
	record.ErrorMessage = message.String
	return &record, nil
}

// Counts returns the number of checkpoints in each status.
func (s *Store) Counts(ctx context.Context) (map[core.CheckpointStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM checkpoints GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting checkpoints: %w", err)
	}
	defer rows.Close()

	counts := map[core.CheckpointStatus]int{
		core.StatusPending:    0,
		core.StatusProcessing: 0,
		core.StatusCompleted:  0,
		core.StatusFailed:     0,
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[core.CheckpointStatus(status)] = n
	}
	return counts, rows.Err()
}

// CountPending returns how many items are eligible for processing.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkpoints
		 WHERE status = ? OR (status = ? AND attempt_count < ?)`,
		core.StatusPending, core.StatusFailed, s.maxRetries).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending checkpoints: %w", err)
	}
	return n, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func currentStatus(ctx context.Context, tx *sql.Tx, itemID string) (core.CheckpointStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM checkpoints WHERE item_id = ?`, itemID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, itemID)
	}
	if err != nil {
		return "", err
	}
	return core.CheckpointStatus(status), nil
}
