// Package store is the persistence layer for qlite. It owns the SQLite
// database file and exposes typed operations over queues, messages, queue
// configuration and dead-letter records. No other package issues SQL.
//
// The database is opened in WAL mode with synchronous=NORMAL so concurrent
// readers and the single writer proceed without blocking each other. All
// mutating operations run inside a transaction; SQLite's writer serialization
// is the only lock in the system.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// timeLayout is a fixed-width RFC3339 variant with millisecond precision.
// Fixed width keeps lexicographic ordering of stored timestamps identical to
// chronological ordering, which the head-selection queries rely on.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders a timestamp in the store's canonical text form (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a timestamp previously written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Options tunes the SQLite connection.
type Options struct {
	// BusyTimeoutMs bounds how long a writer waits on a locked database
	// before surfacing SQLITE_BUSY. Defaults to 5000.
	BusyTimeoutMs int
	// PoolSize caps the database/sql connection pool. Defaults to 10.
	PoolSize int
}

// Store wraps the SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, applies the connection
// pragmas and runs schema migration. Use ":memory:" only in tests.
func Open(path string, opts Options) (*Store, error) {
	if opts.BusyTimeoutMs <= 0 {
		opts.BusyTimeoutMs = 5000
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	pragmas := url.Values{}
	for _, p := range []string{
		fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeoutMs),
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"cache_size(-8000)",          // 8 MiB page cache
		"mmap_size(268435456)",       // 256 MiB memory-mapped reads
		"foreign_keys(ON)",
	} {
		pragmas.Add("_pragma", p)
	}
	dsn := fmt.Sprintf("file:%s?%s", path, pragmas.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(opts.PoolSize)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Int("busyTimeoutMs", opts.BusyTimeoutMs).Msg("SQLite store opened")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the schema and applies additive column migrations. Every
// step is idempotent so older database files upgrade in place on startup.
func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS queues (
			name       TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id                  TEXT PRIMARY KEY,
			queue_name          TEXT NOT NULL,
			body                TEXT NOT NULL,
			created_at          TEXT NOT NULL,
			visibility_deadline TEXT,
			receive_count       INTEGER NOT NULL DEFAULT 0,
			attributes          TEXT,
			deduplication_id    TEXT,
			status              TEXT NOT NULL DEFAULT 'active',
			processed_at        TEXT,
			deleted_at          TEXT,
			delay_until         TEXT,
			message_group_id    TEXT,
			sequence_number     INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS queue_config (
			name                 TEXT PRIMARY KEY,
			is_fifo              INTEGER NOT NULL DEFAULT 0,
			content_based_dedup  INTEGER NOT NULL DEFAULT 0,
			visibility_timeout_s INTEGER NOT NULL DEFAULT 30,
			retention_period_s   INTEGER NOT NULL DEFAULT 1209600,
			max_receive_count    INTEGER,
			dlq_target           TEXT,
			delay_s              INTEGER NOT NULL DEFAULT 0,
			wait_time_s          INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS dlq_messages (
			id                  TEXT PRIMARY KEY,
			original_queue      TEXT NOT NULL,
			dlq_queue           TEXT NOT NULL,
			failure_reason      TEXT NOT NULL,
			moved_at            TEXT NOT NULL,
			original_body       TEXT NOT NULL,
			original_attributes TEXT,
			receive_count       INTEGER NOT NULL DEFAULT 0,
			original_created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_queue_status ON messages(queue_name, status)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_queue_created ON messages(queue_name, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_fifo_order ON messages(queue_name, message_group_id, sequence_number)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_dedup ON messages(queue_name, deduplication_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_visibility ON messages(visibility_deadline)`,
		`CREATE INDEX IF NOT EXISTS idx_dlq_queue_moved ON dlq_messages(dlq_queue, moved_at)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}

	// Additive migrations for databases created before these columns existed.
	// SQLite has no ADD COLUMN IF NOT EXISTS, so a duplicate-column error is
	// the expected no-op signal.
	alters := []string{
		`ALTER TABLE messages ADD COLUMN status TEXT NOT NULL DEFAULT 'active'`,
		`ALTER TABLE messages ADD COLUMN processed_at TEXT`,
		`ALTER TABLE messages ADD COLUMN deleted_at TEXT`,
		`ALTER TABLE messages ADD COLUMN delay_until TEXT`,
		`ALTER TABLE messages ADD COLUMN message_group_id TEXT`,
		`ALTER TABLE messages ADD COLUMN sequence_number INTEGER`,
	}
	for _, stmt := range alters {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil && !isDuplicateColumn(err) {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// withTx runs fn inside a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
