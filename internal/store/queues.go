package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateQueue inserts a queue row together with its configuration in one
// transaction. Re-creating an existing queue is a no-op. When replaceConfig
// is false an existing configuration row is left untouched, so an implicit
// re-create does not clobber attributes set earlier.
func (s *Store) CreateQueue(ctx context.Context, name string, createdAt time.Time, cfg *QueueConfig, replaceConfig bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO queues (name, created_at) VALUES (?, ?)`,
			name, FormatTime(createdAt),
		); err != nil {
			return fmt.Errorf("store: create queue %s: %w", name, err)
		}
		if cfg != nil {
			return writeQueueConfig(ctx, tx, cfg, replaceConfig)
		}
		return nil
	})
}

// DeleteQueue removes a queue, its configuration and all of its messages.
// Returns false when the queue did not exist.
func (s *Store) DeleteQueue(ctx context.Context, name string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM queues WHERE name = ?`, name)
		if err != nil {
			return fmt.Errorf("store: delete queue %s: %w", name, err)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		if !deleted {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE queue_name = ?`, name); err != nil {
			return fmt.Errorf("store: delete queue messages %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_config WHERE name = ?`, name); err != nil {
			return fmt.Errorf("store: delete queue config %s: %w", name, err)
		}
		return nil
	})
	return deleted, err
}

// ListQueues returns all queues ordered by name.
func (s *Store) ListQueues(ctx context.Context) ([]QueueInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, created_at FROM queues ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list queues: %w", err)
	}
	defer rows.Close()

	var queues []QueueInfo
	for rows.Next() {
		var q QueueInfo
		var createdAt string
		if err := rows.Scan(&q.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("store: list queues: %w", err)
		}
		if q.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: list queues: %w", err)
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

// QueueExists reports whether a queue row exists.
func (s *Store) QueueExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM queues WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: queue exists %s: %w", name, err)
	}
	return true, nil
}

// GetQueueAttributes returns the approximate message counters for a queue,
// or ErrNotFound when the queue does not exist. A message counts as visible
// when it is active, past any delay and past any visibility deadline.
func (s *Store) GetQueueAttributes(ctx context.Context, name string, now time.Time) (*QueueAttributes, error) {
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM queues WHERE name = ?`, name).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: queue attributes %s: %w", name, err)
	}

	attrs := &QueueAttributes{}
	if attrs.CreatedAt, err = ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: queue attributes %s: %w", name, err)
	}

	nowStr := FormatTime(now)
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE queue_name = ? AND status = 'active'
		  AND (visibility_deadline IS NULL OR visibility_deadline < ?)
		  AND (delay_until IS NULL OR delay_until < ?)`,
		name, nowStr, nowStr,
	).Scan(&attrs.ApproximateVisible)
	if err != nil {
		return nil, fmt.Errorf("store: queue attributes %s: %w", name, err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE queue_name = ? AND status = 'processing' AND visibility_deadline >= ?`,
		name, nowStr,
	).Scan(&attrs.ApproximateInFlight)
	if err != nil {
		return nil, fmt.Errorf("store: queue attributes %s: %w", name, err)
	}
	return attrs, nil
}

// UpsertQueueConfig writes the queue configuration row. The is_fifo flag is
// never updated on conflict: FIFO-ness is immutable once a queue exists.
func (s *Store) UpsertQueueConfig(ctx context.Context, cfg *QueueConfig) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return writeQueueConfig(ctx, tx, cfg, true)
	})
}

func writeQueueConfig(ctx context.Context, tx *sql.Tx, cfg *QueueConfig, replace bool) error {
	var maxReceive sql.NullInt64
	if cfg.MaxReceiveCount > 0 {
		maxReceive = sql.NullInt64{Int64: int64(cfg.MaxReceiveCount), Valid: true}
	}
	var dlqTarget sql.NullString
	if cfg.DLQTarget != "" {
		dlqTarget = sql.NullString{String: cfg.DLQTarget, Valid: true}
	}
	onConflict := `DO UPDATE SET
			content_based_dedup  = excluded.content_based_dedup,
			visibility_timeout_s = excluded.visibility_timeout_s,
			retention_period_s   = excluded.retention_period_s,
			max_receive_count    = excluded.max_receive_count,
			dlq_target           = excluded.dlq_target,
			delay_s              = excluded.delay_s,
			wait_time_s          = excluded.wait_time_s`
	if !replace {
		onConflict = `DO NOTHING`
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO queue_config
			(name, is_fifo, content_based_dedup, visibility_timeout_s,
			 retention_period_s, max_receive_count, dlq_target, delay_s, wait_time_s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) `+onConflict,
		cfg.Name, cfg.IsFifo, cfg.ContentBasedDeduplication, cfg.VisibilityTimeoutSeconds,
		cfg.RetentionPeriodSeconds, maxReceive, dlqTarget, cfg.DelaySeconds, cfg.ReceiveWaitTimeSeconds,
	)
	if err != nil {
		return fmt.Errorf("store: write queue config %s: %w", cfg.Name, err)
	}
	return nil
}

// GetQueueConfig returns the configuration row for a queue, or ErrNotFound
// when none has been stored.
func (s *Store) GetQueueConfig(ctx context.Context, name string) (*QueueConfig, error) {
	cfg := &QueueConfig{Name: name}
	var maxReceive sql.NullInt64
	var dlqTarget sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT is_fifo, content_based_dedup, visibility_timeout_s, retention_period_s,
		       max_receive_count, dlq_target, delay_s, wait_time_s
		FROM queue_config WHERE name = ?`, name,
	).Scan(
		&cfg.IsFifo, &cfg.ContentBasedDeduplication, &cfg.VisibilityTimeoutSeconds,
		&cfg.RetentionPeriodSeconds, &maxReceive, &dlqTarget,
		&cfg.DelaySeconds, &cfg.ReceiveWaitTimeSeconds,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: queue config %s: %w", name, err)
	}
	if maxReceive.Valid {
		cfg.MaxReceiveCount = int(maxReceive.Int64)
	}
	cfg.DLQTarget = dlqTarget.String
	return cfg, nil
}
