package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DedupWindow is how far back a deduplication id suppresses resends,
// matching SQS semantics.
const DedupWindow = 5 * time.Minute

// InsertMessage persists a new message. The whole operation runs in one
// transaction: the deduplication window check, the FIFO sequence allocation
// and the insert. SQLite's single-writer discipline makes the check-then-act
// sequences race-free.
//
// Returns ErrDuplicate when a message with the same (queue, deduplication id)
// was created within DedupWindow of msg.CreatedAt.
func (s *Store) InsertMessage(ctx context.Context, msg *Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if msg.DeduplicationID != "" {
			cutoff := FormatTime(msg.CreatedAt.Add(-DedupWindow))
			var count int64
			err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM messages
				WHERE queue_name = ? AND deduplication_id = ? AND created_at > ?`,
				msg.QueueName, msg.DeduplicationID, cutoff,
			).Scan(&count)
			if err != nil {
				return fmt.Errorf("store: dedup check: %w", err)
			}
			if count > 0 {
				return ErrDuplicate
			}
		}

		var seq sql.NullInt64
		if msg.SequenceNumber < 0 {
			// Negative sentinel requests allocation of the next queue-wide
			// sequence number. Only FIFO sends use this.
			var maxSeq int64
			err := tx.QueryRowContext(ctx, `
				SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE queue_name = ?`,
				msg.QueueName,
			).Scan(&maxSeq)
			if err != nil {
				return fmt.Errorf("store: sequence allocation: %w", err)
			}
			msg.SequenceNumber = maxSeq + 1
		}
		if msg.SequenceNumber > 0 {
			seq = sql.NullInt64{Int64: msg.SequenceNumber, Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages
				(id, queue_name, body, created_at, receive_count, attributes,
				 deduplication_id, status, delay_until, message_group_id, sequence_number)
			VALUES (?, ?, ?, ?, 0, ?, ?, 'active', ?, ?, ?)`,
			msg.ID, msg.QueueName, msg.Body, FormatTime(msg.CreatedAt),
			nullString(msg.Attributes), nullString(msg.DeduplicationID),
			nullTime(msg.DelayUntil), nullString(msg.MessageGroupID), seq,
		)
		if err != nil {
			return fmt.Errorf("store: insert message %s: %w", msg.ID, err)
		}
		return nil
	})
}

// AcquireOptions controls AcquireBatch.
type AcquireOptions struct {
	Now               time.Time
	VisibilityTimeout time.Duration
	// MaxReceiveCount > 0 together with a configured DLQ marks messages that
	// would exceed it as dlq_pending instead of delivering them.
	MaxReceiveCount int
	DLQConfigured   bool
	Fifo            bool
	Limit           int
}

// AcquireBatch atomically selects up to Limit head messages and transitions
// each one: deliverable messages move to processing with a fresh visibility
// deadline, exhausted messages move to dlq_pending. Both sets are decided
// and written in a single transaction so concurrent receivers never see the
// same head twice.
//
// A processing message whose deadline has passed is deliverable again; lease
// expiry needs no background pass.
//
// The second return value lists ids marked dlq_pending; the caller promotes
// them to the dead-letter table outside this transaction.
func (s *Store) AcquireBatch(ctx context.Context, queue string, opts AcquireOptions) ([]Message, []string, error) {
	if opts.Limit <= 0 {
		opts.Limit = 1
	}
	order := "created_at ASC, id ASC"
	if opts.Fifo {
		order = "sequence_number ASC, id ASC"
	}
	nowStr := FormatTime(opts.Now)
	deadline := FormatTime(opts.Now.Add(opts.VisibilityTimeout))

	var delivered []Message
	var dlqPending []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
			SELECT id, body, created_at, receive_count, attributes,
			       deduplication_id, message_group_id, sequence_number
			FROM messages
			WHERE queue_name = ? AND status IN ('active', 'processing')
			  AND (visibility_deadline IS NULL OR visibility_deadline < ?)
			  AND (delay_until IS NULL OR delay_until < ?)
			ORDER BY %s
			LIMIT ?`, order),
			queue, nowStr, nowStr, opts.Limit,
		)
		if err != nil {
			return fmt.Errorf("store: acquire select: %w", err)
		}
		heads, err := scanHeads(rows, queue)
		if err != nil {
			return err
		}

		for i := range heads {
			m := &heads[i]
			newCount := m.ReceiveCount + 1
			if opts.DLQConfigured && opts.MaxReceiveCount > 0 && newCount > opts.MaxReceiveCount {
				if _, err := tx.ExecContext(ctx, `
					UPDATE messages SET status = 'dlq_pending', receive_count = ? WHERE id = ?`,
					newCount, m.ID,
				); err != nil {
					return fmt.Errorf("store: mark dlq_pending %s: %w", m.ID, err)
				}
				dlqPending = append(dlqPending, m.ID)
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE messages
				SET status = 'processing', visibility_deadline = ?, processed_at = ?, receive_count = ?
				WHERE id = ?`,
				deadline, nowStr, newCount, m.ID,
			); err != nil {
				return fmt.Errorf("store: acquire update %s: %w", m.ID, err)
			}
			m.ReceiveCount = newCount
			m.Status = StatusProcessing
			vd := opts.Now.Add(opts.VisibilityTimeout)
			m.VisibilityDeadline = &vd
			delivered = append(delivered, *m)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return delivered, dlqPending, nil
}

func scanHeads(rows *sql.Rows, queue string) ([]Message, error) {
	defer rows.Close()
	var heads []Message
	for rows.Next() {
		var m Message
		var createdAt string
		var attrs, dedup, group sql.NullString
		var seq sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Body, &createdAt, &m.ReceiveCount, &attrs, &dedup, &group, &seq); err != nil {
			return nil, fmt.Errorf("store: acquire scan: %w", err)
		}
		var err error
		if m.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: acquire scan: %w", err)
		}
		m.QueueName = queue
		m.Attributes = attrs.String
		m.DeduplicationID = dedup.String
		m.MessageGroupID = group.String
		m.SequenceNumber = seq.Int64
		heads = append(heads, m)
	}
	return heads, rows.Err()
}

// DeleteMessage marks a message deleted. Returns false when no live row was
// updated, which makes repeated deletes idempotent.
func (s *Store) DeleteMessage(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = 'deleted', deleted_at = ?
		WHERE id = ? AND status != 'deleted'`,
		FormatTime(now), id,
	)
	if err != nil {
		return false, fmt.Errorf("store: delete message %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RestoreMessage puts a non-active message back to active, clearing its
// lease and deletion marker. Admin operation.
func (s *Store) RestoreMessage(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'active', visibility_deadline = NULL, deleted_at = NULL
		WHERE id = ? AND status != 'active'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("store: restore message %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetMessage fetches a single message row by id, or ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, queue_name, body, created_at, visibility_deadline, receive_count,
		       attributes, deduplication_id, status, processed_at, deleted_at,
		       delay_until, message_group_id, sequence_number
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetQueueMessages lists every message row in a queue in arrival order,
// regardless of status. Used by the admin surface and tests.
func (s *Store) GetQueueMessages(ctx context.Context, queue string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, queue_name, body, created_at, visibility_deadline, receive_count,
		       attributes, deduplication_id, status, processed_at, deleted_at,
		       delay_until, message_group_id, sequence_number
		FROM messages WHERE queue_name = ? ORDER BY created_at ASC, id ASC`, queue)
	if err != nil {
		return nil, fmt.Errorf("store: queue messages %s: %w", queue, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// PurgeQueue deletes every message row in a queue. Returns the number of
// rows removed.
func (s *Store) PurgeQueue(ctx context.Context, queue string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE queue_name = ?`, queue)
	if err != nil {
		return 0, fmt.Errorf("store: purge queue %s: %w", queue, err)
	}
	return res.RowsAffected()
}

// ReclaimExpired flips expired processing leases back to active, clearing
// the deadline. This is the redelivery mechanism for abandoned leases.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'active', visibility_deadline = NULL
		WHERE status = 'processing' AND visibility_deadline < ?`,
		FormatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("store: reclaim expired: %w", err)
	}
	return res.RowsAffected()
}

// DeleteOlderThan physically removes up to limit messages created before
// cutoff, regardless of status. Only the Delete retention mode calls this.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE id IN (
			SELECT id FROM messages WHERE created_at < ? LIMIT ?
		)`,
		FormatTime(cutoff), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("store: delete older than: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var createdAt string
	var visDeadline, attrs, dedup, processedAt, deletedAt, delayUntil, group sql.NullString
	var seq sql.NullInt64
	err := row.Scan(
		&m.ID, &m.QueueName, &m.Body, &createdAt, &visDeadline, &m.ReceiveCount,
		&attrs, &dedup, &m.Status, &processedAt, &deletedAt, &delayUntil, &group, &seq,
	)
	if err != nil {
		return nil, err
	}
	if m.CreatedAt, err = ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: scan message: %w", err)
	}
	if m.VisibilityDeadline, err = parseNullTime(visDeadline); err != nil {
		return nil, err
	}
	if m.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return nil, err
	}
	if m.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	if m.DelayUntil, err = parseNullTime(delayUntil); err != nil {
		return nil, err
	}
	m.Attributes = attrs.String
	m.DeduplicationID = dedup.String
	m.MessageGroupID = group.String
	m.SequenceNumber = seq.Int64
	return &m, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, fmt.Errorf("store: parse time %q: %w", ns.String, err)
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}
