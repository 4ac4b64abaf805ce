package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// defaultMessageGroup matches the group FIFO sends fall back to when the
// sender names none.
const defaultMessageGroup = "default"

// MoveToDLQ copies a message into the dead-letter table and removes the
// original row in the same transaction, so exactly one of the two rows
// exists at any time. Returns false when the message no longer exists
// (another receiver already promoted it).
func (s *Store) MoveToDLQ(ctx context.Context, messageID, dlqQueue, reason string, movedAt time.Time) (bool, error) {
	var moved bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var queueName, body, createdAt string
		var attrs sql.NullString
		var receiveCount int
		err := tx.QueryRowContext(ctx, `
			SELECT queue_name, body, created_at, attributes, receive_count
			FROM messages WHERE id = ?`, messageID,
		).Scan(&queueName, &body, &createdAt, &attrs, &receiveCount)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: dlq read %s: %w", messageID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO dlq_messages
				(id, original_queue, dlq_queue, failure_reason, moved_at,
				 original_body, original_attributes, receive_count, original_created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			messageID, queueName, dlqQueue, reason, FormatTime(movedAt),
			body, attrs, receiveCount, createdAt,
		); err != nil {
			return fmt.Errorf("store: dlq insert %s: %w", messageID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
			return fmt.Errorf("store: dlq remove original %s: %w", messageID, err)
		}
		moved = true
		return nil
	})
	return moved, err
}

// GetDLQMessages lists dead-letter records for a DLQ, most recently moved
// first.
func (s *Store) GetDLQMessages(ctx context.Context, dlqQueue string) ([]DLQMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_queue, dlq_queue, failure_reason, moved_at,
		       original_body, original_attributes, receive_count, original_created_at
		FROM dlq_messages WHERE dlq_queue = ? ORDER BY moved_at DESC, id ASC`, dlqQueue)
	if err != nil {
		return nil, fmt.Errorf("store: dlq list %s: %w", dlqQueue, err)
	}
	defer rows.Close()

	var msgs []DLQMessage
	for rows.Next() {
		var m DLQMessage
		var movedAt, originalCreatedAt string
		var attrs sql.NullString
		if err := rows.Scan(
			&m.ID, &m.OriginalQueue, &m.DLQQueue, &m.FailureReason, &movedAt,
			&m.OriginalBody, &attrs, &m.ReceiveCount, &originalCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: dlq scan: %w", err)
		}
		if m.MovedAt, err = ParseTime(movedAt); err != nil {
			return nil, fmt.Errorf("store: dlq scan: %w", err)
		}
		if m.OriginalCreatedAt, err = ParseTime(originalCreatedAt); err != nil {
			return nil, fmt.Errorf("store: dlq scan: %w", err)
		}
		m.OriginalAttributes = attrs.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RedriveDLQ moves up to max dead-letter records back into sourceQueue as
// fresh messages: new id, original body and attributes, zeroed receive
// count. When fifo is set each redriven row gets the next queue-wide
// sequence number and the default message group, so redriven traffic queues
// behind live FIFO traffic instead of sorting ahead of it on a NULL
// sequence. Each moved record is deleted from the dead-letter table in the
// same transaction. newID supplies message ids so the caller controls the
// id scheme.
func (s *Store) RedriveDLQ(ctx context.Context, dlqQueue, sourceQueue string, max int, fifo bool, now time.Time, newID func() string) (int, error) {
	if max <= 0 {
		max = 10
	}
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, original_body, original_attributes
			FROM dlq_messages WHERE dlq_queue = ? ORDER BY moved_at DESC, id ASC LIMIT ?`,
			dlqQueue, max,
		)
		if err != nil {
			return fmt.Errorf("store: redrive select %s: %w", dlqQueue, err)
		}
		type entry struct {
			id    string
			body  string
			attrs sql.NullString
		}
		var entries []entry
		for rows.Next() {
			var e entry
			if err := rows.Scan(&e.id, &e.body, &e.attrs); err != nil {
				rows.Close()
				return fmt.Errorf("store: redrive scan: %w", err)
			}
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		var nextSeq int64
		if fifo && len(entries) > 0 {
			err := tx.QueryRowContext(ctx, `
				SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE queue_name = ?`,
				sourceQueue,
			).Scan(&nextSeq)
			if err != nil {
				return fmt.Errorf("store: redrive sequence allocation: %w", err)
			}
		}

		for _, e := range entries {
			var seq sql.NullInt64
			var group sql.NullString
			if fifo {
				nextSeq++
				seq = sql.NullInt64{Int64: nextSeq, Valid: true}
				group = sql.NullString{String: defaultMessageGroup, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO messages
					(id, queue_name, body, created_at, receive_count, attributes,
					 status, message_group_id, sequence_number)
				VALUES (?, ?, ?, ?, 0, ?, 'active', ?, ?)`,
				newID(), sourceQueue, e.body, FormatTime(now), e.attrs, group, seq,
			); err != nil {
				return fmt.Errorf("store: redrive insert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM dlq_messages WHERE id = ?`, e.id); err != nil {
				return fmt.Errorf("store: redrive remove %s: %w", e.id, err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PurgeDLQ deletes all dead-letter records for a DLQ and returns the count.
func (s *Store) PurgeDLQ(ctx context.Context, dlqQueue string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dlq_messages WHERE dlq_queue = ?`, dlqQueue)
	if err != nil {
		return 0, fmt.Errorf("store: purge dlq %s: %w", dlqQueue, err)
	}
	return res.RowsAffected()
}
