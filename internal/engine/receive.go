package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qlite/qlite/internal/common/metrics"
	"github.com/qlite/qlite/internal/store"
)

// ReceiveMessages delivers up to max visible head messages from queue. When
// the queue is empty and waitSeconds > 0 (or the queue configures a default
// wait), the call parks on the notifier and re-checks on wakeup until the
// wait elapses or ctx is done. A caller deadline returns whatever was
// collected so far.
func (e *Engine) ReceiveMessages(ctx context.Context, queue string, max, waitSeconds int) ([]DeliveredMessage, error) {
	if max <= 0 {
		max = 1
	}
	if max > MaxReceiveBatch {
		return nil, validationErr("MaxNumberOfMessages", "must be between 1 and %d", MaxReceiveBatch)
	}
	if waitSeconds < 0 || waitSeconds > MaxLongPollSeconds {
		return nil, validationErr("WaitTimeSeconds", "must be between 0 and %d", MaxLongPollSeconds)
	}

	exists, err := e.store.QueueExists(ctx, queue)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrQueueNotFound
	}
	cfg, err := e.resolveConfig(ctx, queue)
	if err != nil {
		return nil, err
	}
	if waitSeconds == 0 {
		waitSeconds = cfg.ReceiveWaitTimeSeconds
	}

	delivered, err := e.acquire(ctx, queue, cfg, max)
	if err != nil || len(delivered) > 0 || waitSeconds == 0 {
		return delivered, err
	}

	// Long poll: subscribe first, then re-check, so an arrival between the
	// empty check above and the subscription is never missed.
	waiter := e.notifier.Subscribe(queue)
	defer waiter.Close()
	metrics.LongPollWaiters.Inc()
	defer metrics.LongPollWaiters.Dec()

	deadline := time.NewTimer(secondsDuration(waitSeconds))
	defer deadline.Stop()

	for {
		delivered, err = e.acquire(ctx, queue, cfg, max)
		if err != nil || len(delivered) > 0 {
			return delivered, err
		}
		select {
		case <-ctx.Done():
			// Caller deadline: partial (here: empty) result, not an error.
			return nil, nil
		case <-deadline.C:
			return e.acquire(ctx, queue, cfg, max)
		case <-waiter.C:
			// Re-check the store; wakeups are only hints.
		}
	}
}

// acquire performs one bounded acquisition pass: each round selects and
// leases heads in a single store transaction, promotes any exhausted
// messages to the DLQ outside it, and retries for the shortfall. The round
// bound prevents starvation when a run of poisoned messages sits at the
// head.
func (e *Engine) acquire(ctx context.Context, queue string, cfg *store.QueueConfig, max int) ([]DeliveredMessage, error) {
	opts := store.AcquireOptions{
		VisibilityTimeout: secondsDuration(cfg.VisibilityTimeoutSeconds),
		MaxReceiveCount:   cfg.MaxReceiveCount,
		DLQConfigured:     cfg.DLQTarget != "",
		Fifo:              cfg.IsFifo,
	}

	var out []DeliveredMessage
	for round := 0; round < max && len(out) < max; round++ {
		opts.Now = e.now()
		opts.Limit = max - len(out)
		delivered, dlqPending, err := e.store.AcquireBatch(ctx, queue, opts)
		if err != nil {
			return out, err
		}
		for i := range delivered {
			out = append(out, toDelivered(&delivered[i]))
		}
		if len(dlqPending) == 0 {
			break
		}
		for _, id := range dlqPending {
			if err := e.promoteToDLQ(ctx, id, queue, cfg); err != nil {
				return out, err
			}
		}
	}

	if len(out) > 0 {
		metrics.MessagesReceived.WithLabelValues(queue).Add(float64(len(out)))
	}
	return out, nil
}

func toDelivered(m *store.Message) DeliveredMessage {
	return DeliveredMessage{
		ID:             m.ID,
		ReceiptHandle:  m.ID, // receipt handle == message id
		Body:           m.Body,
		Attributes:     unmarshalAttributes(m.Attributes),
		ReceiveCount:   m.ReceiveCount,
		MessageGroupID: m.MessageGroupID,
		SequenceNumber: m.SequenceNumber,
		SentAt:         m.CreatedAt,
	}
}

// DeleteMessage resolves a receipt handle and marks the message deleted.
// Returns false for unknown or already-deleted messages.
func (e *Engine) DeleteMessage(ctx context.Context, receiptHandle string) (bool, error) {
	msg, err := e.store.GetMessage(ctx, receiptHandle)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	deleted, err := e.store.DeleteMessage(ctx, receiptHandle, e.now())
	if err != nil {
		return false, err
	}
	if deleted {
		metrics.MessagesDeleted.WithLabelValues(msg.QueueName).Inc()
	}
	return deleted, nil
}

// RestoreMessage puts a non-active message back to active. Admin operation.
func (e *Engine) RestoreMessage(ctx context.Context, messageID string) (bool, error) {
	restored, err := e.store.RestoreMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if restored {
		log.Info().Str("messageId", messageID).Msg("Message restored")
	}
	return restored, nil
}

// PurgeQueue deletes every message in a queue and returns the count.
func (e *Engine) PurgeQueue(ctx context.Context, queue string) (int64, error) {
	exists, err := e.store.QueueExists(ctx, queue)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrQueueNotFound
	}
	return e.store.PurgeQueue(ctx, queue)
}

// GetQueueMessages lists all message rows in a queue for the admin surface.
func (e *Engine) GetQueueMessages(ctx context.Context, queue string) ([]store.Message, error) {
	exists, err := e.store.QueueExists(ctx, queue)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrQueueNotFound
	}
	return e.store.GetQueueMessages(ctx, queue)
}
