package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/qlite/qlite/internal/common/metrics"
	"github.com/qlite/qlite/internal/store"
)

// promoteToDLQ moves a dlq_pending message into its queue's dead-letter
// table. The store move is atomic; losing the race to a concurrent receiver
// is not an error.
func (e *Engine) promoteToDLQ(ctx context.Context, messageID, queue string, cfg *store.QueueConfig) error {
	dlq := dlqQueueName(cfg.DLQTarget)
	reason := fmt.Sprintf("Message exceeded max receive count of %d", cfg.MaxReceiveCount)
	moved, err := e.store.MoveToDLQ(ctx, messageID, dlq, reason, e.now())
	if err != nil {
		return err
	}
	if moved {
		metrics.DLQPromotions.WithLabelValues(queue).Inc()
		log.Info().
			Str("queue", queue).
			Str("dlq", dlq).
			Str("messageId", messageID).
			Int("maxReceiveCount", cfg.MaxReceiveCount).
			Msg("Message moved to DLQ")
	}
	return nil
}

// GetDLQMessages lists dead-letter records, most recently moved first.
func (e *Engine) GetDLQMessages(ctx context.Context, dlqQueue string) ([]store.DLQMessage, error) {
	return e.store.GetDLQMessages(ctx, dlqQueue)
}

// RedriveDLQMessages moves up to max dead-letter records back into
// sourceQueue as fresh messages and reports how many moved. max <= 0 uses
// the default of 10.
func (e *Engine) RedriveDLQMessages(ctx context.Context, dlqQueue, sourceQueue string, max int) (int, error) {
	exists, err := e.store.QueueExists(ctx, sourceQueue)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrQueueNotFound
	}
	if max <= 0 {
		max = DefaultRedriveMaximum
	}
	count, err := e.store.RedriveDLQ(ctx, dlqQueue, sourceQueue, max, IsFifoQueue(sourceQueue), e.now(), uuid.NewString)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		metrics.DLQRedriven.WithLabelValues(dlqQueue).Add(float64(count))
		e.notifier.Notify(sourceQueue)
		log.Info().
			Str("dlq", dlqQueue).
			Str("sourceQueue", sourceQueue).
			Int("count", count).
			Msg("DLQ messages redriven")
	}
	return count, nil
}

// PurgeDLQ removes every dead-letter record for a DLQ and returns the count.
func (e *Engine) PurgeDLQ(ctx context.Context, dlqQueue string) (int64, error) {
	return e.store.PurgeDLQ(ctx, dlqQueue)
}
