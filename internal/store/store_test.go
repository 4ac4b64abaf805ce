package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreateQueue(t *testing.T, s *Store, name string, now time.Time) {
	t.Helper()
	require.NoError(t, s.CreateQueue(context.Background(), name, now, nil, false))
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	parsed, err := ParseTime(FormatTime(now))
	require.NoError(t, err)
	assert.True(t, now.Equal(parsed))
}

func TestTimeFormatPreservesOrdering(t *testing.T) {
	// Lexicographic ordering of the stored form must match chronological
	// ordering, including across second boundaries with sub-second parts.
	times := []time.Time{
		time.Date(2026, 1, 1, 0, 0, 9, 900_000_000, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 10, 100_000_000, time.UTC),
	}
	for i := 1; i < len(times); i++ {
		assert.Less(t, FormatTime(times[i-1]), FormatTime(times[i]))
	}
}

func TestCreateQueueIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateQueue(ctx, "orders", now, nil, false))
	require.NoError(t, s.CreateQueue(ctx, "orders", now.Add(time.Hour), nil, false))

	queues, err := s.ListQueues(ctx)
	require.NoError(t, err)
	require.Len(t, queues, 1)
	assert.Equal(t, "orders", queues[0].Name)
}

func TestCreateQueueKeepsConfigOnRecreate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	cfg := &QueueConfig{Name: "orders", VisibilityTimeoutSeconds: 60, RetentionPeriodSeconds: 3600}
	require.NoError(t, s.CreateQueue(ctx, "orders", now, cfg, true))

	// Implicit re-create must not clobber the stored config.
	other := &QueueConfig{Name: "orders", VisibilityTimeoutSeconds: 5, RetentionPeriodSeconds: 60}
	require.NoError(t, s.CreateQueue(ctx, "orders", now, other, false))

	got, err := s.GetQueueConfig(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 60, got.VisibilityTimeoutSeconds)
}

func TestDeleteQueueCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)

	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m1", QueueName: "orders", Body: "x", CreatedAt: now}))

	deleted, err := s.DeleteQueue(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err = s.DeleteQueue(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestInsertAndAcquire(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)

	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m1", QueueName: "orders", Body: "hello", CreatedAt: now}))

	delivered, dlq, err := s.AcquireBatch(ctx, "orders", AcquireOptions{
		Now:               now.Add(time.Second),
		VisibilityTimeout: 30 * time.Second,
		Limit:             10,
	})
	require.NoError(t, err)
	assert.Empty(t, dlq)
	require.Len(t, delivered, 1)
	assert.Equal(t, "m1", delivered[0].ID)
	assert.Equal(t, 1, delivered[0].ReceiveCount)
	assert.Equal(t, StatusProcessing, delivered[0].Status)

	// While the lease holds, the message is invisible.
	delivered, _, err = s.AcquireBatch(ctx, "orders", AcquireOptions{
		Now:               now.Add(2 * time.Second),
		VisibilityTimeout: 30 * time.Second,
		Limit:             10,
	})
	require.NoError(t, err)
	assert.Empty(t, delivered)
}

func TestAcquireRedeliversAfterLeaseExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)
	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m1", QueueName: "orders", Body: "x", CreatedAt: now}))

	_, _, err := s.AcquireBatch(ctx, "orders", AcquireOptions{Now: now, VisibilityTimeout: 10 * time.Second, Limit: 1})
	require.NoError(t, err)

	// Once the deadline passes, receive alone redelivers; no background
	// reclaim is needed.
	delivered, _, err := s.AcquireBatch(ctx, "orders", AcquireOptions{Now: now.Add(time.Minute), VisibilityTimeout: 10 * time.Second, Limit: 1})
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, "m1", delivered[0].ID)
	assert.Equal(t, 2, delivered[0].ReceiveCount)
}

func TestAcquireSkipsDelayedMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)

	delayUntil := now.Add(time.Minute)
	require.NoError(t, s.InsertMessage(ctx, &Message{
		ID: "m1", QueueName: "orders", Body: "later", CreatedAt: now, DelayUntil: &delayUntil,
	}))

	delivered, _, err := s.AcquireBatch(ctx, "orders", AcquireOptions{Now: now.Add(time.Second), Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, delivered)

	delivered, _, err = s.AcquireBatch(ctx, "orders", AcquireOptions{Now: now.Add(2 * time.Minute), Limit: 1})
	require.NoError(t, err)
	assert.Len(t, delivered, 1)
}

func TestDedupWindowSuppressesResend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders.fifo", now)

	msg := &Message{ID: "m1", QueueName: "orders.fifo", Body: "x", CreatedAt: now, DeduplicationID: "dedup-1", SequenceNumber: -1}
	require.NoError(t, s.InsertMessage(ctx, msg))

	dup := &Message{ID: "m2", QueueName: "orders.fifo", Body: "x", CreatedAt: now.Add(time.Minute), DeduplicationID: "dedup-1", SequenceNumber: -1}
	assert.ErrorIs(t, s.InsertMessage(ctx, dup), ErrDuplicate)

	// Outside the window the same dedup id is a fresh message again.
	late := &Message{ID: "m3", QueueName: "orders.fifo", Body: "x", CreatedAt: now.Add(DedupWindow + time.Minute), DeduplicationID: "dedup-1", SequenceNumber: -1}
	assert.NoError(t, s.InsertMessage(ctx, late))
}

func TestSequenceAllocationIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders.fifo", now)

	for i, id := range []string{"m1", "m2", "m3"} {
		msg := &Message{ID: id, QueueName: "orders.fifo", Body: "x", CreatedAt: now.Add(time.Duration(i) * time.Millisecond), SequenceNumber: -1}
		require.NoError(t, s.InsertMessage(ctx, msg))
		assert.Equal(t, int64(i+1), msg.SequenceNumber)
	}
}

func TestAcquireFifoOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders.fifo", now)

	// Insert out of created_at order; sequence must win.
	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m1", QueueName: "orders.fifo", Body: "first", CreatedAt: now.Add(time.Second), SequenceNumber: -1}))
	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m2", QueueName: "orders.fifo", Body: "second", CreatedAt: now, SequenceNumber: -1}))

	delivered, _, err := s.AcquireBatch(ctx, "orders.fifo", AcquireOptions{
		Now: now.Add(time.Minute), VisibilityTimeout: time.Minute, Fifo: true, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, delivered, 2)
	assert.Equal(t, "m1", delivered[0].ID)
	assert.Equal(t, "m2", delivered[1].ID)
}

func TestAcquireMarksExhaustedDLQPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)

	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m1", QueueName: "orders", Body: "poison", CreatedAt: now}))

	opts := AcquireOptions{VisibilityTimeout: time.Second, MaxReceiveCount: 2, DLQConfigured: true, Limit: 1}

	// Two deliveries with expiring leases.
	for i := 0; i < 2; i++ {
		opts.Now = now.Add(time.Duration(i) * time.Minute)
		delivered, dlq, err := s.AcquireBatch(ctx, "orders", opts)
		require.NoError(t, err)
		require.Len(t, delivered, 1)
		assert.Empty(t, dlq)
		_, err = s.ReclaimExpired(ctx, opts.Now.Add(time.Minute))
		require.NoError(t, err)
	}

	// Third attempt would exceed max receive count.
	opts.Now = now.Add(time.Hour)
	delivered, dlq, err := s.AcquireBatch(ctx, "orders", opts)
	require.NoError(t, err)
	assert.Empty(t, delivered)
	require.Len(t, dlq, 1)
	assert.Equal(t, "m1", dlq[0])

	msg, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusDLQPending, msg.Status)
}

func TestDeleteMessageIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)
	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m1", QueueName: "orders", Body: "x", CreatedAt: now}))

	deleted, err := s.DeleteMessage(ctx, "m1", now)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteMessage(ctx, "m1", now)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestReclaimExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)
	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m1", QueueName: "orders", Body: "x", CreatedAt: now}))

	_, _, err := s.AcquireBatch(ctx, "orders", AcquireOptions{Now: now, VisibilityTimeout: 10 * time.Second, Limit: 1})
	require.NoError(t, err)

	// Before the deadline nothing is reclaimed.
	n, err := s.ReclaimExpired(ctx, now.Add(5*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.ReclaimExpired(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msg, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, msg.Status)
	assert.Nil(t, msg.VisibilityDeadline)
	// Receive count survives the reclaim.
	assert.Equal(t, 1, msg.ReceiveCount)
}

func TestDeleteOlderThanRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)

	old := now.Add(-48 * time.Hour)
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.InsertMessage(ctx, &Message{ID: id, QueueName: "orders", Body: "x", CreatedAt: old}))
	}
	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m4", QueueName: "orders", Body: "x", CreatedAt: now}))

	n, err := s.DeleteOlderThan(ctx, now.Add(-24*time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteOlderThan(ctx, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Fresh messages survive.
	_, err = s.GetMessage(ctx, "m4")
	assert.NoError(t, err)
}

func TestQueueAttributesCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)

	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m1", QueueName: "orders", Body: "x", CreatedAt: now}))
	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m2", QueueName: "orders", Body: "y", CreatedAt: now}))

	_, _, err := s.AcquireBatch(ctx, "orders", AcquireOptions{Now: now, VisibilityTimeout: time.Minute, Limit: 1})
	require.NoError(t, err)

	attrs, err := s.GetQueueAttributes(ctx, "orders", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), attrs.ApproximateVisible)
	assert.Equal(t, int64(1), attrs.ApproximateInFlight)
}

func TestMoveToDLQConservesMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)
	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m1", QueueName: "orders", Body: "poison", CreatedAt: now}))

	moved, err := s.MoveToDLQ(ctx, "m1", "orders-dlq", "exceeded max receive count", now)
	require.NoError(t, err)
	assert.True(t, moved)

	// Gone from the source table, present exactly once in the DLQ table.
	_, err = s.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)

	records, err := s.GetDLQMessages(ctx, "orders-dlq")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "m1", records[0].ID)
	assert.Equal(t, "orders", records[0].OriginalQueue)
	assert.Equal(t, "poison", records[0].OriginalBody)

	// Losing the race (row already gone) is not an error.
	moved, err = s.MoveToDLQ(ctx, "m1", "orders-dlq", "again", now)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestRedriveDLQ(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)
	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "m1", QueueName: "orders", Body: "poison", CreatedAt: now, ReceiveCount: 0}))
	_, err := s.MoveToDLQ(ctx, "m1", "orders-dlq", "reason", now)
	require.NoError(t, err)

	next := 0
	newID := func() string {
		next++
		return "redriven-" + string(rune('0'+next))
	}
	count, err := s.RedriveDLQ(ctx, "orders-dlq", "orders", 10, false, now.Add(time.Minute), newID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	records, err := s.GetDLQMessages(ctx, "orders-dlq")
	require.NoError(t, err)
	assert.Empty(t, records)

	msgs, err := s.GetQueueMessages(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "poison", msgs[0].Body)
	assert.Equal(t, StatusActive, msgs[0].Status)
	// Redriven messages start over.
	assert.Zero(t, msgs[0].ReceiveCount)
}

func TestRedriveDLQFifoAllocatesSequence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders.fifo", now)

	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "p1", QueueName: "orders.fifo", Body: "p1", CreatedAt: now, SequenceNumber: -1}))
	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "p2", QueueName: "orders.fifo", Body: "p2", CreatedAt: now, SequenceNumber: -1}))
	for _, id := range []string{"p1", "p2"} {
		_, err := s.MoveToDLQ(ctx, id, "orders-dlq.fifo", "reason", now)
		require.NoError(t, err)
	}
	require.NoError(t, s.InsertMessage(ctx, &Message{ID: "live", QueueName: "orders.fifo", Body: "live", CreatedAt: now, SequenceNumber: -1}))

	next := 0
	newID := func() string {
		next++
		return "redriven-" + string(rune('0'+next))
	}
	count, err := s.RedriveDLQ(ctx, "orders-dlq.fifo", "orders.fifo", 10, true, now.Add(time.Minute), newID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Redriven rows continue the queue-wide sequence past the live message
	// and land in the default group, so they queue behind existing traffic.
	delivered, _, err := s.AcquireBatch(ctx, "orders.fifo", AcquireOptions{
		Now: now.Add(2 * time.Minute), VisibilityTimeout: time.Minute, Limit: 10, Fifo: true,
	})
	require.NoError(t, err)
	require.Len(t, delivered, 3)
	assert.Equal(t, "live", delivered[0].Body)
	assert.Equal(t, "p1", delivered[1].Body)
	assert.Equal(t, "p2", delivered[2].Body)
	for _, m := range delivered[1:] {
		assert.Equal(t, "default", m.MessageGroupID)
		assert.Greater(t, m.SequenceNumber, delivered[0].SequenceNumber)
	}
}

func TestPurgeQueue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, s, "orders", now)
	for _, id := range []string{"m1", "m2"} {
		require.NoError(t, s.InsertMessage(ctx, &Message{ID: id, QueueName: "orders", Body: "x", CreatedAt: now}))
	}

	n, err := s.PurgeQueue(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	msgs, err := s.GetQueueMessages(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.migrate(context.Background()))
}
