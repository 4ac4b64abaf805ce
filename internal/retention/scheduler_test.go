package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qlite/qlite/internal/config"
	"github.com/qlite/qlite/internal/engine"
	"github.com/qlite/qlite/internal/notify"
	"github.com/qlite/qlite/internal/store"
)

func TestInterval(t *testing.T) {
	cases := []struct {
		seconds int
		want    time.Duration
	}{
		{1, time.Minute},
		{59, time.Minute},
		{60, time.Minute},
		{90, time.Minute},
		{120, 2 * time.Minute},
		{3599, 59 * time.Minute},
		{3600, time.Hour},
		{7200, 2 * time.Hour},
		{86400, 24 * time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Interval(tc.seconds), "seconds=%d", tc.seconds)
	}
}

func newRetentionEngine(t *testing.T) *engine.Engine {
	t.Helper()
	s, err := store.Open(t.TempDir()+"/retention.db", store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return engine.New(s, notify.New(), config.Default().Queues)
}

func TestCleanupKeepForeverReclaimsLeases(t *testing.T) {
	e := newRetentionEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueue(ctx, "orders", nil))

	// A message with an already-expired lease, as left behind by a crashed
	// consumer.
	now := time.Now().Add(-time.Hour)
	msg := &store.Message{ID: "m1", QueueName: "orders", Body: "x", CreatedAt: now}
	require.NoError(t, e.Store().InsertMessage(ctx, msg))
	_, _, err := e.Store().AcquireBatch(ctx, "orders", store.AcquireOptions{
		Now: now, VisibilityTimeout: time.Minute, Limit: 1,
	})
	require.NoError(t, err)

	affected, err := e.CleanupExpired(ctx, config.RetentionConfig{Mode: config.RetentionKeepForever})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	got, err := e.Store().GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, got.Status)
}

func TestCleanupDeleteModeRemovesOldMessages(t *testing.T) {
	e := newRetentionEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueue(ctx, "orders", nil))

	old := time.Now().Add(-15 * 24 * time.Hour)
	require.NoError(t, e.Store().InsertMessage(ctx, &store.Message{ID: "old", QueueName: "orders", Body: "x", CreatedAt: old}))
	require.NoError(t, e.Store().InsertMessage(ctx, &store.Message{ID: "fresh", QueueName: "orders", Body: "x", CreatedAt: time.Now()}))

	affected, err := e.CleanupExpired(ctx, config.RetentionConfig{
		Mode:            config.RetentionDelete,
		DeleteAfterDays: 14,
		BatchSize:       100,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	_, err = e.Store().GetMessage(ctx, "old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = e.Store().GetMessage(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSchedulerStartStop(t *testing.T) {
	e := newRetentionEngine(t)
	s := NewScheduler(e, config.RetentionConfig{CleanupIntervalSeconds: 3600, Mode: config.RetentionKeepForever})

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	e := newRetentionEngine(t)
	s := NewScheduler(e, config.RetentionConfig{CleanupIntervalSeconds: 60, Mode: config.RetentionKeepForever})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
