package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Long-poll tests use real time for the wait itself; only message
// timestamps come from the test clock.

func TestLongPollWakesOnSend(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueue(ctx, "orders", nil))

	type result struct {
		delivered []DeliveredMessage
		err       error
	}
	done := make(chan result, 1)
	go func() {
		delivered, err := e.ReceiveMessages(ctx, "orders", 1, 10)
		done <- result{delivered, err}
	}()

	// Give the receiver time to park, then send.
	time.Sleep(100 * time.Millisecond)
	_, err := e.SendMessage(ctx, SendInput{Queue: "orders", Body: "wake up"})
	require.NoError(t, err)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.Len(t, res.delivered, 1)
		assert.Equal(t, "wake up", res.delivered[0].Body)
	case <-time.After(5 * time.Second):
		t.Fatal("long poll did not wake on send")
	}
}

func TestLongPollTimesOutEmpty(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueue(ctx, "orders", nil))

	start := time.Now()
	delivered, err := e.ReceiveMessages(ctx, "orders", 1, 1)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Empty(t, delivered)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
}

func TestLongPollReturnsImmediatelyWhenNonEmpty(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueue(ctx, "orders", nil))

	_, err := e.SendMessage(ctx, SendInput{Queue: "orders", Body: "already here"})
	require.NoError(t, err)

	start := time.Now()
	delivered, err := e.ReceiveMessages(ctx, "orders", 1, 20)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLongPollCancelledContext(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.CreateQueue(context.Background(), "orders", nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		delivered, err := e.ReceiveMessages(ctx, "orders", 1, 20)
		assert.NoError(t, err)
		assert.Empty(t, delivered)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("long poll did not unwind on context cancellation")
	}
}

func TestQueueDefaultWaitTimeApplies(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueueWithAttributes(ctx, "orders", map[string]string{
		"ReceiveMessageWaitTimeSeconds": "1",
	}))

	// WaitTimeSeconds omitted: the queue default of one second applies.
	start := time.Now()
	delivered, err := e.ReceiveMessages(ctx, "orders", 1, 0)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Empty(t, delivered)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
}
