package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFifoStrictOrdering(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueue(ctx, "orders.fifo", nil))

	var ids []string
	for _, body := range []string{"one", "two", "three"} {
		id, err := e.SendMessage(ctx, SendInput{Queue: "orders.fifo", Body: body, DeduplicationID: "d-" + body})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	clock.Advance(time.Second)
	delivered, err := e.ReceiveMessages(ctx, "orders.fifo", 10, 0)
	require.NoError(t, err)
	require.Len(t, delivered, 3)
	for i := range delivered {
		assert.Equal(t, ids[i], delivered[i].ID)
	}
	// Sequence numbers are strictly increasing.
	for i := 1; i < len(delivered); i++ {
		assert.Greater(t, delivered[i].SequenceNumber, delivered[i-1].SequenceNumber)
	}
}

func TestFifoDefaultMessageGroup(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueue(ctx, "orders.fifo", nil))

	_, err := e.SendMessage(ctx, SendInput{Queue: "orders.fifo", Body: "x", DeduplicationID: "d1"})
	require.NoError(t, err)
	_, err = e.SendMessage(ctx, SendInput{Queue: "orders.fifo", Body: "y", DeduplicationID: "d2", MessageGroupID: "tenant-a"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	delivered, err := e.ReceiveMessages(ctx, "orders.fifo", 10, 0)
	require.NoError(t, err)
	require.Len(t, delivered, 2)
	assert.Equal(t, DefaultMessageGroup, delivered[0].MessageGroupID)
	assert.Equal(t, "tenant-a", delivered[1].MessageGroupID)
}

func TestFifoExplicitDeduplication(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueue(ctx, "orders.fifo", nil))

	first, err := e.SendMessage(ctx, SendInput{Queue: "orders.fifo", Body: "a", DeduplicationID: "dup"})
	require.NoError(t, err)

	// Duplicate send succeeds (with an id) but inserts nothing.
	second, err := e.SendMessage(ctx, SendInput{Queue: "orders.fifo", Body: "b", DeduplicationID: "dup"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	clock.Advance(time.Second)
	delivered, err := e.ReceiveMessages(ctx, "orders.fifo", 10, 0)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, "a", delivered[0].Body)
}

func TestFifoContentBasedDeduplication(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueue(ctx, "orders.fifo", nil))

	_, err := e.SendMessage(ctx, SendInput{Queue: "orders.fifo", Body: "same body"})
	require.NoError(t, err)
	_, err = e.SendMessage(ctx, SendInput{Queue: "orders.fifo", Body: "same body"})
	require.NoError(t, err)
	_, err = e.SendMessage(ctx, SendInput{Queue: "orders.fifo", Body: "different body"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	delivered, err := e.ReceiveMessages(ctx, "orders.fifo", 10, 0)
	require.NoError(t, err)
	assert.Len(t, delivered, 2)
}

func TestFifoDedupExpiresWithWindow(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueue(ctx, "orders.fifo", nil))

	_, err := e.SendMessage(ctx, SendInput{Queue: "orders.fifo", Body: "same body"})
	require.NoError(t, err)

	// Past the window the identical body is a new message.
	clock.Advance(6 * time.Minute)
	_, err = e.SendMessage(ctx, SendInput{Queue: "orders.fifo", Body: "same body"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	delivered, err := e.ReceiveMessages(ctx, "orders.fifo", 10, 0)
	require.NoError(t, err)
	assert.Len(t, delivered, 2)
}

func TestStandardQueueIgnoresContentDedup(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateQueue(ctx, "orders", nil))

	_, err := e.SendMessage(ctx, SendInput{Queue: "orders", Body: "same body"})
	require.NoError(t, err)
	_, err = e.SendMessage(ctx, SendInput{Queue: "orders", Body: "same body"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	delivered, err := e.ReceiveMessages(ctx, "orders", 10, 0)
	require.NoError(t, err)
	assert.Len(t, delivered, 2)
}
