// Package notify implements the per-queue wakeup fabric for long-poll
// receives. It is a lossy broadcast: a dropped wakeup is fine because every
// waiter re-checks the store when its poll timeout fires. The notifier cuts
// latency, it is never a source of truth.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// subscriberBuffer bounds each waiter channel. One pending wakeup is enough;
// receivers coalesce wakeups by re-checking the store.
const subscriberBuffer = 1

// hubBuffer bounds how many subscribers a queue hub tracks before Notify
// starts skipping. Matches the broadcast capacity of the original fabric.
const hubBuffer = 100

// Notifier fans out "something may be ready" signals per queue name.
type Notifier struct {
	mu   sync.Mutex
	hubs map[string]*hub
}

type hub struct {
	subscribers map[*Waiter]struct{}
}

// Waiter is a handle for one long-poll subscriber. Wait on C; call Close
// when done (Close is idempotent).
type Waiter struct {
	C <-chan struct{}

	c        chan struct{}
	queue    string
	notifier *Notifier
	once     sync.Once
}

// New creates an empty notifier.
func New() *Notifier {
	return &Notifier{hubs: make(map[string]*hub)}
}

// Notify wakes every current subscriber of queue without blocking. Wakeups
// to subscribers with a full buffer are dropped.
func (n *Notifier) Notify(queue string) {
	n.mu.Lock()
	h, ok := n.hubs[queue]
	if !ok {
		n.mu.Unlock()
		return
	}
	waiters := make([]*Waiter, 0, len(h.subscribers))
	for w := range h.subscribers {
		waiters = append(waiters, w)
	}
	n.mu.Unlock()

	for _, w := range waiters {
		select {
		case w.c <- struct{}{}:
		default:
			// Lagging receiver; it will re-check on its own timeout.
		}
	}
}

// Subscribe registers a waiter for queue. The hub is allocated lazily.
func (n *Notifier) Subscribe(queue string) *Waiter {
	n.mu.Lock()
	defer n.mu.Unlock()

	h, ok := n.hubs[queue]
	if !ok {
		h = &hub{subscribers: make(map[*Waiter]struct{})}
		n.hubs[queue] = h
	}
	w := &Waiter{
		c:        make(chan struct{}, subscriberBuffer),
		queue:    queue,
		notifier: n,
	}
	w.C = w.c
	if len(h.subscribers) < hubBuffer {
		h.subscribers[w] = struct{}{}
	}
	return w
}

// Close unregisters the waiter.
func (w *Waiter) Close() {
	w.once.Do(func() {
		w.notifier.mu.Lock()
		if h, ok := w.notifier.hubs[w.queue]; ok {
			delete(h.subscribers, w)
		}
		w.notifier.mu.Unlock()
	})
}

// Reap drops hubs without subscribers so long-gone queues do not pin memory.
// Returns the number of hubs dropped.
func (n *Notifier) Reap() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	dropped := 0
	for queue, h := range n.hubs {
		if len(h.subscribers) == 0 {
			delete(n.hubs, queue)
			dropped++
		}
	}
	return dropped
}

// RunReaper reaps idle hubs on the given interval until ctx is cancelled.
func (n *Notifier) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := n.Reap(); dropped > 0 {
				log.Debug().Int("dropped", dropped).Msg("Reaped idle notifier hubs")
			}
		}
	}
}
