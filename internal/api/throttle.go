package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/qlite/qlite/internal/engine"
)

// timeNow is swapped out by tests.
var timeNow = time.Now

// throttler enforces the per-queue FIFO throughput limit. Standard queues
// are never throttled. A limit of 0 disables throttling entirely.
type throttler struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   int
}

func newThrottler(perSecond int) *throttler {
	return &throttler{
		limiters: make(map[string]*rate.Limiter),
		perSec:   perSecond,
	}
}

// allow reports whether n sends to queue fit inside the throughput limit.
func (t *throttler) allow(queue string, n int) bool {
	if t.perSec <= 0 || !engine.IsFifoQueue(queue) {
		return true
	}
	if n <= 0 {
		n = 1
	}
	t.mu.Lock()
	lim, ok := t.limiters[queue]
	if !ok {
		// Burst equals the per-second rate so a quiet queue can absorb a
		// full second's worth at once.
		lim = rate.NewLimiter(rate.Limit(t.perSec), t.perSec)
		t.limiters[queue] = lim
	}
	t.mu.Unlock()
	return lim.AllowN(timeNow(), n)
}

func (s *Server) allowSend(queue string, n int) bool {
	return s.throttle.allow(queue, n)
}
