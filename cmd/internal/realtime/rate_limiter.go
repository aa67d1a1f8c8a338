package realtime

import (
	"sync"
	"time"
)

// RateLimiter budgets inbound wire events for one connection over a rolling
// window. Each websocket session owns its own limiter.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	head   int
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter, substituting the gateway defaults
// for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{limit: limit, window: window}
}

// Allow records an event at now and reports whether it fits the budget.
// Events arrive in timestamp order from a single read loop, so expired
// entries only ever leave from the front of the queue.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	for r.head < len(r.stamps) && !r.stamps[r.head].After(cut) {
		r.head++
	}
	if r.head > r.limit {
		// Reclaim the consumed prefix once it outgrows the budget.
		r.stamps = append(r.stamps[:0], r.stamps[r.head:]...)
		r.head = 0
	}

	if len(r.stamps)-r.head >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}
