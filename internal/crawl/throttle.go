package crawl

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Throttle enforces a minimum spacing between outbound requests across all
// workers. It is a single shared object: one lock, one "next allowed time"
// cursor. Turns are granted in the order callers reach the lock, so the
// global request rate stays bounded no matter how many workers run.
type Throttle struct {
	mu    sync.Mutex
	delay time.Duration
	next  time.Time
	now   func() time.Time
}

// NewThrottle builds a throttle with the given minimum inter-request delay.
// A zero or negative delay disables waiting entirely.
func NewThrottle(delay time.Duration) *Throttle {
	return &Throttle{
		delay: delay,
		now:   time.Now,
	}
}

// Wait blocks until at least the configured delay has elapsed since the
// previous turn was granted to any caller, or until ctx is done. Each call
// reserves its slot under the lock, then sleeps outside it, so a canceled
// waiter never stalls the queue behind it.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.delay <= 0 {
		return ctx.Err()
	}

	t.mu.Lock()
	now := t.now()
	wait := t.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	t.next = now.Add(wait + t.delay)
	t.mu.Unlock()

	if wait == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("throttle wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
