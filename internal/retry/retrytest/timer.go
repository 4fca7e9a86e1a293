// Package retrytest provides a retry timer that never sleeps.
package retrytest

import (
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/andresuchdata/dergi/internal/retry"
)

// Clock hands out timers that fire immediately and records the requested
// delays.
type Clock struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Option returns a retry option wiring the clock in.
func (c *Clock) Option() retry.Option {
	return retry.WithTimer(func() backoff.Timer {
		return &timer{clock: c, ch: make(chan time.Time, 1)}
	})
}

// Delays returns every delay requested so far.
func (c *Clock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// Slept returns the sum of the requested delays.
func (c *Clock) Slept() time.Duration {
	var total time.Duration
	for _, d := range c.Delays() {
		total += d
	}
	return total
}

// Instant is a shorthand for a fresh Clock's option.
func Instant() retry.Option {
	return new(Clock).Option()
}

type timer struct {
	clock *Clock
	ch    chan time.Time
}

func (t *timer) Start(d time.Duration) {
	t.clock.mu.Lock()
	t.clock.delays = append(t.clock.delays, d)
	t.clock.mu.Unlock()
	t.ch <- time.Now()
}

func (t *timer) Stop()               {}
func (t *timer) C() <-chan time.Time { return t.ch }
