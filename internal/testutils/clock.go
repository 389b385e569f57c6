package testutils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/jzx17/bffkit/pkg/types"
)

// VirtualClock implements types.Clock on top of quartz.Mock.
// Arming a timer advances the mock by the timer duration, so waits complete
// immediately while Now() reflects the simulated passage of time. Every
// requested wait is recorded in order.
type VirtualClock struct {
	mock *quartz.Mock

	mu     sync.Mutex
	pauses []time.Duration
}

// NewVirtualClock creates a virtual clock for the test
func NewVirtualClock(t testing.TB) *VirtualClock {
	return &VirtualClock{mock: quartz.NewMock(t)}
}

// Mock exposes the underlying quartz mock
func (c *VirtualClock) Mock() *quartz.Mock {
	return c.mock
}

// Now returns the current time
func (c *VirtualClock) Now() time.Time {
	return c.mock.Now()
}

// Since returns the time elapsed since t
func (c *VirtualClock) Since(t time.Time) time.Duration {
	return c.mock.Since(t)
}

// NewTimer records d, creates a mock timer and advances the mock until it fires
func (c *VirtualClock) NewTimer(d time.Duration) types.Timer {
	c.mu.Lock()
	c.pauses = append(c.pauses, d)
	c.mu.Unlock()

	timer := c.mock.NewTimer(d)
	if d > 0 {
		c.mock.Advance(d).MustWait(context.Background())
	}
	return &TimerWrapper{timer: timer}
}

// Advance moves simulated time forward, e.g. to model a slow operation
func (c *VirtualClock) Advance(d time.Duration) {
	c.mock.Advance(d).MustWait(context.Background())
}

// Pauses returns the waits requested so far
func (c *VirtualClock) Pauses() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.pauses...)
}

// Elapsed returns the sum of recorded waits
func (c *VirtualClock) Elapsed() time.Duration {
	var total time.Duration
	for _, d := range c.Pauses() {
		total += d
	}
	return total
}

// TimerWrapper wraps quartz timer
type TimerWrapper struct {
	timer *quartz.Timer
}

func (t *TimerWrapper) C() <-chan time.Time {
	return t.timer.C
}

func (t *TimerWrapper) Stop() bool {
	return t.timer.Stop()
}

// WithVirtualClock creates a context carrying the virtual clock
func WithVirtualClock(ctx context.Context, clock *VirtualClock) context.Context {
	return types.WithClock(ctx, clock)
}
