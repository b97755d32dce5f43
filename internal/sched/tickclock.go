// internal/sched/tickclock.go

package sched

import (
	"context"
	"sync/atomic"
	"time"
)

// TickSource raises the periodic tick interrupt. Poll and Wait are only called
// by the context that currently holds the CPU, so they need no locking of
// their own.
type TickSource interface {
	Start(interval time.Duration)
	Stop()
	// Poll returns the number of ticks raised since the last Poll or Wait
	// without blocking.
	Poll() Tick
	// Wait blocks until at least one tick has been raised.
	Wait(ctx context.Context) (Tick, error)
}

// TickClock emits ticks from a wall-clock ticker and counts them atomically.
type TickClock struct {
	Ch    chan struct{}
	count atomic.Int64
	seen  int64
	stop  chan struct{}
}

// NewTickClock creates a clock but does not start it.
func NewTickClock() *TickClock {
	return &TickClock{
		Ch:   make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Start begins emitting ticks at the given interval.
func (c *TickClock) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.count.Add(1)
				// Ch only wakes a waiter; the counter is authoritative.
				select {
				case c.Ch <- struct{}{}:
				default:
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop signals the clock to stop emitting ticks.
func (c *TickClock) Stop() {
	close(c.stop)
}

// Count returns the number of ticks raised so far.
func (c *TickClock) Count() int64 {
	return c.count.Load()
}

func (c *TickClock) Poll() Tick {
	now := c.count.Load()
	n := now - c.seen
	c.seen = now
	return Tick(n)
}

func (c *TickClock) Wait(ctx context.Context) (Tick, error) {
	for {
		if n := c.Poll(); n > 0 {
			return n, nil
		}
		select {
		case <-c.Ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// VirtualClock is a tick source that never sleeps: every Wait raises exactly
// one tick at once and Poll never reports spontaneous ticks. Time therefore
// only moves while the system is idle or a task spins, which makes runs
// reproducible.
type VirtualClock struct{}

func (VirtualClock) Start(time.Duration) {}
func (VirtualClock) Stop()               {}
func (VirtualClock) Poll() Tick          { return 0 }

func (VirtualClock) Wait(ctx context.Context) (Tick, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return 1, nil
}
