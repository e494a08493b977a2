package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Handler is invoked by the coalescer once per settled wake. It returns
// the outcome Status alongside any error.
type Handler func(ctx context.Context, reason WakeReason) (Status, error)

// Coalescer merges wake requests that arrive within coalesceMs of each
// other into a single Handler call. Single-threaded cooperative: at
// most one Handler invocation is in flight at a time.
type Coalescer struct {
	handler    Handler
	coalesceMs time.Duration
	retryMs    time.Duration

	mu        sync.Mutex
	armed     bool
	running   bool
	scheduled bool
	pending   bool
	reason    WakeReason
	timer     *time.Timer
	stopped   bool
}

// NewCoalescer builds a Coalescer. coalesceMs and retryMs use the
// design's defaults (250ms, 1s) when zero.
func NewCoalescer(handler Handler, coalesceMs, retryMs time.Duration) *Coalescer {
	if coalesceMs <= 0 {
		coalesceMs = 250 * time.Millisecond
	}
	if retryMs <= 0 {
		retryMs = time.Second
	}
	return &Coalescer{handler: handler, coalesceMs: coalesceMs, retryMs: retryMs}
}

// Request records a pending wake reason and arms the coalescing timer
// unless it's already armed. Later reasons within the same window
// overwrite the stored reason (last one wins).
func (c *Coalescer) Request(reason WakeReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.pending = true
	c.reason = reason
	if c.armed {
		return
	}
	c.arm(c.coalesceMs)
}

// arm must be called with mu held.
func (c *Coalescer) arm(d time.Duration) {
	c.armed = true
	c.timer = time.AfterFunc(d, c.fire)
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	c.armed = false

	if c.stopped {
		c.mu.Unlock()
		return
	}

	if c.running {
		c.scheduled = true
		c.arm(c.coalesceMs)
		c.mu.Unlock()
		return
	}

	reason := c.reason
	c.pending = false
	c.scheduled = false
	c.running = true
	c.mu.Unlock()

	status, err := c.invoke(reason)

	c.mu.Lock()
	c.running = false

	rearmDelay := time.Duration(0)
	rearm := false
	switch {
	case err != nil:
		rearm, rearmDelay = true, c.retryMs
	case status == StatusSkippedRequestsInFlight:
		rearm, rearmDelay = true, c.retryMs
	case c.pending || c.scheduled:
		rearm, rearmDelay = true, c.coalesceMs
	}
	if rearm && !c.stopped && !c.armed {
		c.arm(rearmDelay)
	}
	c.mu.Unlock()
}

func (c *Coalescer) invoke(reason WakeReason) (status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat handler panic: %v", r)
		}
	}()
	return c.handler(context.Background(), reason)
}

// Stop cancels any armed timer and drops pending state. A Handler
// already in flight is allowed to finish but will not rearm.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.pending = false
	c.scheduled = false
	if c.timer != nil {
		c.timer.Stop()
	}
	c.armed = false
}

// InFlight reports whether a Handler call is currently executing, for
// callers whose Handler needs to report "requests-in-flight" itself
// (e.g. a manual trigger arriving while a timer-driven wake runs).
func (c *Coalescer) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
