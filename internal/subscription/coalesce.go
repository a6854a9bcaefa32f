package subscription

import (
	"sync"
	"time"
)

// Coalescer collapses bursts of values into the most recent one.
//
// The first Push after an idle period arms a timer for the window; when it
// fires the latest pushed value is delivered. A value therefore waits at most
// one window, even under a continuous stream.
type Coalescer struct {
	window  time.Duration
	deliver func(any)

	mu         sync.Mutex
	pending    any
	hasPending bool
	timer      *time.Timer
	stopped    bool
}

// NewCoalescer creates a coalescer that calls deliver with the latest value
// at most once per window.
func NewCoalescer(window time.Duration, deliver func(any)) *Coalescer {
	return &Coalescer{window: window, deliver: deliver}
}

// Push records v as the latest value. Pushes after Stop are ignored.
func (c *Coalescer) Push(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	c.pending = v
	c.hasPending = true
	if c.timer == nil {
		c.timer = time.AfterFunc(c.window, c.fire)
	}
}

// Flush delivers the pending value now instead of waiting for the timer.
// It returns false when nothing was pending.
func (c *Coalescer) Flush() bool {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	v, ok := c.take()
	c.mu.Unlock()

	if ok {
		c.deliver(v)
	}
	return ok
}

// Stop cancels the timer and discards any pending value.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
	c.hasPending = false
}

// Pending reports whether a value is waiting for the window to elapse.
func (c *Coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPending
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	c.timer = nil
	v, ok := c.take()
	c.mu.Unlock()

	if ok {
		c.deliver(v)
	}
}

// take removes the pending value. Must be called with c.mu held.
func (c *Coalescer) take() (any, bool) {
	if c.stopped || !c.hasPending {
		return nil, false
	}
	v := c.pending
	c.pending = nil
	c.hasPending = false
	return v, true
}
