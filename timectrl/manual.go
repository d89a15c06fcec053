package timectrl

import (
	"sync"
	"time"
)

// ManualClock is a SimClock moved only by explicit calls. Tests and the
// headless runner use it to get reproducible timing.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

// NewManualClock returns a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements SimClock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After implements SimClock.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var ready []chan time.Time
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(now) {
			ready = append(ready, w.ch)
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
	c.mu.Unlock()

	release(ready, now)
	return now
}
