// Package clock abstracts time for the capture and recognition polling loops.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and timed waits.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now.
func (Real) Now() time.Time { return time.Now() }

// After returns time.After.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Instant is a clock for tests: every After fires immediately and moves Now forward by d,
// so a loop that waits 100 times for 100ms observes 10s of elapsed time without sleeping.
type Instant struct {
	mu     sync.Mutex
	now    time.Time
	waited time.Duration
}

// NewInstant creates an Instant clock starting at start.
func NewInstant(start time.Time) *Instant {
	return &Instant{now: start}
}

// Now returns the simulated time.
func (c *Instant) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the simulated time by d and returns an already-fired channel.
func (c *Instant) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waited += d
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// Advance moves the simulated time forward without counting it as a wait.
func (c *Instant) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Waited returns the total duration requested through After.
func (c *Instant) Waited() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waited
}
