// Package testfixtures provides deterministic helpers shared by package tests.
package testfixtures

import (
	"sort"
	"sync"
	"time"
)

// ReferenceTime is the fixed instant clocks start from when none is given.
func ReferenceTime() time.Time {
	return time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
}

// Clock provides a controllable time source with timers that fire only when
// the clock is advanced.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	seq     int
	timers  []*fakeTimer
}

type fakeTimer struct {
	clock   *Clock
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

// Stop prevents the timer from firing. It reports whether the call stopped
// a pending timer.
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewClock returns a clock initialised to start, or ReferenceTime when start
// is the zero value.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules fn to run once the clock has been advanced by d. The
// returned value's Stop cancels it.
func (c *Clock) AfterFunc(d time.Duration, fn func()) interface{ Stop() bool } {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.current.Add(d), seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in deadline order
// on the caller's goroutine, and returns the updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return target
		}
		next.stopped = true
		if next.at.After(c.current) {
			c.current = next.at
		}
		fn := next.fn
		c.mu.Unlock()
		fn()
	}
}

// PendingTimers returns the number of timers that have neither fired nor
// been stopped.
func (c *Clock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (c *Clock) nextDueLocked(target time.Time) *fakeTimer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].at.Before(c.timers[j].at)
	})
	if len(c.timers) == 0 || c.timers[0].at.After(target) {
		return nil
	}
	return c.timers[0]
}
