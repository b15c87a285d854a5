package testfixtures

import (
	"testing"
	"time"
)

func TestClockAdvanceFiresDueTimersInOrder(t *testing.T) {
	c := NewClock(time.Time{})
	start := c.Now()

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	late := c.AfterFunc(5*time.Second, func() { fired = append(fired, "late") })

	c.Advance(3 * time.Second)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", fired)
	}
	if got := c.Now().Sub(start); got != 3*time.Second {
		t.Fatalf("elapsed = %v, want 3s", got)
	}
	if !late.Stop() {
		t.Fatal("Stop() on pending timer should report true")
	}
	c.Advance(10 * time.Second)
	if len(fired) != 2 {
		t.Fatalf("stopped timer fired: %v", fired)
	}
}

func TestClockTimerSeesItsDeadlineAsNow(t *testing.T) {
	c := NewClock(time.Time{})
	start := c.Now()

	var at time.Time
	c.AfterFunc(1500*time.Millisecond, func() { at = c.Now() })
	c.Advance(4 * time.Second)

	if got := at.Sub(start); got != 1500*time.Millisecond {
		t.Fatalf("timer observed %v, want 1.5s", got)
	}
	if c.PendingTimers() != 0 {
		t.Fatalf("PendingTimers() = %d, want 0", c.PendingTimers())
	}
}

func TestClockTimerScheduledFromCallback(t *testing.T) {
	c := NewClock(time.Time{})
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)
	c.Advance(10 * time.Second)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}
