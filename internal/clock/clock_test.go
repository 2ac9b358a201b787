package clock

import (
	"testing"
	"time"
)

func TestFakeClockRunsTimersInOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var fired []time.Duration
	record := func() { fired = append(fired, c.Now().Sub(start)) }

	c.AfterFunc(300*time.Millisecond, record)
	c.AfterFunc(100*time.Millisecond, record)
	c.AfterFunc(200*time.Millisecond, record)

	c.Advance(250 * time.Millisecond)
	if len(fired) != 2 {
		t.Fatalf("Expected 2 timers fired, got %d", len(fired))
	}
	if fired[0] != 100*time.Millisecond || fired[1] != 200*time.Millisecond {
		t.Errorf("Unexpected fire times: %v", fired)
	}
	if got := c.Now().Sub(start); got != 250*time.Millisecond {
		t.Errorf("Expected clock at 250ms, got %v", got)
	}

	c.Advance(time.Second)
	if len(fired) != 3 {
		t.Fatalf("Expected 3 timers fired, got %d", len(fired))
	}
}

func TestFakeTimerStop(t *testing.T) {
	c := NewFake(time.Now())

	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })

	if !timer.Stop() {
		t.Fatal("Expected Stop to report a pending timer")
	}
	if timer.Stop() {
		t.Error("Expected second Stop to return false")
	}

	c.Advance(2 * time.Second)
	if called {
		t.Error("Stopped timer should not fire")
	}
	if c.Pending() != 0 {
		t.Errorf("Expected no pending timers, got %d", c.Pending())
	}
}

func TestFakeClockTimerArmedFromCallback(t *testing.T) {
	c := NewFake(time.Now())

	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(10*time.Millisecond, tick)
		}
	}
	c.AfterFunc(10*time.Millisecond, tick)

	c.Advance(100 * time.Millisecond)
	if count != 3 {
		t.Errorf("Expected 3 ticks, got %d", count)
	}
}
