package recorder

import (
	"errors"
	"testing"
	"time"
)

func at(base time.Time, offsets ...time.Duration) []time.Time {
	out := make([]time.Time, len(offsets))
	for i, o := range offsets {
		out[i] = base.Add(o)
	}
	return out
}

func TestFinishComputesIntervals(t *testing.T) {
	r := New()
	r.Start()

	base := time.Now()
	for _, ts := range at(base, 0, 250*time.Millisecond, 500*time.Millisecond, 1100*time.Millisecond) {
		if err := r.Knock(ts); err != nil {
			t.Fatalf("Knock failed: %v", err)
		}
	}

	seq, err := r.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	want := []int{250, 250, 600}
	if len(seq) != len(want) {
		t.Fatalf("Expected %d intervals, got %d", len(want), len(seq))
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("Interval %d: expected %d, got %d", i, want[i], seq[i])
		}
	}
	if r.Recording() {
		t.Error("Recorder should be idle after Finish")
	}
}

func TestFinishRounding(t *testing.T) {
	base := time.Now()
	ts := at(base,
		0,
		100*time.Millisecond+499*time.Microsecond, // 100.499 -> 100
		200*time.Millisecond+999*time.Microsecond, // 100.5 -> 101 (half away from zero)
		300*time.Millisecond+999*time.Microsecond, // 100.0 -> 100
	)
	seq := Intervals(ts)
	want := []int{100, 101, 100}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("Interval %d: expected %d, got %d", i, want[i], seq[i])
		}
	}
}

func TestDuplicateTimestampsGiveZeroInterval(t *testing.T) {
	r := New()
	r.Start()
	now := time.Now()
	_ = r.Knock(now)
	_ = r.Knock(now)

	seq, err := r.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if len(seq) != 1 || seq[0] != 0 {
		t.Errorf("Expected [0], got %v", seq)
	}
}

func TestFinishTooFewEvents(t *testing.T) {
	for _, n := range []int{0, 1} {
		r := New()
		r.Start()
		for i := 0; i < n; i++ {
			_ = r.Knock(time.Now())
		}
		if _, err := r.Finish(); !errors.Is(err, ErrTooFewEvents) {
			t.Errorf("n=%d: expected ErrTooFewEvents, got %v", n, err)
		}
		if r.Recording() {
			t.Errorf("n=%d: recorder should return to idle", n)
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	r := New()
	r.Start()
	_ = r.Knock(time.Now())
	r.Start()

	if r.Count() != 1 {
		t.Errorf("Double Start should keep buffered knocks, got %d", r.Count())
	}
}

func TestKnockOutsideSession(t *testing.T) {
	r := New()
	if err := r.Knock(time.Now()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}
	if _, err := r.Finish(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording from Finish, got %v", err)
	}
}

func TestKnockOutOfOrder(t *testing.T) {
	r := New()
	r.Start()
	now := time.Now()
	_ = r.Knock(now)
	if err := r.Knock(now.Add(-time.Millisecond)); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("Expected ErrOutOfOrder, got %v", err)
	}
}

func TestBufferNotReusedAcrossSessions(t *testing.T) {
	r := New()
	base := time.Now()

	r.Start()
	_ = r.Knock(base)
	_ = r.Knock(base.Add(300 * time.Millisecond))
	if _, err := r.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	r.Start()
	_ = r.Knock(base.Add(time.Second))
	if _, err := r.Finish(); !errors.Is(err, ErrTooFewEvents) {
		t.Errorf("Second session should start empty, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	r := New()
	r.Start()
	_ = r.Knock(time.Now())
	r.Cancel()

	if r.Recording() || r.Count() != 0 {
		t.Error("Cancel should discard the session")
	}
}
