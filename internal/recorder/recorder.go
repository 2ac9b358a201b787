// Package recorder turns timestamped knock events into a rhythm.
package recorder

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/bainblan/Whos-There/internal/rhythm"
)

var (
	// ErrTooFewEvents is returned by Finish when fewer than two knocks were
	// captured, so no interval can be derived.
	ErrTooFewEvents = errors.New("recorder: at least two knocks are required")

	// ErrNotRecording is returned when knocks or Finish arrive outside a
	// capture session.
	ErrNotRecording = errors.New("recorder: not recording")

	// ErrOutOfOrder is returned when a knock is older than the previous one.
	ErrOutOfOrder = errors.New("recorder: knock timestamp precedes previous knock")
)

// Recorder accumulates knock timestamps for one capture session at a time.
type Recorder struct {
	mu         sync.Mutex
	recording  bool
	timestamps []time.Time
}

// New creates an idle recorder.
func New() *Recorder {
	return &Recorder{}
}

// Start begins a capture session and clears any buffered knocks. A Start
// while already recording is ignored.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return
	}
	r.recording = true
	r.timestamps = r.timestamps[:0]
}

// Recording reports whether a capture session is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Count returns the number of knocks captured so far.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timestamps)
}

// Knock appends a knock onset.
func (r *Recorder) Knock(ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return ErrNotRecording
	}
	if n := len(r.timestamps); n > 0 && ts.Before(r.timestamps[n-1]) {
		return ErrOutOfOrder
	}
	r.timestamps = append(r.timestamps, ts)
	return nil
}

// Finish closes the capture session and returns the interval sequence.
// The session ends and the buffer is discarded whether or not enough
// knocks were captured.
func (r *Recorder) Finish() (rhythm.Sequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil, ErrNotRecording
	}

	ts := r.timestamps
	r.recording = false
	r.timestamps = nil

	if len(ts) < 2 {
		return nil, ErrTooFewEvents
	}
	return Intervals(ts), nil
}

// Cancel abandons the capture session.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recording = false
	r.timestamps = nil
}

// Intervals converts ordered onsets into millisecond gaps, rounding half
// away from zero.
func Intervals(ts []time.Time) rhythm.Sequence {
	if len(ts) < 2 {
		return rhythm.Sequence{}
	}
	seq := make(rhythm.Sequence, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		seq = append(seq, roundMillis(ts[i].Sub(ts[i-1])))
	}
	return seq
}

func roundMillis(d time.Duration) int {
	return int(math.Round(float64(d) / float64(time.Millisecond)))
}
