// Package playback reproduces a rhythm as precisely timed fire events.
package playback

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bainblan/Whos-There/internal/clock"
	"github.com/bainblan/Whos-There/internal/metrics"
	"github.com/bainblan/Whos-There/internal/rhythm"
	"github.com/rs/zerolog"
)

// Timbre selects the sound an output sink produces for each knock.
type Timbre string

const (
	TimbreKnock Timbre = "knock"
	TimbreClick Timbre = "click"
	TimbreBell  Timbre = "bell"
	TimbreWood  Timbre = "wood"
)

// Timbres lists every supported timbre.
var Timbres = []Timbre{TimbreKnock, TimbreClick, TimbreBell, TimbreWood}

// ParseTimbre validates a timbre name.
func ParseTimbre(s string) (Timbre, error) {
	t := Timbre(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Timbres {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown timbre %q", s)
}

// Event is emitted once per knock of a played rhythm.
type Event struct {
	Index  int           // knock number, 0 for the first
	Total  int           // knocks in the rhythm
	Offset time.Duration // time since the first knock
	Timbre Timbre
}

// Last reports whether this is the final knock of the rhythm.
func (e Event) Last() bool {
	return e.Index == e.Total-1
}

// Sink receives fire events. Fire is called with the scheduler lock held
// and must not call Play or Cancel.
type Sink interface {
	Fire(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Fire calls f(e).
func (f SinkFunc) Fire(e Event) { f(e) }

// Scheduler plays one rhythm at a time.
type Scheduler struct {
	clock  clock.Clock
	sink   Sink
	logger zerolog.Logger

	mu      sync.Mutex
	epoch   uint64
	timers  []clock.Timer
	pending int
	timbre  Timbre
	done    chan struct{}
}

// NewScheduler creates a scheduler that fires into sink.
func NewScheduler(clk clock.Clock, sink Sink, logger zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Scheduler{
		clock:  clk,
		sink:   sink,
		timbre: TimbreKnock,
		logger: logger.With().Str("component", "playback").Logger(),
	}
}

// SetTimbre changes the timbre used by subsequent plays.
func (s *Scheduler) SetTimbre(t Timbre) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timbre = t
}

// Timbre returns the current timbre.
func (s *Scheduler) Timbre() Timbre {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timbre
}

// Play cancels any in-flight rhythm, fires the first knock immediately and
// schedules the rest at their cumulative offsets. The returned channel is
// closed when the final knock fires; it stays open if the rhythm is
// cancelled.
func (s *Scheduler) Play(seq rhythm.Sequence) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()

	offsets := seq.Offsets()
	epoch := s.epoch
	done := make(chan struct{})
	s.done = done
	s.pending = len(offsets)

	s.logger.Debug().
		Str("rhythm", seq.String()).
		Dur("duration", seq.Duration()).
		Msg("Starting playback")

	for i, off := range offsets[1:] {
		index := i + 1
		offset := off
		total := len(offsets)
		s.timers = append(s.timers, s.clock.AfterFunc(offset, func() {
			s.fire(epoch, Event{Index: index, Total: total, Offset: offset})
		}))
	}

	s.fireLocked(Event{Index: 0, Total: len(offsets), Offset: 0})

	return done
}

// Cancel stops the current rhythm. Knocks already fired are not
// retracted; no further knock fires once Cancel returns.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Active reports whether a rhythm still has knocks to fire.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

func (s *Scheduler) cancelLocked() {
	s.epoch++
	for _, t := range s.timers {
		t.Stop()
	}
	if s.pending > 0 {
		s.logger.Debug().Int("remaining", s.pending).Msg("Playback cancelled")
	}
	s.timers = nil
	s.pending = 0
	s.done = nil
}

func (s *Scheduler) fire(epoch uint64, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return
	}
	s.fireLocked(e)
}

func (s *Scheduler) fireLocked(e Event) {
	e.Timbre = s.timbre
	if s.sink != nil {
		s.sink.Fire(e)
	}
	metrics.PlaybackFires.WithLabelValues(string(e.Timbre)).Inc()

	s.pending--
	if s.pending == 0 {
		s.timers = nil
		if s.done != nil {
			close(s.done)
			s.done = nil
		}
	}
}
