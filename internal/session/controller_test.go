package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bainblan/Whos-There/internal/clock"
	"github.com/bainblan/Whos-There/internal/playback"
	"github.com/bainblan/Whos-There/internal/rhythm"
	"github.com/bainblan/Whos-There/internal/storage"
	"github.com/bainblan/Whos-There/internal/storage/memory"
	"github.com/rs/zerolog"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	c     *Controller
	clock *clock.FakeClock
	store *memory.Store
	notes chan Notification
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := clock.NewFake(epoch)
	store := memory.Open(10)
	h := &harness{
		clock: clk,
		store: store,
		notes: make(chan Notification, 256),
	}
	h.c = New(Options{
		Store:     store,
		Clock:     clk,
		Profile:   "default",
		Tolerance: 200,
		Logger:    zerolog.Nop(),
	})
	h.c.Subscribe(func(n Notification) { h.notes <- n })
	t.Cleanup(func() { _ = h.c.Close() })
	return h
}

// knockAt captures knocks at the given millisecond offsets.
func (h *harness) knockAt(t *testing.T, offsets ...int) {
	t.Helper()
	for _, ms := range offsets {
		if err := h.c.KnockAt(epoch.Add(time.Duration(ms) * time.Millisecond)); err != nil {
			t.Fatalf("KnockAt(%d) failed: %v", ms, err)
		}
	}
}

func (h *harness) record(t *testing.T, offsets ...int) {
	t.Helper()
	if err := h.c.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	h.knockAt(t, offsets...)
	if _, err := h.c.Finish(context.Background()); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
}

func (h *harness) attempt(t *testing.T, offsets ...int) (*Outcome, error) {
	t.Helper()
	if err := h.c.StartTesting(); err != nil {
		t.Fatalf("StartTesting failed: %v", err)
	}
	h.knockAt(t, offsets...)
	return h.c.Finish(context.Background())
}

// waitFor drains notifications until match returns true.
func (h *harness) waitFor(t *testing.T, desc string, match func(Notification) bool) Notification {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-h.notes:
			if match(n) {
				return n
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %s", desc)
			return Notification{}
		}
	}
}

func (h *harness) drain() []Notification {
	var out []Notification
	for {
		select {
		case n := <-h.notes:
			out = append(out, n)
		default:
			return out
		}
	}
}

func TestInitialState(t *testing.T) {
	h := newHarness(t)
	s := h.c.Snapshot()
	if s.Mode != ModeIdle || s.Connected || s.Access != AccessNone || s.Tolerance != 200 {
		t.Errorf("Unexpected initial state %+v", s)
	}
}

func TestRecordAndValidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.record(t, 0, 300, 600)

	pw, err := h.store.Passwords().Get(ctx, "default")
	if err != nil {
		t.Fatalf("Password not stored: %v", err)
	}
	if pw.Intervals.String() != "300,300" || pw.Source != storage.SourceRecorded {
		t.Errorf("Unexpected password %+v", pw)
	}

	out, err := h.attempt(t, 0, 350, 600)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if out.Access != AccessGranted {
		t.Errorf("Expected granted for [350 250], got %s", out.Access)
	}
	if h.c.Snapshot().Access != AccessGranted {
		t.Error("Snapshot should report granted")
	}

	out, err = h.attempt(t, 0, 600, 900)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if out.Access != AccessDenied {
		t.Errorf("Expected denied for [600 300], got %s", out.Access)
	}

	out, err = h.attempt(t, 0, 300)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if out.Access != AccessDenied {
		t.Errorf("Expected denied for length mismatch, got %s", out.Access)
	}

	_ = h.c.Close()
	attempts, err := h.store.Attempts().Recent(ctx, "default", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("Expected 3 recorded attempts, got %d", len(attempts))
	}
	if attempts[2].Granted != true || attempts[2].Source != storage.SourceKeyboard || attempts[2].ID == "" {
		t.Errorf("Unexpected first attempt %+v", attempts[2])
	}
}

func TestToleranceBoundary(t *testing.T) {
	h := newHarness(t)
	h.record(t, 0, 1000)

	out, _ := h.attempt(t, 0, 1200)
	if out.Access != AccessGranted {
		t.Errorf("Deviation equal to tolerance should be granted, got %s", out.Access)
	}
	out, _ = h.attempt(t, 0, 1201)
	if out.Access != AccessDenied {
		t.Errorf("Deviation above tolerance should be denied, got %s", out.Access)
	}

	if err := h.c.SetTolerance(250); err != nil {
		t.Fatalf("SetTolerance failed: %v", err)
	}
	out, _ = h.attempt(t, 0, 1201)
	if out.Access != AccessGranted {
		t.Errorf("Raised tolerance should grant, got %s", out.Access)
	}
	if err := h.c.SetTolerance(-1); err == nil {
		t.Error("Expected negative tolerance to be rejected")
	}
}

func TestFinishTooFewEvents(t *testing.T) {
	h := newHarness(t)

	if err := h.c.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	h.knockAt(t, 0)
	if _, err := h.c.Finish(context.Background()); !errors.Is(err, ErrTooFewEvents) {
		t.Fatalf("Expected ErrTooFewEvents, got %v", err)
	}
	if h.c.Snapshot().Mode != ModeIdle {
		t.Error("Finish should return to idle even on error")
	}
	if _, err := h.store.Passwords().Get(context.Background(), "default"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("No password should be stored")
	}
}

func TestTestingWithoutPassword(t *testing.T) {
	h := newHarness(t)

	_, err := h.attempt(t, 0, 100)
	if !errors.Is(err, ErrNoPasswordSet) {
		t.Fatalf("Expected ErrNoPasswordSet, got %v", err)
	}
	if h.c.Snapshot().Access != AccessNone {
		t.Error("Access should stay none without a password")
	}
	h.waitFor(t, "no password error", func(n Notification) bool {
		return n.Kind == NotifyError && errors.Is(n.Err, ErrNoPasswordSet)
	})
}

func TestBusyTransitions(t *testing.T) {
	h := newHarness(t)

	if err := h.c.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if err := h.c.StartTesting(); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy for StartTesting while recording, got %v", err)
	}
	if err := h.c.StartRecording(); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy for second StartRecording, got %v", err)
	}
	if err := h.c.SetPassword(context.Background(), rhythm.Sequence{100}, "manual"); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy for SetPassword while recording, got %v", err)
	}

	h.c.Cancel()
	if h.c.Snapshot().Mode != ModeIdle {
		t.Error("Cancel should return to idle")
	}
	if err := h.c.Knock(); !errors.Is(err, ErrNotCapturing) {
		t.Errorf("Expected ErrNotCapturing after cancel, got %v", err)
	}
	if _, err := h.c.Finish(context.Background()); !errors.Is(err, ErrNotCapturing) {
		t.Errorf("Expected ErrNotCapturing from Finish when idle, got %v", err)
	}
	h.c.Cancel()
}

func TestStartTestingResetsAccess(t *testing.T) {
	h := newHarness(t)
	h.record(t, 0, 500)
	_, _ = h.attempt(t, 0, 500)
	h.drain()

	if err := h.c.StartTesting(); err != nil {
		t.Fatalf("StartTesting failed: %v", err)
	}
	if h.c.Snapshot().Access != AccessNone {
		t.Error("StartTesting should reset access")
	}

	notes := h.drain()
	if len(notes) != 2 || notes[0].Kind != NotifyMode || notes[0].Mode != ModeTesting ||
		notes[1].Kind != NotifyAccess || notes[1].Access != AccessNone {
		t.Errorf("Unexpected notifications %+v", notes)
	}
}

func TestSetPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.c.SetPassword(ctx, rhythm.Sequence{}, ""); err == nil {
		t.Error("Expected empty sequence to be rejected")
	}
	if err := h.c.SetPassword(ctx, rhythm.Sequence{250, 125, 125}, "Shave and a haircut"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}

	pw, err := h.c.Password(ctx)
	if err != nil {
		t.Fatalf("Password failed: %v", err)
	}
	if pw.Source != storage.SourceGenerated || pw.Description != "Shave and a haircut" {
		t.Errorf("Unexpected password %+v", pw)
	}

	n := h.waitFor(t, "password saved", func(n Notification) bool { return n.Kind == NotifyPasswordSaved })
	if n.Intervals.String() != "250,125,125" {
		t.Errorf("Unexpected saved intervals %s", n.Intervals)
	}
}

func TestListenerMayCallBack(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var modes []Mode
	h.c.Subscribe(func(n Notification) {
		s := h.c.Snapshot()
		mu.Lock()
		modes = append(modes, s.Mode)
		mu.Unlock()
	})

	if err := h.c.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(modes) != 1 || modes[0] != ModeRecording {
		t.Errorf("Expected listener to observe recording, got %v", modes)
	}
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t)

	count := 0
	unsubscribe := h.c.Subscribe(func(Notification) { count++ })
	_ = h.c.StartRecording()
	unsubscribe()
	h.c.Cancel()

	if count != 1 {
		t.Errorf("Expected 1 notification before unsubscribe, got %d", count)
	}
}

type fireLog struct {
	mu      sync.Mutex
	offsets []time.Duration
}

func (f *fireLog) Fire(e playback.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets = append(f.offsets, e.Offset)
}

func TestPlayStoredPassword(t *testing.T) {
	clk := clock.NewFake(epoch)
	fires := &fireLog{}
	store := memory.Open(0)
	c := New(Options{
		Store:     store,
		Clock:     clk,
		Player:    playback.NewScheduler(clk, fires, zerolog.Nop()),
		Tolerance: 200,
		Logger:    zerolog.Nop(),
	})
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	if _, err := c.Play(ctx); !errors.Is(err, ErrNoPasswordSet) {
		t.Fatalf("Expected ErrNoPasswordSet, got %v", err)
	}

	_ = c.SetPassword(ctx, rhythm.Sequence{100, 100, 100}, "")
	done, err := c.Play(ctx)
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if !c.Snapshot().Playing {
		t.Error("Expected playback to be active")
	}

	clk.Advance(150 * time.Millisecond)
	c.StopPlayback()
	clk.Advance(time.Second)

	if len(fires.offsets) != 2 {
		t.Errorf("Expected 2 fires before stop, got %v", fires.offsets)
	}
	select {
	case <-done:
		t.Error("Stopped playback should not complete")
	default:
	}

	done = c.PlaySequence(rhythm.Sequence{50})
	clk.Advance(time.Second)
	select {
	case <-done:
	default:
		t.Error("Playback should complete")
	}
}

type slowAttempts struct {
	storage.AttemptStore
	release chan struct{}
}

func (s *slowAttempts) Add(ctx context.Context, a storage.AccessAttempt) error {
	<-s.release
	return s.AttemptStore.Add(ctx, a)
}

type slowStore struct {
	*memory.Store
	attempts *slowAttempts
}

func (s *slowStore) Attempts() storage.AttemptStore { return s.attempts }

func TestAttemptWriteDoesNotBlockDecision(t *testing.T) {
	mem := memory.Open(0)
	store := &slowStore{Store: mem, attempts: &slowAttempts{AttemptStore: mem.Attempts(), release: make(chan struct{})}}
	c := New(Options{Store: store, Tolerance: 200, Logger: zerolog.Nop()})

	ctx := context.Background()
	_ = c.SetPassword(ctx, rhythm.Sequence{100}, "")
	_ = c.StartTesting()
	_ = c.KnockAt(epoch)
	_ = c.KnockAt(epoch.Add(100 * time.Millisecond))

	out, err := c.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if out.Access != AccessGranted {
		t.Errorf("Expected granted, got %s", out.Access)
	}

	close(store.attempts.release)
	_ = c.Close()
	if got, _ := mem.Attempts().Recent(ctx, "default", 0); len(got) != 1 {
		t.Errorf("Expected attempt to be written after release, got %d", len(got))
	}
}

func TestToleranceOption(t *testing.T) {
	tests := []struct {
		name string
		opt  int
		want int
	}{
		{"exact match", 0, 0},
		{"explicit", 150, 150},
		{"negative selects default", -1, rhythm.DefaultTolerance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Options{Store: memory.Open(1), Tolerance: tt.opt, Logger: zerolog.Nop()})
			defer c.Close()
			if got := c.Snapshot().Tolerance; got != tt.want {
				t.Errorf("Expected tolerance %d, got %d", tt.want, got)
			}
		})
	}
}
