// Package session coordinates capture, validation, the sensor connection
// and playback for one user.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bainblan/Whos-There/internal/clock"
	"github.com/bainblan/Whos-There/internal/metrics"
	"github.com/bainblan/Whos-There/internal/playback"
	"github.com/bainblan/Whos-There/internal/protocol"
	"github.com/bainblan/Whos-There/internal/recorder"
	"github.com/bainblan/Whos-There/internal/rhythm"
	"github.com/bainblan/Whos-There/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const attemptWriteTimeout = 5 * time.Second

// Options configures a Controller.
type Options struct {
	Store          storage.Store
	Player         *playback.Scheduler // nil plays into nothing
	Clock          clock.Clock
	Profile        string
	Tolerance      int // ms; 0 means exact match, negative selects rhythm.DefaultTolerance
	ReadBufferSize int
	MaxLineBytes   int
	Logger         zerolog.Logger
}

// Controller owns the session state machine. All state is guarded by mu;
// listeners are called outside it.
type Controller struct {
	store          storage.Store
	player         *playback.Scheduler
	clock          clock.Clock
	profile        string
	readBufferSize int
	maxLineBytes   int
	logger         zerolog.Logger

	mu         sync.Mutex
	mode       Mode
	rec        *recorder.Recorder // attached while Recording or Testing
	access     AccessResult
	tolerance  int
	conn       *connection
	connecting bool
	gen        uint64
	queue      []Notification
	flushing   bool

	listenerMu     sync.RWMutex
	listeners      map[uint64]Listener
	nextListenerID uint64

	attempts sync.WaitGroup
}

// New creates an idle, disconnected controller.
func New(opts Options) *Controller {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	player := opts.Player
	if player == nil {
		player = playback.NewScheduler(clk, nil, opts.Logger)
	}
	profile := opts.Profile
	if profile == "" {
		profile = "default"
	}
	tolerance := opts.Tolerance
	if tolerance < 0 {
		tolerance = rhythm.DefaultTolerance
	}
	readBuf := opts.ReadBufferSize
	if readBuf <= 0 {
		readBuf = 1024
	}

	return &Controller{
		store:          opts.Store,
		player:         player,
		clock:          clk,
		profile:        profile,
		readBufferSize: readBuf,
		maxLineBytes:   opts.MaxLineBytes,
		tolerance:      tolerance,
		listeners:      make(map[uint64]Listener),
		logger:         opts.Logger.With().Str("component", "session").Str("profile", profile).Logger(),
	}
}

// Subscribe registers l and returns a function that removes it.
func (c *Controller) Subscribe(l Listener) (unsubscribe func()) {
	c.listenerMu.Lock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = l
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners, id)
		c.listenerMu.Unlock()
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Mode:      c.mode,
		Connected: c.conn != nil,
		Access:    c.access,
		Tolerance: c.tolerance,
		Playing:   c.player.Active(),
	}
	if c.rec != nil {
		s.Knocks = c.rec.Count()
	}
	if c.conn != nil {
		s.Sensor = c.conn.name
	}
	return s
}

// SetTolerance changes the tolerance used by later comparisons.
func (c *Controller) SetTolerance(ms int) error {
	if ms < 0 {
		return fmt.Errorf("tolerance must not be negative: %d", ms)
	}
	c.mu.Lock()
	old := c.tolerance
	c.tolerance = ms
	c.mu.Unlock()

	if old != ms {
		c.logger.Info().Int("old_ms", old).Int("new_ms", ms).Msg("Tolerance updated")
	}
	return nil
}

// StartRecording begins capturing a new password.
func (c *Controller) StartRecording() error {
	return c.startCapture(ModeRecording)
}

// StartTesting begins capturing an attempt. The previous access result is
// cleared.
func (c *Controller) StartTesting() error {
	return c.startCapture(ModeTesting)
}

func (c *Controller) startCapture(mode Mode) error {
	c.mu.Lock()
	if c.mode != ModeIdle {
		current := c.mode
		c.mu.Unlock()
		return fmt.Errorf("%w: already %s", ErrBusy, current)
	}

	c.rec = recorder.New()
	c.rec.Start()
	c.setModeLocked(mode)
	if mode == ModeTesting {
		c.setAccessLocked(AccessNone, nil, "")
	}
	c.mu.Unlock()
	c.flush()

	c.logger.Debug().Str("mode", mode.String()).Msg("Capture started")
	return nil
}

// Knock records a knock at the current time.
func (c *Controller) Knock() error {
	return c.KnockAt(c.clock.Now())
}

// KnockAt records a knock at ts.
func (c *Controller) KnockAt(ts time.Time) error {
	c.mu.Lock()
	if c.rec == nil {
		c.mu.Unlock()
		return ErrNotCapturing
	}
	if err := c.rec.Knock(ts); err != nil {
		c.mu.Unlock()
		return err
	}
	c.enqueueLocked(Notification{Kind: NotifyKnock, Knocks: c.rec.Count()})
	c.mu.Unlock()
	c.flush()

	metrics.KnocksTotal.WithLabelValues(string(storage.SourceKeyboard)).Inc()
	return nil
}

// Finish ends the capture. A recording is saved as the password; an
// attempt is compared with the stored password.
func (c *Controller) Finish(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	if c.rec == nil {
		c.mu.Unlock()
		return nil, ErrNotCapturing
	}
	mode := c.mode
	seq, err := c.rec.Finish()
	c.rec = nil
	c.setModeLocked(ModeIdle)
	c.mu.Unlock()
	c.flush()

	if err != nil {
		c.logger.Debug().Err(err).Str("mode", mode.String()).Msg("Capture discarded")
		return nil, err
	}
	for _, ms := range seq {
		metrics.CaptureIntervals.Observe(float64(ms) / 1000)
	}

	outcome := &Outcome{Mode: mode, Intervals: seq}
	switch mode {
	case ModeRecording:
		if err := c.savePassword(ctx, seq, "", storage.SourceRecorded); err != nil {
			return nil, err
		}
	case ModeTesting:
		access, err := c.evaluate(ctx, seq, storage.SourceKeyboard)
		if err != nil {
			return nil, err
		}
		outcome.Access = access
	}
	return outcome, nil
}

// Cancel abandons the current capture. It is a no-op when idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.rec == nil {
		c.mu.Unlock()
		return
	}
	c.rec.Cancel()
	c.rec = nil
	c.setModeLocked(ModeIdle)
	c.mu.Unlock()
	c.flush()

	c.logger.Debug().Msg("Capture cancelled")
}

// Password returns the stored password.
func (c *Controller) Password(ctx context.Context) (*storage.Password, error) {
	pw, err := c.store.Passwords().Get(ctx, c.profile)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoPasswordSet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load password: %w", err)
	}
	return pw, nil
}

// SetPassword stores a generated rhythm as the password.
func (c *Controller) SetPassword(ctx context.Context, seq rhythm.Sequence, description string) error {
	return c.SetPasswordFrom(ctx, seq, description, storage.SourceGenerated)
}

// SetPasswordFrom stores seq as the password, tagged with source.
func (c *Controller) SetPasswordFrom(ctx context.Context, seq rhythm.Sequence, description string, source storage.Source) error {
	if err := seq.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.mode != ModeIdle {
		current := c.mode
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, current)
	}
	c.mu.Unlock()

	return c.savePassword(ctx, seq, description, source)
}

func (c *Controller) savePassword(ctx context.Context, seq rhythm.Sequence, description string, source storage.Source) error {
	err := c.store.Passwords().Set(ctx, c.profile, storage.Password{
		Intervals:   seq,
		Description: description,
		Source:      source,
		UpdatedAt:   c.clock.Now(),
	})
	if err != nil {
		err = fmt.Errorf("failed to save password: %w", err)
		c.notify(Notification{Kind: NotifyError, Err: err})
		return err
	}

	c.logger.Info().
		Str("source", string(source)).
		Int("knocks", seq.Knocks()).
		Msg("Password saved")
	c.notify(Notification{Kind: NotifyPasswordSaved, Intervals: seq.Clone(), Source: source})
	return nil
}

// evaluate compares candidate against the stored password, publishes the
// result and records the attempt.
func (c *Controller) evaluate(ctx context.Context, candidate rhythm.Sequence, source storage.Source) (AccessResult, error) {
	pw, err := c.Password(ctx)
	if errors.Is(err, ErrNoPasswordSet) {
		metrics.ValidationsTotal.WithLabelValues("no_password").Inc()
		// Nothing was compared, so an earlier result no longer applies
		c.mu.Lock()
		if c.access != AccessNone {
			c.setAccessLocked(AccessNone, nil, "")
		}
		c.enqueueLocked(Notification{Kind: NotifyError, Err: err})
		c.mu.Unlock()
		c.flush()
		return AccessNone, err
	}
	if err != nil {
		c.notify(Notification{Kind: NotifyError, Err: err})
		return AccessNone, err
	}

	c.mu.Lock()
	tolerance := c.tolerance
	granted := rhythm.Match(candidate, pw.Intervals, tolerance)
	access := AccessDenied
	if granted {
		access = AccessGranted
	}
	c.setAccessLocked(access, candidate, source)
	c.mu.Unlock()
	c.flush()

	metrics.ValidationsTotal.WithLabelValues(access.String()).Inc()
	c.logger.Info().
		Str("source", string(source)).
		Str("candidate", candidate.String()).
		Int("tolerance_ms", tolerance).
		Bool("granted", granted).
		Msg("Access attempt")

	c.recordAttempt(storage.AccessAttempt{
		ID:        uuid.NewString(),
		Profile:   c.profile,
		Source:    source,
		Candidate: candidate.Clone(),
		Granted:   granted,
		At:        c.clock.Now(),
	})
	return access, nil
}

// recordAttempt stores the audit record in the background so a slow store
// never delays the access decision.
func (c *Controller) recordAttempt(a storage.AccessAttempt) {
	c.attempts.Add(1)
	go func() {
		defer c.attempts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), attemptWriteTimeout)
		defer cancel()
		if err := c.store.Attempts().Add(ctx, a); err != nil {
			c.logger.Warn().Err(err).Str("attempt_id", a.ID).Msg("Failed to record access attempt")
		}
	}()
}

// Play replays the stored password.
func (c *Controller) Play(ctx context.Context) (<-chan struct{}, error) {
	pw, err := c.Password(ctx)
	if err != nil {
		return nil, err
	}
	return c.PlaySequence(pw.Intervals), nil
}

// PlaySequence plays seq, replacing anything already playing.
func (c *Controller) PlaySequence(seq rhythm.Sequence) <-chan struct{} {
	return c.player.Play(seq)
}

// Player returns the playback scheduler.
func (c *Controller) Player() *playback.Scheduler {
	return c.player
}

// StopPlayback cancels the current playback.
func (c *Controller) StopPlayback() {
	c.player.Cancel()
}

// Close disconnects the sensor, stops playback and waits for pending
// attempt records to be written.
func (c *Controller) Close() error {
	if err := c.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	c.player.Cancel()
	c.attempts.Wait()
	return nil
}

func (c *Controller) setModeLocked(mode Mode) {
	if c.mode == mode {
		return
	}
	c.mode = mode
	c.enqueueLocked(Notification{Kind: NotifyMode, Mode: mode})
}

func (c *Controller) setAccessLocked(access AccessResult, candidate rhythm.Sequence, source storage.Source) {
	c.access = access
	c.enqueueLocked(Notification{Kind: NotifyAccess, Access: access, Intervals: candidate.Clone(), Source: source})
}

func (c *Controller) enqueueLocked(n Notification) {
	if n.At.IsZero() {
		n.At = c.clock.Now()
	}
	c.queue = append(c.queue, n)
}

func (c *Controller) notify(n Notification) {
	c.mu.Lock()
	c.enqueueLocked(n)
	c.mu.Unlock()
	c.flush()
}

// flush delivers queued notifications in order. Only one goroutine
// delivers at a time; others leave their notifications to it, so a
// listener may call back into the controller. Disconnect is the exception
// since it waits for the read loop.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.queue) > 0 {
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()
		for _, n := range batch {
			c.dispatch(n)
		}
		c.mu.Lock()
	}
	c.flushing = false
	c.mu.Unlock()
}

func (c *Controller) dispatch(n Notification) {
	c.listenerMu.RLock()
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ls := make([]Listener, len(ids))
	for i, id := range ids {
		ls[i] = c.listeners[id]
	}
	c.listenerMu.RUnlock()

	for _, l := range ls {
		l(n)
	}
}

// newDecoder returns a decoder honouring the configured line cap.
func (c *Controller) newDecoder() *protocol.Decoder {
	return protocol.NewDecoder(c.maxLineBytes)
}
