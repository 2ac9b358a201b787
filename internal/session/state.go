package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/bainblan/Whos-There/internal/recorder"
	"github.com/bainblan/Whos-There/internal/rhythm"
	"github.com/bainblan/Whos-There/internal/storage"
)

var (
	// ErrTooFewEvents is returned by Finish when fewer than two knocks were
	// captured.
	ErrTooFewEvents = recorder.ErrTooFewEvents
	// ErrNotCapturing is returned by Knock and Finish outside a capture.
	ErrNotCapturing = recorder.ErrNotRecording

	ErrBusy              = errors.New("session busy")
	ErrAlreadyConnected  = errors.New("sensor already connected")
	ErrNotConnected      = errors.New("sensor not connected")
	ErrNoPasswordSet     = errors.New("no password set")
	ErrConnectionFailure = errors.New("sensor connection failure")
)

// Mode is the capture state of the session.
type Mode int

const (
	ModeIdle Mode = iota
	ModeRecording
	ModeTesting
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRecording:
		return "recording"
	case ModeTesting:
		return "testing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// AccessResult is the outcome of the latest comparison.
type AccessResult int

const (
	AccessNone AccessResult = iota
	AccessGranted
	AccessDenied
)

func (a AccessResult) String() string {
	switch a {
	case AccessNone:
		return "none"
	case AccessGranted:
		return "granted"
	case AccessDenied:
		return "denied"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// Kind identifies a notification.
type Kind int

const (
	NotifyMode Kind = iota
	NotifyKnock
	NotifyPasswordSaved
	NotifyAccess
	NotifyPulse
	NotifyConnected
	NotifyDisconnected
	NotifyConnectionFailed
	NotifyDecodeError
	NotifyError
)

var kindNames = map[Kind]string{
	NotifyMode:             "mode",
	NotifyKnock:            "knock",
	NotifyPasswordSaved:    "password_saved",
	NotifyAccess:           "access",
	NotifyPulse:            "pulse",
	NotifyConnected:        "connected",
	NotifyDisconnected:     "disconnected",
	NotifyConnectionFailed: "connection_failed",
	NotifyDecodeError:      "decode_error",
	NotifyError:            "error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Notification is pushed to listeners after every observable change. Only
// the fields relevant to Kind are set.
type Notification struct {
	Kind      Kind
	At        time.Time
	Mode      Mode            // NotifyMode
	Access    AccessResult    // NotifyAccess
	Pulse     bool            // NotifyPulse: true for touch, false for release
	Knocks    int             // NotifyKnock: knocks captured so far
	Intervals rhythm.Sequence // NotifyPasswordSaved, NotifyAccess
	Source    storage.Source  // NotifyPasswordSaved, NotifyAccess
	Err       error           // NotifyConnectionFailed, NotifyDecodeError, NotifyError
}

// Listener receives notifications in the order the changes happened.
type Listener func(Notification)

// Outcome describes a finished capture.
type Outcome struct {
	Mode      Mode
	Intervals rhythm.Sequence
	Access    AccessResult // AccessNone for recordings
}

// State is a point-in-time view of the controller.
type State struct {
	Mode      Mode
	Connected bool
	Sensor    string
	Access    AccessResult
	Tolerance int
	Knocks    int
	Playing   bool
}
