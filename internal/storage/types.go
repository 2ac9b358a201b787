package storage

import (
	"time"

	"github.com/bainblan/Whos-There/internal/rhythm"
)

// Source records how a password or attempt was produced.
type Source string

const (
	SourceRecorded  Source = "recorded"
	SourceGenerated Source = "generated"
	SourceManual    Source = "manual"

	SourceKeyboard Source = "keyboard"
	SourceSensor   Source = "sensor"
)

// Password is the stored rhythm for a profile.
type Password struct {
	Intervals   rhythm.Sequence `json:"intervals"`
	Description string          `json:"description,omitempty"`
	Source      Source          `json:"source"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AccessAttempt is an audit record of one comparison against a password.
type AccessAttempt struct {
	ID        string          `json:"id"`
	Profile   string          `json:"profile"`
	Source    Source          `json:"source"`
	Candidate rhythm.Sequence `json:"candidate"`
	Granted   bool            `json:"granted"`
	At        time.Time       `json:"at"`
}
