// Package provider obtains generated knock rhythms, either from the rhythm
// generation service or from a local generator.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/bainblan/Whos-There/internal/config"
	"github.com/bainblan/Whos-There/internal/rhythm"
	"github.com/rs/zerolog"
)

// MaxPromptLength is the longest custom prompt the service accepts.
const MaxPromptLength = 500

var (
	// ErrInvalidRequest is returned for requests the service would reject.
	ErrInvalidRequest = errors.New("invalid rhythm request")
	// ErrEmptyRhythm is returned when a response carries no intervals.
	ErrEmptyRhythm = errors.New("no rhythm returned")
)

// Mode selects how a rhythm is generated.
type Mode string

const (
	ModeRandom Mode = "random"
	ModeCustom Mode = "custom"
)

// Request asks for a rhythm.
type Request struct {
	Mode       Mode   `json:"mode"`
	UserPrompt string `json:"userPrompt,omitempty"`
}

// Validate applies the service's request rules.
func (r Request) Validate() error {
	switch r.Mode {
	case ModeRandom:
		return nil
	case ModeCustom:
		if strings.TrimSpace(r.UserPrompt) == "" {
			return fmt.Errorf("%w: userPrompt is required for custom mode and cannot be empty", ErrInvalidRequest)
		}
		if utf8.RuneCountInString(r.UserPrompt) > MaxPromptLength {
			return fmt.Errorf("%w: userPrompt must be %d characters or less", ErrInvalidRequest, MaxPromptLength)
		}
		return nil
	default:
		return fmt.Errorf("%w: mode must be %q or %q", ErrInvalidRequest, ModeRandom, ModeCustom)
	}
}

// NewRequest builds a custom request for a non-empty prompt and a random
// one otherwise.
func NewRequest(prompt string) Request {
	if strings.TrimSpace(prompt) == "" {
		return Request{Mode: ModeRandom}
	}
	return Request{Mode: ModeCustom, UserPrompt: prompt}
}

// Response is a generated rhythm.
type Response struct {
	Description string          `json:"description"`
	Intervals   rhythm.Sequence `json:"intervals"`
}

// Provider generates rhythms.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// toSequence rounds service intervals, which arrive as JSON numbers, to
// whole milliseconds.
func toSequence(values []float64) (rhythm.Sequence, error) {
	if len(values) == 0 {
		return nil, ErrEmptyRhythm
	}
	seq := make(rhythm.Sequence, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("interval %d is not a number", i)
		}
		seq[i] = int(math.Round(v))
	}
	if err := seq.Validate(); err != nil {
		return nil, err
	}
	return seq, nil
}

// New returns the HTTP provider when a service URL is configured and the
// local generator otherwise.
func New(cfg config.ProviderConfig, logger zerolog.Logger) Provider {
	if cfg.URL == "" {
		return NewRandomProvider(0)
	}
	return NewHTTPProvider(HTTPOptions{
		URL:       cfg.URL,
		Timeout:   config.Duration(cfg.Timeout),
		CacheSize: cfg.CacheSize,
		CacheTTL:  config.Duration(cfg.CacheTTL),
	}, logger)
}
