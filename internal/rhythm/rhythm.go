// Package rhythm defines the interval sequence that represents a knock
// rhythm and the tolerance-based comparison used for access validation.
package rhythm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the maximum per-position deviation, in milliseconds,
// for a candidate rhythm to match a reference.
const DefaultTolerance = 200

var (
	// ErrEmpty is returned when a sequence has no intervals.
	ErrEmpty = errors.New("rhythm: empty interval sequence")

	// ErrNegativeInterval is returned when a sequence contains a negative gap.
	ErrNegativeInterval = errors.New("rhythm: negative interval")
)

// Sequence is an ordered list of millisecond gaps between consecutive
// knock onsets. A rhythm of n knocks has n-1 intervals.
type Sequence []int

// Validate reports whether the sequence is usable as a password or test
// attempt: at least one interval and no negative values.
func (s Sequence) Validate() error {
	if len(s) == 0 {
		return ErrEmpty
	}
	for i, v := range s {
		if v < 0 {
			return fmt.Errorf("%w: %d at position %d", ErrNegativeInterval, v, i)
		}
	}
	return nil
}

// Knocks returns the number of knock onsets the sequence describes.
func (s Sequence) Knocks() int {
	if len(s) == 0 {
		return 0
	}
	return len(s) + 1
}

// Offsets returns the onset time of every knock relative to the first,
// starting with 0.
func (s Sequence) Offsets() []time.Duration {
	offsets := make([]time.Duration, 0, len(s)+1)
	var total time.Duration
	offsets = append(offsets, 0)
	for _, v := range s {
		total += time.Duration(v) * time.Millisecond
		offsets = append(offsets, total)
	}
	return offsets
}

// Duration returns the total length of the rhythm.
func (s Sequence) Duration() time.Duration {
	var total time.Duration
	for _, v := range s {
		total += time.Duration(v) * time.Millisecond
	}
	return total
}

// Clone returns a copy that does not share storage with s.
func (s Sequence) Clone() Sequence {
	if s == nil {
		return nil
	}
	out := make(Sequence, len(s))
	copy(out, s)
	return out
}

// String renders the sequence in its wire form, e.g. "100,200,150".
func (s Sequence) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// Parse reads a comma-separated list of non-negative base-10 integers.
// Surrounding whitespace around each token is ignored.
func Parse(s string) (Sequence, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}

	tokens := strings.Split(s, ",")
	seq := make(Sequence, 0, len(tokens))
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return nil, fmt.Errorf("rhythm: empty token at position %d", i)
		}
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("rhythm: invalid interval %q: %w", tok, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%w: %d at position %d", ErrNegativeInterval, v, i)
		}
		seq = append(seq, v)
	}
	return seq, nil
}

// Match reports whether candidate reproduces reference within toleranceMs
// at every position. An empty reference never matches, and the lengths
// must be equal.
func Match(candidate, reference Sequence, toleranceMs int) bool {
	if len(reference) == 0 {
		return false
	}
	if len(candidate) != len(reference) {
		return false
	}
	for i := range reference {
		diff := candidate[i] - reference[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > toleranceMs {
			return false
		}
	}
	return true
}

// Deviations returns the absolute per-position difference between two
// sequences of equal length, or nil when the lengths differ.
func Deviations(candidate, reference Sequence) []int {
	if len(candidate) != len(reference) {
		return nil
	}
	out := make([]int, len(reference))
	for i := range reference {
		d := candidate[i] - reference[i]
		if d < 0 {
			d = -d
		}
		out[i] = d
	}
	return out
}
