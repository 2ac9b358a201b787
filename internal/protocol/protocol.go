// Package protocol decodes the line-oriented text stream emitted by the
// knock sensor.
//
// Wire format, one message per newline-terminated line:
//
//	1                 sensor touched (PulseOn)
//	0                 sensor released (PulseOff)
//	DATA:100,200,150  a complete rhythm measured on the device
//
// Any other line is ignored so that firmware banners and future message
// types do not break older decoders.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/bainblan/Whos-There/internal/rhythm"
)

// DataPrefix introduces a batched rhythm line.
const DataPrefix = "DATA:"

// DefaultMaxLineBytes bounds the carry buffer for an unterminated line.
const DefaultMaxLineBytes = 4096

var (
	// ErrMalformedBatch is wrapped by DecodeError for unparseable DATA lines.
	ErrMalformedBatch = errors.New("protocol: malformed DATA line")

	// ErrLineTooLong is wrapped by DecodeError when a line exceeds the
	// configured maximum before a newline arrives.
	ErrLineTooLong = errors.New("protocol: line exceeds maximum length")
)

// EventKind identifies the variant of an Event.
type EventKind int

const (
	PulseOn EventKind = iota + 1
	PulseOff
	DataBatch
)

func (k EventKind) String() string {
	switch k {
	case PulseOn:
		return "pulse_on"
	case PulseOff:
		return "pulse_off"
	case DataBatch:
		return "data_batch"
	default:
		return "unknown"
	}
}

// Event is one decoded line. Intervals is set only for DataBatch.
type Event struct {
	Kind      EventKind
	Intervals rhythm.Sequence
}

// DecodeError describes a single rejected line. The stream continues.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder reassembles lines across arbitrarily split chunks. It is not safe
// for concurrent use; chunks of one connection must be fed in order.
type Decoder struct {
	carry        []byte
	maxLineBytes int
	discarding   bool
}

// NewDecoder creates a decoder. maxLineBytes <= 0 selects
// DefaultMaxLineBytes.
func NewDecoder(maxLineBytes int) *Decoder {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &Decoder{maxLineBytes: maxLineBytes}
}

// Feed consumes the next chunk of the stream and returns the events of
// every line completed by it. The returned error, when non-nil, joins one
// *DecodeError per rejected line; events from the other lines are still
// returned.
func (d *Decoder) Feed(chunk []byte) ([]Event, error) {
	var (
		events []Event
		errs   []error
	)

	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			if err := d.buffer(chunk); err != nil {
				errs = append(errs, err)
			}
			break
		}

		part := chunk[:i]
		chunk = chunk[i+1:]

		if d.discarding {
			// Tail of an oversized line; resynchronise after it.
			d.discarding = false
			continue
		}

		if len(d.carry)+len(part) > d.maxLineBytes {
			errs = append(errs, &DecodeError{Line: preview(d.carry, part), Err: ErrLineTooLong})
			d.carry = d.carry[:0]
			continue
		}

		var line []byte
		if len(d.carry) > 0 {
			d.carry = append(d.carry, part...)
			line = d.carry
		} else {
			line = part
		}

		ev, ok, err := decodeLine(line)
		d.carry = d.carry[:0]
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}

	return events, errors.Join(errs...)
}

// buffer stores an unterminated tail, enforcing the line limit.
func (d *Decoder) buffer(tail []byte) error {
	if d.discarding {
		return nil
	}
	if len(d.carry)+len(tail) > d.maxLineBytes {
		err := &DecodeError{Line: preview(d.carry, tail), Err: ErrLineTooLong}
		d.carry = d.carry[:0]
		d.discarding = true
		return err
	}
	d.carry = append(d.carry, tail...)
	return nil
}

// preview returns the start of an oversized line for error reporting.
func preview(head, tail []byte) string {
	const previewLen = 32
	s := string(head) + string(tail)
	if len(s) > previewLen {
		s = s[:previewLen]
	}
	return s
}

// Reset drops any partial line. Call it when the connection is closed or
// re-opened.
func (d *Decoder) Reset() {
	d.carry = d.carry[:0]
	d.discarding = false
}

// Pending returns the number of buffered bytes of an unterminated line.
func (d *Decoder) Pending() int {
	return len(d.carry)
}

// decodeLine classifies one complete line. ok is false for ignored lines.
func decodeLine(raw []byte) (Event, bool, error) {
	line := strings.TrimSpace(string(raw))

	switch {
	case line == "1":
		return Event{Kind: PulseOn}, true, nil
	case line == "0":
		return Event{Kind: PulseOff}, true, nil
	case strings.HasPrefix(line, DataPrefix):
		seq, err := rhythm.Parse(line[len(DataPrefix):])
		if err != nil {
			return Event{}, false, &DecodeError{
				Line: line,
				Err:  fmt.Errorf("%w: %v", ErrMalformedBatch, err),
			}
		}
		return Event{Kind: DataBatch, Intervals: seq}, true, nil
	default:
		return Event{}, false, nil
	}
}

// DecodeErrors extracts the individual line failures from an error
// returned by Feed.
func DecodeErrors(err error) []*DecodeError {
	if err == nil {
		return nil
	}
	var out []*DecodeError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			var de *DecodeError
			if errors.As(e, &de) {
				out = append(out, de)
			}
		}
		return out
	}
	var de *DecodeError
	if errors.As(err, &de) {
		out = append(out, de)
	}
	return out
}
