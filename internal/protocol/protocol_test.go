package protocol

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bainblan/Whos-There/internal/rhythm"
)

func feedAll(t *testing.T, d *Decoder, chunks ...string) ([]Event, []error) {
	t.Helper()
	var (
		events []Event
		errs   []error
	)
	for _, c := range chunks {
		evs, err := d.Feed([]byte(c))
		events = append(events, evs...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return events, errs
}

func TestPulses(t *testing.T) {
	d := NewDecoder(0)
	events, errs := feedAll(t, d, "1\n0\n1\n")
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}

	want := []EventKind{PulseOn, PulseOff, PulseOn}
	if len(events) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(events))
	}
	for i, k := range want {
		if events[i].Kind != k {
			t.Errorf("Event %d: expected %s, got %s", i, k, events[i].Kind)
		}
	}
}

func TestDataBatchSplitAcrossChunks(t *testing.T) {
	whole, _ := feedAll(t, NewDecoder(0), "DATA:100,200,150\n")
	split, _ := feedAll(t, NewDecoder(0), "DATA:100,2", "00,150\n")

	want := []Event{{Kind: DataBatch, Intervals: rhythm.Sequence{100, 200, 150}}}
	if !reflect.DeepEqual(whole, want) {
		t.Errorf("Whole feed: expected %v, got %v", want, whole)
	}
	if !reflect.DeepEqual(split, want) {
		t.Errorf("Split feed: expected %v, got %v", want, split)
	}
}

func TestEverySplitOffsetIsEquivalent(t *testing.T) {
	input := "1\nDATA:100,200,150\r\n0\nSystem Ready. Waiting for touch...\n"
	want, _ := feedAll(t, NewDecoder(0), input)

	for i := 0; i <= len(input); i++ {
		got, errs := feedAll(t, NewDecoder(0), input[:i], input[i:])
		if len(errs) != 0 {
			t.Fatalf("split %d: unexpected errors %v", i, errs)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("split %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestByteAtATime(t *testing.T) {
	d := NewDecoder(0)
	input := "DATA:5,10\n1\n"
	var events []Event
	for i := 0; i < len(input); i++ {
		evs, err := d.Feed([]byte{input[i]})
		if err != nil {
			t.Fatalf("Unexpected error at byte %d: %v", i, err)
		}
		events = append(events, evs...)
	}
	if len(events) != 2 || events[0].Kind != DataBatch || events[1].Kind != PulseOn {
		t.Errorf("Unexpected events: %v", events)
	}
}

func TestWhitespaceTrimmed(t *testing.T) {
	events, _ := feedAll(t, NewDecoder(0), "  1 \r\n\t0\n  DATA: 7 , 8 \n")
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if !reflect.DeepEqual(events[2].Intervals, rhythm.Sequence{7, 8}) {
		t.Errorf("Expected [7 8], got %v", events[2].Intervals)
	}
}

func TestUnknownLinesIgnored(t *testing.T) {
	events, errs := feedAll(t, NewDecoder(0), "System Ready. Waiting for touch...\n\n10\nHELLO:1\n1\n")
	if len(errs) != 0 {
		t.Fatalf("Unknown lines should not be errors: %v", errs)
	}
	if len(events) != 1 || events[0].Kind != PulseOn {
		t.Errorf("Expected only PulseOn, got %v", events)
	}
}

func TestMalformedBatchIsSoft(t *testing.T) {
	d := NewDecoder(0)
	events, err := d.Feed([]byte("1\nDATA:100,abc\nDATA:\nDATA:1,-2\nDATA:300\n0\n"))

	if len(events) != 3 {
		t.Fatalf("Expected 3 events around the bad lines, got %v", events)
	}
	if events[0].Kind != PulseOn || events[1].Kind != DataBatch || events[2].Kind != PulseOff {
		t.Errorf("Unexpected event order: %v", events)
	}
	if !errors.Is(err, ErrMalformedBatch) {
		t.Fatalf("Expected ErrMalformedBatch, got %v", err)
	}

	decodeErrs := DecodeErrors(err)
	if len(decodeErrs) != 3 {
		t.Fatalf("Expected 3 decode errors, got %d", len(decodeErrs))
	}
	if decodeErrs[0].Line != "DATA:100,abc" {
		t.Errorf("Unexpected first bad line %q", decodeErrs[0].Line)
	}

	if d.Pending() != 0 {
		t.Errorf("Carry buffer should be empty, has %d bytes", d.Pending())
	}
	more, err := d.Feed([]byte("DATA:1,2\n"))
	if err != nil || len(more) != 1 {
		t.Errorf("Decoder should keep working after errors: %v %v", more, err)
	}
}

func TestReset(t *testing.T) {
	d := NewDecoder(0)
	_, _ = d.Feed([]byte("DATA:100,2"))
	if d.Pending() == 0 {
		t.Fatal("Expected buffered partial line")
	}
	d.Reset()

	events, err := d.Feed([]byte("1\n"))
	if err != nil || len(events) != 1 || events[0].Kind != PulseOn {
		t.Errorf("Expected clean PulseOn after reset, got %v %v", events, err)
	}
}

func TestLineTooLong(t *testing.T) {
	d := NewDecoder(16)

	_, err := d.Feed([]byte("DATA:1,2,3,4,5,6,7,8,9"))
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("Expected ErrLineTooLong, got %v", err)
	}

	// The rest of the oversized line is skipped, then decoding resumes.
	events, err := d.Feed([]byte(",10,11\n1\n"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != PulseOn {
		t.Errorf("Expected PulseOn after resync, got %v", events)
	}

	_, err = d.Feed([]byte("DATA:1,2,3,4,5,6,7,8,9\n0\n"))
	if !errors.Is(err, ErrLineTooLong) {
		t.Errorf("Expected ErrLineTooLong for terminated oversized line, got %v", err)
	}
}
