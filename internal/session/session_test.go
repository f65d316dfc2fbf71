package session

import (
	"errors"
	"testing"

	"github.com/sweeney/gpiowatch/internal/event"
	"github.com/sweeney/gpiowatch/internal/gpio"
)

func TestEncodingDefaultActiveLow(t *testing.T) {
	tests := []struct {
		b    byte
		want event.Outcome
	}{
		{'0', event.Pressed},
		{'1', event.Released},
		{'\n', event.Released},
		{'x', event.Released},
	}

	for _, tt := range tests {
		if got := ActiveLow.Outcome(tt.b); got != tt.want {
			t.Errorf("ActiveLow.Outcome(%q): got %s, want %s", tt.b, got, tt.want)
		}
	}
}

func TestEncodingActiveHigh(t *testing.T) {
	if got := ActiveHigh.Outcome('1'); got != event.Pressed {
		t.Errorf("'1': got %s, want PRESSED", got)
	}
	if got := ActiveHigh.Outcome('0'); got != event.Released {
		t.Errorf("'0': got %s, want RELEASED", got)
	}
}

func TestParseLevel(t *testing.T) {
	if enc, err := ParseLevel("0"); err != nil || enc != ActiveLow {
		t.Errorf(`ParseLevel("0"): got (%v, %v)`, enc, err)
	}
	if enc, err := ParseLevel("1"); err != nil || enc != ActiveHigh {
		t.Errorf(`ParseLevel("1"): got (%v, %v)`, enc, err)
	}
	if _, err := ParseLevel("high"); err == nil {
		t.Error(`ParseLevel("high"): expected error`)
	}
}

func TestReadEdgeFirstReadSkipsRewind(t *testing.T) {
	h := gpio.NewFakeHandle('1')
	s := New(12, h, ActiveLow)

	out, err := s.ReadEdge(true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != event.Released {
		t.Errorf("got %s, want RELEASED", out)
	}
	if h.Rewinds != 0 {
		t.Errorf("Rewinds: got %d, want 0", h.Rewinds)
	}
	if s.Last() != event.Released {
		t.Errorf("Last: got %s, want RELEASED", s.Last())
	}
}

func TestReadEdgeRewindsBeforeRead(t *testing.T) {
	h := gpio.NewFakeHandle('1', '0')
	s := New(12, h, ActiveLow)

	s.ReadEdge(true)
	out, err := s.ReadEdge(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != event.Pressed {
		t.Errorf("got %s, want PRESSED", out)
	}
	if h.Rewinds != 1 {
		t.Errorf("Rewinds: got %d, want 1", h.Rewinds)
	}
}

func TestReadEdgeFirstRewindFailureTolerated(t *testing.T) {
	h := gpio.NewFakeHandle('1', '0')
	h.RewindErrors = []error{errors.New("already at start")}
	s := New(12, h, ActiveLow)

	s.ReadEdge(true)
	out, err := s.ReadEdge(false)
	if err != nil {
		t.Fatalf("first rewind failure must not propagate, got %v", err)
	}
	if out != event.Pressed {
		t.Errorf("got %s, want PRESSED", out)
	}
}

func TestReadEdgeSecondRewindFailureReported(t *testing.T) {
	boom := errors.New("seek failed")
	h := gpio.NewFakeHandle('1', '0', '1')
	h.RewindErrors = []error{boom, boom}
	s := New(12, h, ActiveLow)

	s.ReadEdge(true)
	if _, err := s.ReadEdge(false); err != nil {
		t.Fatalf("first rewind: unexpected error %v", err)
	}

	readsBefore := h.Reads
	_, err := s.ReadEdge(false)
	if !errors.Is(err, ErrRewindFailed) {
		t.Fatalf("expected ErrRewindFailed, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected cause to be wrapped, got %v", err)
	}
	var rerr *RewindError
	if !errors.As(err, &rerr) || rerr.Pin != 12 {
		t.Errorf("expected *RewindError for pin 12, got %v", err)
	}
	if h.Reads != readsBefore {
		t.Error("must not read after a reported rewind failure")
	}
}

func TestReadEdgeRearmResetsRewindTolerance(t *testing.T) {
	boom := errors.New("seek failed")
	h := gpio.NewFakeHandle('1')
	h.RewindErrors = []error{nil, boom}
	s := New(3, h, ActiveLow)

	s.ReadEdge(true)
	s.ReadEdge(false)

	// Arming again makes the next rewind the first one.
	s.ReadEdge(true)
	if _, err := s.ReadEdge(false); err != nil {
		t.Errorf("rewind after re-arm: unexpected error %v", err)
	}
}

func TestReadEdgeReadError(t *testing.T) {
	boom := errors.New("io error")
	h := gpio.NewFakeHandle('0')
	s := New(9, h, ActiveLow)
	s.ReadEdge(true)

	h.ReadError = boom
	_, err := s.ReadEdge(false)
	if !errors.Is(err, ErrRead) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrRead wrapping cause, got %v", err)
	}
	var rerr *ReadError
	if !errors.As(err, &rerr) || rerr.Pin != 9 {
		t.Errorf("expected *ReadError for pin 9, got %v", err)
	}
	if s.Last() != event.Pressed {
		t.Errorf("failed read must not change Last, got %s", s.Last())
	}
}

func TestCloseAll(t *testing.T) {
	h1 := gpio.NewFakeHandle('0')
	h2 := gpio.NewFakeHandle('0')

	if err := CloseAll([]*Session{New(1, h1, ActiveLow), New(2, h2, ActiveLow)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h1.Closed || !h2.Closed {
		t.Error("expected all handles closed")
	}
}
