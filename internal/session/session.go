// Package session implements the read protocol for a single open pin.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/sweeney/gpiowatch/internal/event"
	"github.com/sweeney/gpiowatch/internal/gpio"
)

var (
	// ErrRewindFailed is returned when a rewind fails after the first one.
	ErrRewindFailed = errors.New("rewind failed")

	// ErrRead is returned when the value byte cannot be read.
	ErrRead = errors.New("read failed")
)

// RewindError reports a rewind failure on a session that had already rewound.
type RewindError struct {
	Pin int
	Err error
}

func (e *RewindError) Error() string {
	return fmt.Sprintf("gpio%d: %v: %v", e.Pin, ErrRewindFailed, e.Err)
}

func (e *RewindError) Unwrap() []error { return []error{ErrRewindFailed, e.Err} }

// ReadError reports a failed value read.
type ReadError struct {
	Pin int
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("gpio%d: %v: %v", e.Pin, ErrRead, e.Err)
}

func (e *ReadError) Unwrap() []error { return []error{ErrRead, e.Err} }

// Encoding maps the value digit to an outcome.
type Encoding struct {
	// Pressed is the byte that denotes the active state. Any other byte is
	// Released.
	Pressed byte
}

// ActiveLow treats '0' as pressed, the wiring of a button to ground.
var ActiveLow = Encoding{Pressed: '0'}

// ActiveHigh treats '1' as pressed.
var ActiveHigh = Encoding{Pressed: '1'}

// ParseLevel returns the encoding whose pressed level is "0" or "1".
func ParseLevel(level string) (Encoding, error) {
	switch level {
	case "0":
		return ActiveLow, nil
	case "1":
		return ActiveHigh, nil
	}
	return Encoding{}, fmt.Errorf("invalid pressed level %q (want 0 or 1)", level)
}

// Outcome maps a value byte.
func (e Encoding) Outcome(b byte) event.Outcome {
	if b == e.Pressed {
		return event.Pressed
	}
	return event.Released
}

// Session owns one open handle and its read cursor state.
// Not safe for concurrent use.
type Session struct {
	pin    int
	handle gpio.Handle
	enc    Encoding

	// rewound is set once a rewind has been attempted since arming.
	rewound bool
	last    event.Outcome
}

// New takes ownership of h for pin.
func New(pin int, h gpio.Handle, enc Encoding) *Session {
	return &Session{pin: pin, handle: h, enc: enc}
}

// Pin returns the pin identifier.
func (s *Session) Pin() int {
	return s.pin
}

// Handle returns the owned handle for registration in a wait.
func (s *Session) Handle() gpio.Handle {
	return s.handle
}

// Last returns the outcome of the last successful read, or "" if none.
func (s *Session) Last() event.Outcome {
	return s.last
}

// ReadEdge reads the current value.
//
// With firstRead set, the read only arms edge detection: it records a
// baseline and the result must not be reported. Otherwise the handle is
// rewound first. A failure of the first rewind after arming is logged and
// ignored; later failures return a *RewindError.
func (s *Session) ReadEdge(firstRead bool) (event.Outcome, error) {
	if firstRead {
		s.rewound = false
	} else {
		err := s.handle.Rewind()
		first := !s.rewound
		s.rewound = true
		if err != nil {
			if !first {
				return "", &RewindError{Pin: s.pin, Err: err}
			}
			log.Printf("gpio%d: rewind failed (expected on first read): %v", s.pin, err)
		}
	}

	var buf [1]byte
	if _, err := io.ReadFull(s.handle, buf[:]); err != nil {
		return "", &ReadError{Pin: s.pin, Err: err}
	}

	out := s.enc.Outcome(buf[0])
	s.last = out
	return out, nil
}

// Close releases the handle.
func (s *Session) Close() error {
	if err := s.handle.Close(); err != nil {
		return fmt.Errorf("close gpio%d: %w", s.pin, err)
	}
	return nil
}

// CloseAll closes every session and returns the combined error.
func CloseAll(sessions []*Session) error {
	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
