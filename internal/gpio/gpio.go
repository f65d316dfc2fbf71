// Package gpio provides pollable GPIO value handles with hardware abstraction.
// The sysfs provider drives /sys/class/gpio, the cdev provider uses the Linux
// GPIO character device. The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"io"
)

// Direction is the configured direction of a pin.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// ErrInvalidDirection is returned for any direction other than "in" or "out".
var ErrInvalidDirection = errors.New("invalid direction")

// ParseDirection validates a direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case In, Out:
		return Direction(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// Handle is an open value stream for a single pin.
//
// A Handle is owned by exactly one caller. The value is read as a single
// ASCII digit; Rewind re-arms the handle so the next Read returns the
// current value.
type Handle interface {
	io.Reader
	io.Closer

	// Rewind moves the read cursor back to the start of the value stream.
	Rewind() error

	// Fd returns the descriptor to include in a multiplexed wait.
	Fd() uintptr

	// Priority reports whether value changes are signalled as a priority
	// (urgent data) condition rather than ordinary readability.
	Priority() bool
}

// Provider opens pins.
type Provider interface {
	// Open returns a handle for the pin's value stream.
	// Returns an error if the direction is invalid or the pin cannot be opened.
	// On error the returned Handle must be a literal nil.
	Open(pin int, direction Direction) (Handle, error)
}

// Default pin (matches the sample wiring of a single push button).
const DefaultPin = 12
