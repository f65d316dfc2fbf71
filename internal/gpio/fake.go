package gpio

import (
	"errors"
	"fmt"
)

// FakeHandle is a test double that returns scripted value bytes.
type FakeHandle struct {
	// Values contains scripted value bytes to return.
	// Each call to Read() consumes the next value.
	Values []byte

	// index tracks current position in Values
	index int

	// ReadError, if set, will be returned by Read()
	ReadError error

	// RewindErrors is consumed one entry per Rewind() call.
	// A nil entry (or an exhausted slice) means the rewind succeeds.
	RewindErrors []error

	// Reads and Rewinds count calls.
	Reads   int
	Rewinds int

	// Closed tracks if Close was called
	Closed bool

	// FD is returned by Fd().
	FD uintptr

	// Edge selects the Priority() result; true mimics a sysfs value file.
	Edge bool
}

// NewFakeHandle creates a FakeHandle with the given values.
func NewFakeHandle(values ...byte) *FakeHandle {
	return &FakeHandle{Values: values, Edge: true}
}

// Read returns the next scripted value.
// If values are exhausted, returns the last value repeatedly.
func (f *FakeHandle) Read(p []byte) (int, error) {
	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Values) == 0 {
		return 0, errors.New("no values configured")
	}
	if len(p) == 0 {
		return 0, nil
	}

	p[0] = f.Values[f.index]
	if f.index < len(f.Values)-1 {
		f.index++
	}
	return 1, nil
}

// Rewind returns the next scripted rewind error.
func (f *FakeHandle) Rewind() error {
	i := f.Rewinds
	f.Rewinds++
	if i < len(f.RewindErrors) {
		return f.RewindErrors[i]
	}
	return nil
}

// Fd returns the configured descriptor.
func (f *FakeHandle) Fd() uintptr {
	return f.FD
}

// Priority reports the configured edge mode.
func (f *FakeHandle) Priority() bool {
	return f.Edge
}

// Close marks the handle as closed.
func (f *FakeHandle) Close() error {
	f.Closed = true
	return nil
}

// FakeProvider hands out preconfigured FakeHandles.
type FakeProvider struct {
	// Handles maps pin numbers to the handle Open returns.
	Handles map[int]*FakeHandle

	// OpenError, if set, will be returned by Open.
	OpenError error

	// Calls records the pins passed to Open, in order.
	Calls []int
}

// NewFakeProvider creates a FakeProvider with no pins.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{Handles: make(map[int]*FakeHandle)}
}

// Open validates the direction and returns the configured handle.
func (f *FakeProvider) Open(pin int, direction Direction) (Handle, error) {
	f.Calls = append(f.Calls, pin)
	if _, err := ParseDirection(string(direction)); err != nil {
		return nil, err
	}
	if f.OpenError != nil {
		return nil, f.OpenError
	}
	h, ok := f.Handles[pin]
	if !ok {
		return nil, fmt.Errorf("no such pin %d", pin)
	}
	return h, nil
}
