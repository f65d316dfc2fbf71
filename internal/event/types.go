// Package event defines pin notifications and the asynchronous handoff from
// the watcher to the sinks that display or forward them.
// This package has NO hardware dependencies.
package event

import (
	"fmt"
	"time"
)

// Outcome is the result of reading a pin after a wakeup.
type Outcome string

const (
	Pressed  Outcome = "PRESSED"
	Released Outcome = "RELEASED"
	Error    Outcome = "ERROR"
)

// Event is a single pin notification.
type Event struct {
	Time    time.Time
	Pin     int
	Outcome Outcome
	// Detail carries the error text for Error outcomes.
	Detail string
}

// String returns the display form: "GPIO12 pressed", "GPIO12 released"
// or "GPIO12 error <detail>".
func (e Event) String() string {
	switch e.Outcome {
	case Pressed:
		return fmt.Sprintf("GPIO%d pressed", e.Pin)
	case Released:
		return fmt.Sprintf("GPIO%d released", e.Pin)
	default:
		return fmt.Sprintf("GPIO%d error %s", e.Pin, e.Detail)
	}
}

// Counts tracks the number of each outcome since startup.
type Counts struct {
	Pressed  int
	Released int
	Errors   int
}

// Add increments the counter for o.
func (c *Counts) Add(o Outcome) {
	switch o {
	case Pressed:
		c.Pressed++
	case Released:
		c.Released++
	default:
		c.Errors++
	}
}

// Sink receives events on the dispatcher goroutine.
type Sink interface {
	Deliver(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Deliver calls f(e).
func (f SinkFunc) Deliver(e Event) { f(e) }

// Publisher accepts events without blocking the caller.
type Publisher interface {
	// Publish queues e and reports whether it was accepted.
	Publish(e Event) bool
}
