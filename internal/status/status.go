// Package status provides a thread-safe status tracker for the gpiowatch daemon.
// It is read by HTTP handlers and MQTT system events, and fed by the event
// dispatcher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/gpiowatch/internal/event"
	"github.com/sweeney/gpiowatch/internal/watch"
)

// MaxRecent is the number of events kept for display.
const MaxRecent = 50

// Config contains daemon configuration for display.
type Config struct {
	Pins         []int
	Backend      string
	Direction    string
	PressedLevel string
	TimeoutMs    int64
	HeartbeatMs  int64
	QueueSize    int
	Broker       string
	HTTPAddr     string
	Caller       string
}

// PinStatus is the last known state of one watched pin.
type PinStatus struct {
	Pin int
	// State is "" until the first transition after arming.
	State      event.Outcome
	Counts     event.Counts
	LastError  string
	LastChange time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type; its slices are copies.
type Snapshot struct {
	Pins          []PinStatus
	Recent        []event.Event // newest first
	Counts        event.Counts
	Watcher       watch.State
	WatcherStats  watch.Stats
	Restarts      int
	Dropped       uint64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Pin returns the status of pin and whether it is watched.
func (s Snapshot) Pin(pin int) (PinStatus, bool) {
	for _, p := range s.Pins {
		if p.Pin == pin {
			return p, true
		}
	}
	return PinStatus{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
// Every configured pin starts in the unknown state.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	t := &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
	t.snap.Pins = pinList(cfg.Pins)
	return t
}

func pinList(pins []int) []PinStatus {
	out := make([]PinStatus, len(pins))
	for i, p := range pins {
		out[i] = PinStatus{Pin: p}
	}
	return out
}

// SetPins replaces the watched pin list, e.g. once the pins that failed to
// open have been skipped. Known pin state is kept.
func (t *Tracker) SetPins(pins []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := pinList(pins)
	for i := range next {
		for _, old := range t.snap.Pins {
			if old.Pin == next[i].Pin {
				next[i] = old
			}
		}
	}
	t.snap.Pins = next
}

// Deliver records e. It implements event.Sink.
func (t *Tracker) Deliver(e event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Counts.Add(e.Outcome)
	for i := range t.snap.Pins {
		p := &t.snap.Pins[i]
		if p.Pin != e.Pin {
			continue
		}
		p.Counts.Add(e.Outcome)
		if e.Outcome == event.Error {
			p.LastError = e.Detail
		} else {
			p.State = e.Outcome
			p.LastChange = e.Time
		}
	}

	recent := make([]event.Event, 0, MaxRecent)
	recent = append(recent, e)
	for _, old := range t.snap.Recent {
		if len(recent) == MaxRecent {
			break
		}
		recent = append(recent, old)
	}
	t.snap.Recent = recent
}

// SetWatcher records the watcher state and counters, and the number of
// events the dispatcher has dropped.
func (t *Tracker) SetWatcher(state watch.State, stats watch.Stats, dropped uint64) {
	t.mu.Lock()
	t.snap.Watcher = state
	t.snap.WatcherStats = stats
	t.snap.Dropped = dropped
	t.mu.Unlock()
}

// SetWatcherState records a state change without touching the counters.
func (t *Tracker) SetWatcherState(state watch.State) {
	t.mu.Lock()
	t.snap.Watcher = state
	t.mu.Unlock()
}

// Restarted counts a watcher restart after a fatal wait.
func (t *Tracker) Restarted() {
	t.mu.Lock()
	t.snap.Restarts++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Pins = append([]PinStatus(nil), t.snap.Pins...)
	s.Recent = append([]event.Event(nil), t.snap.Recent...)
	s.Config.Pins = append([]int(nil), t.snap.Config.Pins...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
