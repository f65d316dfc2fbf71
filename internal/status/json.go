package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/gpiowatch/internal/event"
)

// Unknown is reported for a pin with no transition since arming.
const Unknown = "UNKNOWN"

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string      `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Watcher       WatcherJSON `json:"watcher"`
	Pins          []PinJSON   `json:"pins"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	MQTT          MQTTStatus  `json:"mqtt"`
	Counts        CountsJSON  `json:"event_counts"`
	Recent        []EventJSON `json:"recent,omitempty"`
	Config        ConfigJSON  `json:"config"`
}

// WatcherJSON reports the watcher loop.
type WatcherJSON struct {
	State          string `json:"state"`
	Restarts       int    `json:"restarts"`
	Wakeups        uint64 `json:"wakeups"`
	Timeouts       uint64 `json:"timeouts"`
	Reads          uint64 `json:"reads"`
	ReadErrors     uint64 `json:"read_errors"`
	RewindFailures uint64 `json:"rewind_failures"`
	Duplicates     uint64 `json:"duplicates"`
	DroppedEvents  uint64 `json:"dropped_events"`
}

// PinJSON is the JSON representation of one pin.
type PinJSON struct {
	Pin        int        `json:"pin"`
	State      string     `json:"state"`
	Counts     CountsJSON `json:"event_counts"`
	LastError  string     `json:"last_error,omitempty"`
	LastChange string     `json:"last_change,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Pressed  int `json:"pressed"`
	Released int `json:"released"`
	Errors   int `json:"errors"`
}

// EventJSON is the JSON representation of a single event.
type EventJSON struct {
	Timestamp string `json:"timestamp"`
	Pin       int    `json:"pin"`
	Event     string `json:"event"`
	Detail    string `json:"detail,omitempty"`
	Message   string `json:"message"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Pins         []int  `json:"pins"`
	Backend      string `json:"backend"`
	Direction    string `json:"direction"`
	PressedLevel string `json:"pressed_level"`
	TimeoutMs    int64  `json:"timeout_ms"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	QueueSize    int    `json:"queue_size"`
	Broker       string `json:"broker"`
	HTTPAddr     string `json:"http_addr"`
	Caller       string `json:"caller"`
}

// NewEventJSON converts e for the web feed and MQTT payloads.
func NewEventJSON(e event.Event) EventJSON {
	return EventJSON{
		Timestamp: e.Time.UTC().Format(time.RFC3339),
		Pin:       e.Pin,
		Event:     string(e.Outcome),
		Detail:    e.Detail,
		Message:   e.String(),
	}
}

func countsJSON(c event.Counts) CountsJSON {
	return CountsJSON{Pressed: c.Pressed, Released: c.Released, Errors: c.Errors}
}

func buildInner(snap Snapshot) StatusInner {
	pins := make([]PinJSON, len(snap.Pins))
	for i, p := range snap.Pins {
		state := string(p.State)
		if state == "" {
			state = Unknown
		}
		pins[i] = PinJSON{
			Pin:       p.Pin,
			State:     state,
			Counts:    countsJSON(p.Counts),
			LastError: p.LastError,
		}
		if !p.LastChange.IsZero() {
			pins[i].LastChange = p.LastChange.UTC().Format(time.RFC3339)
		}
	}

	st := snap.WatcherStats
	return StatusInner{
		Watcher: WatcherJSON{
			State:          snap.Watcher.String(),
			Restarts:       snap.Restarts,
			Wakeups:        st.Wakeups,
			Timeouts:       st.Timeouts,
			Reads:          st.Reads,
			ReadErrors:     st.ReadErrors,
			RewindFailures: st.RewindFailures,
			Duplicates:     st.Duplicates,
			DroppedEvents:  snap.Dropped,
		},
		Pins:          pins,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        countsJSON(snap.Counts),
		Config: ConfigJSON{
			Pins:         snap.Config.Pins,
			Backend:      snap.Config.Backend,
			Direction:    snap.Config.Direction,
			PressedLevel: snap.Config.PressedLevel,
			TimeoutMs:    snap.Config.TimeoutMs,
			HeartbeatMs:  snap.Config.HeartbeatMs,
			QueueSize:    snap.Config.QueueSize,
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
			Caller:       snap.Config.Caller,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint, including the
// recent events newest first.
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	for _, e := range snap.Recent {
		inner.Recent = append(inner.Recent, NewEventJSON(e))
	}

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// The recent event list is left out.
func FormatStatusEvent(snap Snapshot, name, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = name
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
