// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"log"
	"time"

	"github.com/sweeney/gpiowatch/internal/event"
	"github.com/sweeney/gpiowatch/internal/status"
)

// Topic is the MQTT topic for pin events.
const Topic = "gpiowatch/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "gpiowatch/system"

// System event names.
const (
	EventStartup          = "STARTUP"
	EventShutdown         = "SHUTDOWN"
	EventReconnected      = "RECONNECTED"
	EventWatcherStopped   = "WATCHER_STOPPED"
	EventWatcherRestarted = "WATCHER_RESTARTED"
	EventHeartbeat        = "HEARTBEAT"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a pin event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(e event.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(e SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "WATCHER_STOPPED"
	Reason     string // e.g., "SIGTERM", or the wait error
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	GPIO status.EventJSON `json:"gpio"`
}

// FormatPayload creates the JSON payload for a pin event.
func FormatPayload(e event.Event) ([]byte, error) {
	return json.Marshal(Payload{GPIO: status.NewEventJSON(e)})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If e.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(e SystemEvent) ([]byte, error) {
	if e.RawPayload != nil {
		return e.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Event:     e.Event,
			Reason:    e.Reason,
		},
	}
	return json.Marshal(payload)
}

// Sink forwards dispatched events to a Publisher.
type Sink struct {
	pub Publisher
}

// NewSink wraps p as an event.Sink.
func NewSink(p Publisher) *Sink {
	return &Sink{pub: p}
}

// Deliver publishes e. Failures are logged and do not stop delivery.
func (s *Sink) Deliver(e event.Event) {
	if err := s.pub.Publish(e); err != nil {
		log.Printf("mqtt: publish %s: %v", e, err)
	}
}
