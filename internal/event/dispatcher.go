package event

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the dispatcher channel capacity.
const DefaultQueueSize = 64

// Dispatcher moves events from the watcher goroutine to sinks.
// Publish never blocks: when the queue is full the event is dropped.
type Dispatcher struct {
	queue   chan Event
	sinks   []Sink
	dropped atomic.Uint64

	mu       sync.Mutex
	overflow bool // true while events are being dropped
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(size int, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		queue: make(chan Event, size),
		sinks: sinks,
	}
}

// Publish queues e for delivery.
func (d *Dispatcher) Publish(e Event) bool {
	select {
	case d.queue <- e:
		d.setOverflow(false)
		return true
	default:
		d.dropped.Add(1)
		if d.setOverflow(true) {
			log.Printf("event: queue full (%d events), dropping", cap(d.queue))
		}
		return false
	}
}

// setOverflow records the overflow state and reports whether it just started.
func (d *Dispatcher) setOverflow(on bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	started := on && !d.overflow
	d.overflow = on
	return started
}

// Dropped returns the number of events discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Run delivers queued events to every sink in order until ctx is done.
// Events still queued at cancellation are delivered before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-d.queue:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, s := range d.sinks {
		s.Deliver(e)
	}
}

// LogSink writes each event's display form to the standard logger.
type LogSink struct{}

// Deliver logs e.
func (LogSink) Deliver(e Event) {
	log.Printf("event: %s", e)
}
