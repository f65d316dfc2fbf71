package web

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/gpiowatch/internal/event"
	"github.com/sweeney/gpiowatch/internal/status"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second

	// feedClientQueue is the per-client backlog. A client that falls this
	// far behind misses events.
	feedClientQueue = 16
)

// Feed fans dispatched events out to websocket clients as EventJSON
// messages. It implements event.Sink; Deliver never blocks on a client.
type Feed struct {
	mu      sync.Mutex
	clients map[chan status.EventJSON]struct{}
	dropped uint64
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{clients: make(map[chan status.EventJSON]struct{})}
}

// Deliver sends e to every connected client.
func (f *Feed) Deliver(e event.Event) {
	msg := status.NewEventJSON(e)
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.clients {
		select {
		case ch <- msg:
		default:
			f.dropped++
		}
	}
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Dropped returns the number of messages not queued to a slow client.
func (f *Feed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func (f *Feed) subscribe() (<-chan status.EventJSON, func()) {
	ch := make(chan status.EventJSON, feedClientQueue)
	f.mu.Lock()
	f.clients[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.clients, ch)
			f.mu.Unlock()
		})
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	output, cancel := f.subscribe()
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case msg := <-output:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Clients do not send anything; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
