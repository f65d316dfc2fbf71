// Package watch multiplexes a blocking wait over many pin sessions and
// dispatches reads to the pins that signalled.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/gpiowatch/internal/event"
	"github.com/sweeney/gpiowatch/internal/gpio"
	"github.com/sweeney/gpiowatch/internal/session"
)

// DefaultTimeout bounds each wait.
const DefaultTimeout = 10 * time.Second

// ErrWaitFatal wraps a failure of the wait primitive itself.
var ErrWaitFatal = errors.New("wait failed")

// State is the watcher lifecycle state.
type State int32

const (
	Idle State = iota
	Waiting
	Dispatching
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Waiting:
		return "WAITING"
	case Dispatching:
		return "DISPATCHING"
	case Stopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Poller blocks on a set of handles.
type Poller interface {
	// Wait blocks until at least one handle signals or timeout expires.
	// fired[i] is set for each handles[i] that signalled. Returns the number
	// of signalled handles; 0 means the timeout expired.
	Wait(handles []gpio.Handle, timeout time.Duration, fired []bool) (int, error)
}

// Waker is implemented by pollers that can interrupt a blocked Wait.
type Waker interface {
	Wake() error
}

// Stats counts watcher activity.
type Stats struct {
	Wakeups        uint64
	Timeouts       uint64
	Reads          uint64
	ReadErrors     uint64
	RewindFailures uint64
	Duplicates     uint64
}

// Watcher owns a fixed set of sessions.
type Watcher struct {
	sessions []*session.Session
	handles  []gpio.Handle
	poller   Poller
	out      event.Publisher
	timeout  time.Duration
	now      func() time.Time

	state atomic.Int32

	mu    sync.Mutex
	stop  chan struct{}
	stats Stats
}

// Options configures a Watcher.
type Options struct {
	// Timeout bounds each wait (DefaultTimeout if zero).
	Timeout time.Duration
	// Now overrides the event clock.
	Now func() time.Time
}

// New creates a watcher over sessions. The set cannot change afterwards.
func New(sessions []*session.Session, poller Poller, out event.Publisher, opts Options) *Watcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	w := &Watcher{
		sessions: append([]*session.Session(nil), sessions...),
		handles:  make([]gpio.Handle, len(sessions)),
		poller:   poller,
		out:      out,
		timeout:  timeout,
		now:      now,
		stop:     make(chan struct{}),
	}
	for i, s := range w.sessions {
		w.handles[i] = s.Handle()
	}
	return w
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Pins returns the watched pin identifiers in registration order.
func (w *Watcher) Pins() []int {
	pins := make([]int, len(w.sessions))
	for i, s := range w.sessions {
		pins[i] = s.Pin()
	}
	return pins
}

// Stop asks Run to return. It is safe to call more than once and from any
// goroutine. A blocked wait is interrupted if the poller supports it,
// otherwise Run returns when the current wait times out.
func (w *Watcher) Stop() {
	w.mu.Lock()
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	w.mu.Unlock()

	if wk, ok := w.poller.(Waker); ok {
		if err := wk.Wake(); err != nil {
			log.Printf("watch: wake: %v", err)
		}
	}
}

// Run arms every session, then waits and dispatches until ctx is done,
// Stop is called or the wait fails. A wait failure is returned wrapped in
// ErrWaitFatal. Run may be called again after it returns.
func (w *Watcher) Run(ctx context.Context) error {
	stop := w.reset()
	defer w.state.Store(int32(Stopped))

	unregister := context.AfterFunc(ctx, w.Stop)
	defer unregister()

	w.arm()

	fired := make([]bool, len(w.sessions))
	for {
		select {
		case <-stop:
			log.Printf("watch: stopped")
			return nil
		default:
		}

		w.state.Store(int32(Waiting))
		for i := range fired {
			fired[i] = false
		}
		n, err := w.poller.Wait(w.handles, w.timeout, fired)
		if err != nil {
			log.Printf("watch: wait failed, thread out: %v", err)
			return fmt.Errorf("%w: %w", ErrWaitFatal, err)
		}
		if n == 0 {
			w.count(func(s *Stats) { s.Timeouts++ })
			continue
		}

		w.state.Store(int32(Dispatching))
		w.count(func(s *Stats) { s.Wakeups++ })
		w.dispatch(fired)
	}
}

// reset prepares for a new Run and returns its stop channel.
func (w *Watcher) reset() chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stop:
		if w.State() == Stopped {
			w.stop = make(chan struct{})
		}
	default:
	}
	w.state.Store(int32(Idle))
	return w.stop
}

// arm performs the first read of every session. Nothing is published.
func (w *Watcher) arm() {
	for _, s := range w.sessions {
		out, err := s.ReadEdge(true)
		if err != nil {
			log.Printf("watch: arm gpio%d: %v", s.Pin(), err)
			continue
		}
		log.Printf("watch: armed gpio%d (%s)", s.Pin(), out)
	}
}

// dispatch reads every fired session in registration order.
func (w *Watcher) dispatch(fired []bool) {
	for i, s := range w.sessions {
		if !fired[i] {
			continue
		}

		prev := s.Last()
		out, err := s.ReadEdge(false)
		if err != nil {
			w.count(func(st *Stats) {
				if errors.Is(err, session.ErrRewindFailed) {
					st.RewindFailures++
				} else {
					st.ReadErrors++
				}
			})
			log.Printf("watch: %v", err)
			w.publish(event.Event{Time: w.now(), Pin: s.Pin(), Outcome: event.Error, Detail: detail(err)})
			continue
		}

		w.count(func(st *Stats) { st.Reads++ })
		if out == prev {
			w.count(func(st *Stats) { st.Duplicates++ })
			continue
		}
		w.publish(event.Event{Time: w.now(), Pin: s.Pin(), Outcome: out})
	}
}

func (w *Watcher) publish(e event.Event) {
	if !w.out.Publish(e) {
		log.Printf("watch: event dropped: %s", e)
	}
}

func (w *Watcher) count(f func(*Stats)) {
	w.mu.Lock()
	f(&w.stats)
	w.mu.Unlock()
}

// detail strips the pin prefix that the session errors carry.
func detail(err error) string {
	var rerr *session.ReadError
	if errors.As(err, &rerr) {
		return fmt.Sprintf("%v: %v", session.ErrRead, rerr.Err)
	}
	var werr *session.RewindError
	if errors.As(err, &werr) {
		return fmt.Sprintf("%v: %v", session.ErrRewindFailed, werr.Err)
	}
	return err.Error()
}
