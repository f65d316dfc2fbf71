// Command gpiowatch watches GPIO input pins and reports presses and releases
// to the log, an HTTP status page and MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/gpiowatch/internal/access"
	"github.com/sweeney/gpiowatch/internal/config"
	"github.com/sweeney/gpiowatch/internal/event"
	"github.com/sweeney/gpiowatch/internal/gpio"
	"github.com/sweeney/gpiowatch/internal/mqtt"
	"github.com/sweeney/gpiowatch/internal/session"
	"github.com/sweeney/gpiowatch/internal/status"
	"github.com/sweeney/gpiowatch/internal/watch"
	"github.com/sweeney/gpiowatch/internal/web"
)

// envToken holds the caller token presented to the access gate.
const envToken = "GPIOWATCH_TOKEN"

// statusInterval is how often watcher counters are copied to the tracker.
const statusInterval = time.Second

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("fatal: %v", err)
	}
	if err := run(opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

type options struct {
	cfg        config.Config
	printState bool
	token      string
}

// parseFlags loads --config and applies the flags that were set on top of it.
func parseFlags(args []string) (options, error) {
	def := config.Default()
	fs := flag.NewFlagSet("gpiowatch", flag.ContinueOnError)

	configPath := fs.String("config", "", "YAML config file (flags override it)")
	pins := fs.String("pins", joinPins(def.Pins), "Comma-separated GPIO pins to watch")
	direction := fs.String("direction", def.Direction, "Pin direction (in or out)")
	backend := fs.String("backend", def.Backend, "Handle provider (sysfs or cdev)")
	sysfsRoot := fs.String("sysfs-root", def.SysfsRoot, "sysfs GPIO class directory")
	chip := fs.String("chip", def.Chip, "GPIO character device for the cdev backend")
	pressedLevel := fs.String("pressed-level", def.PressedLevel, "Value byte that means pressed (0 or 1)")
	timeout := fs.Duration("timeout", def.Timeout, "Upper bound on each wait")
	broker := fs.String("broker", def.Broker, "MQTT broker address (empty to disable)")
	httpAddr := fs.String("http", def.HTTPAddr, "HTTP status address (empty to disable)")
	policy := fs.String("policy", def.Policy, "Caller policy file (empty allows every caller)")
	caller := fs.String("caller", def.Caller, "Caller name presented to the access gate")
	restartDelay := fs.Duration("restart-delay", def.RestartDelay, "Delay before restarting a failed watcher (0 to leave it stopped)")
	heartbeat := fs.Duration("heartbeat", def.Heartbeat, "Heartbeat interval (0 to disable)")
	printState := fs.Bool("print-state", false, "Print current pin states and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return options{}, err
	}

	var errs []error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "pins":
			p, err := config.ParsePins(*pins)
			if err != nil {
				errs = append(errs, fmt.Errorf("--pins: %w", err))
				return
			}
			cfg.Pins = p
		case "direction":
			cfg.Direction = *direction
		case "backend":
			cfg.Backend = *backend
		case "sysfs-root":
			cfg.SysfsRoot = *sysfsRoot
		case "chip":
			cfg.Chip = *chip
		case "pressed-level":
			cfg.PressedLevel = *pressedLevel
		case "timeout":
			cfg.Timeout = *timeout
		case "broker":
			cfg.Broker = *broker
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "policy":
			cfg.Policy = *policy
		case "caller":
			cfg.Caller = *caller
		case "restart-delay":
			cfg.RestartDelay = *restartDelay
		case "heartbeat":
			cfg.Heartbeat = *heartbeat
		}
	})
	if err := errors.Join(errs...); err != nil {
		return options{}, err
	}
	if err := cfg.Validate(); err != nil {
		return options{}, err
	}

	return options{cfg: cfg, printState: *printState, token: os.Getenv(envToken)}, nil
}

func joinPins(pins []int) string {
	s := make([]string, len(pins))
	for i, p := range pins {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ",")
}

func run(opts options) error {
	cfg := opts.cfg

	provider, err := newProvider(cfg)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}

	auth, closeAuth, err := newAuthorizer(cfg.Policy)
	if err != nil {
		return fmt.Errorf("init access: %w", err)
	}
	defer closeAuth()

	enc, err := session.ParseLevel(cfg.PressedLevel)
	if err != nil {
		return err
	}

	gate := access.NewGate(auth, provider)
	sessions, err := openSessions(gate, access.Caller{Name: cfg.Caller, Token: opts.token}, cfg.Pins, cfg.Direction, enc)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.CloseAll(sessions); err != nil {
			log.Printf("close sessions: %v", err)
		}
	}()

	if opts.printState {
		return printState(os.Stdout, sessions)
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	tracker.SetPins(sessionPins(sessions))

	sinks := []event.Sink{event.LogSink{}, tracker}

	var publisher mqtt.Publisher
	if cfg.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.Broker,
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer pub.Close()
		tracker.SetMQTTConnected(pub.IsConnected())
		publisher = pub
		sinks = append(sinks, mqtt.NewSink(pub))
	} else {
		log.Printf("mqtt disabled")
	}

	feed := web.NewFeed()
	sinks = append(sinks, feed)
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, feed)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}

	dispatcher := event.NewDispatcher(cfg.QueueSize, sinks...)
	dctx, stopDispatch := context.WithCancel(context.Background())
	dispatched := make(chan struct{})
	go func() {
		dispatcher.Run(dctx)
		close(dispatched)
	}()
	defer func() {
		stopDispatch()
		<-dispatched
	}()

	poller, err := watch.NewPoller()
	if err != nil {
		return fmt.Errorf("init poller: %w", err)
	}
	defer poller.Close()

	watcher := watch.New(sessions, poller, dispatcher, watch.Options{Timeout: cfg.Timeout})

	publishSystem(publisher, tracker, mqtt.EventStartup, "")
	log.Printf("started: pins=%v backend=%s timeout=%v broker=%q http=%q heartbeat=%v",
		watcher.Pins(), cfg.Backend, cfg.Timeout, cfg.Broker, cfg.HTTPAddr, cfg.Heartbeat)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		watcher:      watcher,
		tracker:      tracker,
		publisher:    publisher,
		dropped:      dispatcher.Dropped,
		restartDelay: cfg.RestartDelay,
		heartbeat:    cfg.Heartbeat,
		started:      time.Now(),
	}
	return l.run(sigCh, ticker.C)
}

func newProvider(cfg config.Config) (gpio.Provider, error) {
	switch cfg.Backend {
	case config.BackendSysfs:
		return gpio.NewSysfsProvider(cfg.SysfsRoot), nil
	case config.BackendCdev:
		p, err := gpio.NewCdevProvider(cfg.Chip)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// newAuthorizer returns the policy watcher for path, or AllowAll if no
// policy is configured.
func newAuthorizer(path string) (access.Authorizer, func(), error) {
	if path == "" {
		log.Printf("access: no policy configured, every caller is allowed")
		return access.AllowAll{}, func() {}, nil
	}
	w, err := access.WatchPolicy(path)
	if err != nil {
		return nil, nil, err
	}
	return w, func() { w.Close() }, nil
}

// openSessions opens every pin through the gate. A pin that fails to open
// is logged and skipped; an unauthorized caller or no open pin at all is an
// error.
func openSessions(gate *access.Gate, caller access.Caller, pins []int, direction string, enc session.Encoding) ([]*session.Session, error) {
	var sessions []*session.Session
	for _, pin := range pins {
		h, err := gate.OpenPin(caller, pin, direction)
		if errors.Is(err, access.ErrUnauthorized) {
			session.CloseAll(sessions)
			return nil, fmt.Errorf("caller %q: %w", caller.Name, err)
		}
		if err != nil {
			log.Printf("skipping gpio%d: %v", pin, err)
			continue
		}
		sessions = append(sessions, session.New(pin, h, enc))
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no pin could be opened (tried %v)", pins)
	}
	return sessions, nil
}

func sessionPins(sessions []*session.Session) []int {
	pins := make([]int, len(sessions))
	for i, s := range sessions {
		pins[i] = s.Pin()
	}
	return pins
}

// printState reads every session once and prints its state.
func printState(w io.Writer, sessions []*session.Session) error {
	var errs []error
	for _, s := range sessions {
		out, err := s.ReadEdge(true)
		if err != nil {
			fmt.Fprintf(w, "GPIO%d: %s\n", s.Pin(), event.Error)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(w, "GPIO%d: %s\n", s.Pin(), out)
	}
	return errors.Join(errs...)
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		Pins:         cfg.Pins,
		Backend:      cfg.Backend,
		Direction:    cfg.Direction,
		PressedLevel: cfg.PressedLevel,
		TimeoutMs:    cfg.Timeout.Milliseconds(),
		HeartbeatMs:  cfg.Heartbeat.Milliseconds(),
		QueueSize:    cfg.QueueSize,
		Broker:       cfg.Broker,
		HTTPAddr:     cfg.HTTPAddr,
		Caller:       cfg.Caller,
	}
}

// publishSystem sends a lifecycle event carrying a status snapshot.
// publisher may be nil when MQTT is disabled.
func publishSystem(publisher mqtt.Publisher, tracker *status.Tracker, name, reason string) {
	if publisher == nil {
		return
	}
	snap := tracker.Snapshot()
	e := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      name,
		Reason:     reason,
		Retained:   name == mqtt.EventStartup || name == mqtt.EventShutdown,
		RawPayload: status.FormatStatusEvent(snap, name, reason),
	}
	if err := publisher.PublishSystem(e); err != nil {
		log.Printf("failed to publish %s event: %v", name, err)
		return
	}
	log.Printf("published %s event", name)
}

// loop owns the watcher goroutine. It restarts the watcher after a fatal
// wait, keeps the tracker current and sends heartbeats until a signal
// arrives.
type loop struct {
	watcher      *watch.Watcher
	tracker      *status.Tracker
	publisher    mqtt.Publisher
	dropped      func() uint64
	restartDelay time.Duration
	heartbeat    time.Duration // 0 disables
	started      time.Time     // first heartbeat is due heartbeat after this
}

func (l *loop) run(sig <-chan os.Signal, tick <-chan time.Time) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	running := false
	start := func() {
		running = true
		go func() { done <- l.watcher.Run(ctx) }()
	}
	start()

	var restart <-chan time.Time
	lastBeat := l.started
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			cancel()
			if running {
				<-done
			}
			l.refresh()
			publishSystem(l.publisher, l.tracker, mqtt.EventShutdown, signalName(s))
			return nil

		case err := <-done:
			running = false
			l.refresh()
			reason := "stopped"
			if err != nil {
				reason = err.Error()
			}
			log.Printf("watcher stopped: %s", reason)
			publishSystem(l.publisher, l.tracker, mqtt.EventWatcherStopped, reason)
			if l.restartDelay > 0 {
				log.Printf("restarting watcher in %v", l.restartDelay)
				restart = time.After(l.restartDelay)
			}

		case <-restart:
			restart = nil
			l.tracker.Restarted()
			start()
			publishSystem(l.publisher, l.tracker, mqtt.EventWatcherRestarted, "")

		case t := <-tick:
			l.refresh()
			if l.heartbeat > 0 && t.Sub(lastBeat) >= l.heartbeat {
				lastBeat = t
				snap := l.tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v watcher=%s pressed=%d released=%d errors=%d",
					snap.Uptime().Round(time.Second), snap.Watcher, snap.Counts.Pressed, snap.Counts.Released, snap.Counts.Errors)
				publishSystem(l.publisher, l.tracker, mqtt.EventHeartbeat, "")
			}
		}
	}
}

// refresh copies the watcher counters and connection state to the tracker.
func (l *loop) refresh() {
	var dropped uint64
	if l.dropped != nil {
		dropped = l.dropped()
	}
	l.tracker.SetWatcher(l.watcher.State(), l.watcher.Stats(), dropped)
	if cs, ok := l.publisher.(mqtt.ConnectionStatus); ok {
		l.tracker.SetMQTTConnected(cs.IsConnected())
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
