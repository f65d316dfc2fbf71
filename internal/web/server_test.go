package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/gpiowatch/internal/event"
	"github.com/sweeney/gpiowatch/internal/status"
	"github.com/sweeney/gpiowatch/internal/watch"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker, *Feed) {
	t.Helper()
	cfg := status.Config{
		Pins:         []int{12, 16},
		Backend:      "sysfs",
		PressedLevel: "0",
		TimeoutMs:    10000,
		Broker:       "tcp://192.168.1.200:1883",
		HTTPAddr:     ":8080",
		Caller:       "gpiowatch",
	}
	tr := status.NewTracker(start, cfg)
	feed := NewFeed()
	srv := New(":0", tr, feed)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr, feed
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.Deliver(event.Event{Time: start, Pin: 12, Outcome: event.Pressed})
	tr.SetWatcher(watch.Waiting, watch.Stats{Wakeups: 1}, 0)
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	sj := getJSON(t, ts.URL+"/index.json")
	if len(sj.Status.Pins) != 2 {
		t.Fatalf("Pins: got %d, want 2", len(sj.Status.Pins))
	}
	if sj.Status.Pins[0].State != "PRESSED" {
		t.Errorf("GPIO12: got %q, want PRESSED", sj.Status.Pins[0].State)
	}
	if sj.Status.Pins[1].State != "UNKNOWN" {
		t.Errorf("GPIO16: got %q, want UNKNOWN", sj.Status.Pins[1].State)
	}
	if sj.Status.Watcher.State != "WAITING" {
		t.Errorf("Watcher.State: got %q, want WAITING", sj.Status.Watcher.State)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q", sj.Status.Config.HTTPAddr)
	}
	if len(sj.Status.Recent) != 1 || sj.Status.Recent[0].Message != "GPIO12 pressed" {
		t.Errorf("Recent: got %+v", sj.Status.Recent)
	}
}

func TestHTMLListsRecentEventsNewestFirst(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.Deliver(event.Event{Time: start, Pin: 12, Outcome: event.Pressed})
	tr.Deliver(event.Event{Time: start.Add(time.Second), Pin: 12, Outcome: event.Released})
	tr.Deliver(event.Event{Time: start.Add(2 * time.Second), Pin: 16, Outcome: event.Error, Detail: "read failed: EIO"})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	page := string(body)
	errAt := strings.Index(page, "GPIO16 error read failed: EIO")
	relAt := strings.Index(page, "GPIO12 released")
	pressAt := strings.Index(page, "GPIO12 pressed")
	if errAt < 0 || relAt < 0 || pressAt < 0 {
		t.Fatalf("missing events in page:\n%s", page)
	}
	if !(errAt < relAt && relAt < pressAt) {
		t.Errorf("events not newest first: error@%d released@%d pressed@%d", errAt, relAt, pressAt)
	}
	if !strings.Contains(page, `id="pin-12" class="released"`) {
		t.Error("expected GPIO12 shown as released")
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr, _ := newTestServer(t)

	sj1 := getJSON(t, ts.URL+"/index.json")
	if sj1.Status.Watcher.State != "IDLE" {
		t.Errorf("expected IDLE initially, got %q", sj1.Status.Watcher.State)
	}

	tr.SetWatcherState(watch.Stopped)
	tr.Restarted()

	sj2 := getJSON(t, ts.URL+"/index.json")
	if sj2.Status.Watcher.State != "STOPPED" {
		t.Errorf("Watcher.State: got %q, want STOPPED", sj2.Status.Watcher.State)
	}
	if sj2.Status.Watcher.Restarts != 1 {
		t.Errorf("Watcher.Restarts: got %d, want 1", sj2.Status.Watcher.Restarts)
	}
}

func dialFeed(t *testing.T, ts *httptest.Server, feed *Feed) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for feed.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

func TestEventFeedStreamsEvents(t *testing.T) {
	ts, _, feed := newTestServer(t)
	conn := dialFeed(t, ts, feed)

	feed.Deliver(event.Event{Time: start, Pin: 12, Outcome: event.Pressed})
	feed.Deliver(event.Event{Time: start, Pin: 12, Outcome: event.Released})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for _, want := range []string{"GPIO12 pressed", "GPIO12 released"} {
		var msg status.EventJSON
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Message != want {
			t.Errorf("message: got %q, want %q", msg.Message, want)
		}
		if msg.Pin != 12 {
			t.Errorf("pin: got %d, want 12", msg.Pin)
		}
	}
}

func TestEventFeedUnsubscribesOnClose(t *testing.T) {
	ts, _, feed := newTestServer(t)
	conn := dialFeed(t, ts, feed)

	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for feed.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFeedDeliverNeverBlocks(t *testing.T) {
	feed := NewFeed()
	_, cancel := feed.subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < feedClientQueue+10; i++ {
			feed.Deliver(event.Event{Pin: 1, Outcome: event.Pressed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Deliver blocked on a slow client")
	}
	if feed.Dropped() != 10 {
		t.Errorf("Dropped: got %d, want 10", feed.Dropped())
	}
}

func TestShutdownEndsListenAndServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := New(addr, status.NewTracker(start, status.Config{}), NewFeed())
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/index.json")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("ListenAndServe: got %v, want ErrServerClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
}
