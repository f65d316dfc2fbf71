// Package web exposes the watcher over HTTP: a rendered pin table at /,
// the same snapshot as JSON at /index.json, and every dispatched pin
// event pushed to websocket clients on /events.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/sweeney/gpiowatch/internal/status"
)

// Server renders tracker snapshots and fans the event feed out to
// browsers.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	feed       *Feed
}

// New routes the status pages to tracker and /events to feed. Nothing
// listens until ListenAndServe.
func New(addr string, tracker *status.Tracker, feed *Feed) *Server {
	s := &Server{tracker: tracker, feed: feed}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.Handle("/events", feed)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routes for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe binds addr and blocks. After Shutdown it returns
// http.ErrServerClosed.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight page loads.
// Hijacked /events connections are outside its reach and end with the
// process.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}
