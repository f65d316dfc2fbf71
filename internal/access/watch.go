package access

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// PolicyWatcher is an Authorizer backed by a policy file that is reloaded
// whenever the file changes. A file that fails to parse leaves the previous
// policy in force.
type PolicyWatcher struct {
	path    string
	policy  atomic.Pointer[Policy]
	reloads atomic.Uint64

	fsw       *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// WatchPolicy loads path and starts watching it.
func WatchPolicy(path string) (*PolicyWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("policy path: %w", err)
	}
	p, err := LoadPolicy(abs)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch policy: %w", err)
	}
	// Watch the directory: editors and config management replace the file
	// rather than writing it in place.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch policy: %w", err)
	}

	w := &PolicyWatcher{
		path: abs,
		fsw:  fsw,
		done: make(chan struct{}),
	}
	w.policy.Store(p)

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Authorize delegates to the current policy.
func (w *PolicyWatcher) Authorize(caller Caller, perm string) error {
	return w.policy.Load().Authorize(caller, perm)
}

// Reloads returns the number of successful reloads since start.
func (w *PolicyWatcher) Reloads() uint64 {
	return w.reloads.Load()
}

// Close stops watching.
func (w *PolicyWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *PolicyWatcher) run() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("access: policy watch error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *PolicyWatcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		log.Printf("access: keeping previous policy: %v", err)
		return
	}
	// Truncate-then-write shows up as an empty file first.
	if len(bytes.TrimSpace(data)) == 0 {
		return
	}
	p, err := ParsePolicy(data)
	if err != nil {
		log.Printf("access: keeping previous policy: %v", err)
		return
	}
	w.policy.Store(p)
	w.reloads.Add(1)
	log.Printf("access: policy reloaded (%d callers)", len(p.Callers))
}
