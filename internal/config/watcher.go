package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pizauth/pkg/logging"
)

// DebounceInterval is how long the watcher waits after the last detected
// change before calling OnChange, so an editor's multi-step atomic-save
// (write temp file, rename over target) triggers one reload, not several.
const DebounceInterval = 300 * time.Millisecond

// Watcher observes a config file's directory for changes and invokes
// OnChange after they settle. Watching the directory rather than the file
// itself means editors that save by rename (vim, most "atomic write"
// libraries) are still observed -- a bare fsnotify watch on the file
// handle would miss the replacement file entirely.
type Watcher struct {
	path string
	fsw *fsnotify.Watcher
	onChange func()

	mu sync.Mutex
	timer *time.Timer

	// runMu keeps two debounced reloads from running onChange at once.
	runMu sync.Mutex

	done chan struct{}
}

// NewWatcher creates a Watcher for the config file at path. onChange is
// called (from an internal goroutine) each time the file settles after a
// change; it is never called concurrently with itself.
func NewWatcher(path string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path: path,
		fsw: fsw,
		onChange: onChange,
		done: make(chan struct{}),
	}, nil
}

// Run processes filesystem events until Stop is called. It is meant to be
// run in its own goroutine (the daemon registers it as an oklog/run actor).
func (w *Watcher) Run() {
	target := filepath.Base(w.path)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("config-watcher", "fsnotify error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(DebounceInterval, func() {
		w.runMu.Lock()
		defer w.runMu.Unlock()
		w.onChange()
	})
}

// Stop closes the underlying fsnotify watcher and unblocks Run.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
}
