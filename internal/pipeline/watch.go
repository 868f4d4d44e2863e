package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oviney/economist-agents-sub001/internal/logging"
)

// WatchFunc runs when a watched request file has settled after a change.
type WatchFunc func(ctx context.Context, path string)

// Watcher re-runs a chart request whenever its file changes. It watches
// the parent directory rather than the file itself, because editors
// replace files on save and a file watch dies with the old inode.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	target      string
	onChange    WatchFunc
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       WatchStats
}

// WatchStats tracks watcher activity for debugging.
type WatchStats struct {
	Events    int
	Triggers  int
	Errors    int
	LastEvent time.Time
}

// NewWatcher builds a watcher for one request file. Start must be called
// to begin watching.
func NewWatcher(path string, onChange WatchFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		target:      abs,
		onChange:    onChange,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in its own
// goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.target)); err != nil {
		return err
	}
	logging.Watch("watching %s", w.target)

	go w.run(ctx)
	return nil
}

// Stop halts the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.WatchWarn("closing watcher: %v", err)
	}
	logging.Watch("stopped watching %s", w.target)
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() WatchStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("context canceled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchWarn("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebounced(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.target {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	logging.WatchDebug("%s on %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEvent = time.Now()
	w.debounceMap[w.target] = time.Now()
	w.mu.Unlock()
}

// processDebounced fires the callback for changes that have settled past
// the debounce window, so a burst of editor saves runs the chart once.
func (w *Watcher) processDebounced(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var toProcess []string
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			toProcess = append(toProcess, path)
			delete(w.debounceMap, path)
		}
	}
	if len(toProcess) > 0 {
		w.stats.Triggers += len(toProcess)
	}
	w.mu.Unlock()

	for _, path := range toProcess {
		logging.Watch("change settled, regenerating %s", path)
		w.onChange(ctx, path)
	}
}
