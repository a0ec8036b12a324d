// Package watch marks cached indexes dirty when their sources change on
// disk. Filesystem events are debounced per cache key, so a burst of
// writes costs one staleness check on the next query instead of one per
// event.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ragon-ai/ragon/internal/extract"
)

// DefaultDebounce is how long a key stays quiet before its mark fires.
const DefaultDebounce = 500 * time.Millisecond

// target is one cache key under watch. Merged keys watch their own
// directory; per-file keys watch the parent and filter to the file.
type target struct {
	key  string
	dir  string
	file string
}

// Watcher forwards debounced source changes to a notify callback,
// normally cache.MarkDirty. Safe for concurrent use.
type Watcher struct {
	notify   func(key string)
	debounce time.Duration
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	targets map[string]target
	watched map[string]int
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool

	done chan struct{}
}

// New returns a watcher delivering marks to notify. debounce <= 0
// selects DefaultDebounce.
func New(notify func(key string), debounce time.Duration) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		notify:   notify,
		debounce: debounce,
		fs:       fs,
		targets:  make(map[string]target),
		watched:  make(map[string]int),
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start consumes filesystem events until ctx is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Watch registers the cache key at path. Directories are watched
// directly; a file watches its parent directory filtered to that file.
func (w *Watcher) Watch(path string) error {
	key := filepath.Clean(path)
	t := target{key: key, dir: key}
	if info, err := os.Stat(key); err == nil && !info.IsDir() {
		t.dir = filepath.Dir(key)
		t.file = key
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	if _, dup := w.targets[key]; dup {
		return nil
	}

	if w.watched[t.dir] == 0 {
		if err := w.fs.Add(t.dir); err != nil {
			return err
		}
	}
	w.watched[t.dir]++
	w.targets[key] = t
	slog.Debug("watching sources", "key", key, "dir", t.dir)
	return nil
}

// Unwatch deregisters the cache key at path.
func (w *Watcher) Unwatch(path string) {
	key := filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.targets[key]
	if !ok {
		return
	}
	delete(w.targets, key)
	delete(w.pending, key)

	w.watched[t.dir]--
	if w.watched[t.dir] <= 0 {
		delete(w.watched, t.dir)
		if !w.stopped {
			_ = w.fs.Remove(t.dir)
		}
	}
}

// Stop halts event delivery. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.done)
	w.mu.Unlock()

	return w.fs.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("watch error", "error", err)
		}
	}
}

// handle maps one filesystem event onto the cache keys it affects.
// Index artifacts (fingerprint directories, manifests, locks, staging
// dirs) are not sources and never mark anything.
func (w *Watcher) handle(ev fsnotify.Event) {
	if !extract.IsSource(filepath.Base(ev.Name)) {
		return
	}
	path := filepath.Clean(ev.Name)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	marked := false
	for _, t := range w.targets {
		if t.dir != dir {
			continue
		}
		if t.file != "" && t.file != path {
			continue
		}
		w.pending[t.key] = struct{}{}
		marked = true
	}
	if marked {
		w.scheduleFlush()
	}
}

// scheduleFlush restarts the debounce timer. Callers hold w.mu.
func (w *Watcher) scheduleFlush() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.stopped || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(w.pending))
	for key := range w.pending {
		keys = append(keys, key)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	for _, key := range keys {
		slog.Debug("sources changed", "key", key)
		w.notify(key)
	}
}
