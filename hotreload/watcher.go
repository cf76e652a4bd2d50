package hotreload

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the window during which repeated change events for the
// same file collapse into one reload.
const DefaultDebounce = 100 * time.Millisecond

// ErrWatcherClosed is returned when registering on a closed watcher.
var ErrWatcherClosed = errors.New("hotreload: watcher closed")

// ReloadFunc is invoked after a watched file settles. The path is the one
// passed to Watch.
type ReloadFunc func(path string) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the event coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(w *Watcher) {
		w.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher dispatches file change notifications to registered reload
// callbacks. Directories are watched rather than individual files so that
// editors replacing files via rename-over keep triggering events.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	handlers map[string][]ReloadFunc // keyed by absolute file path
	watched  map[string]int          // directory watch refcounts
	pending  map[string]*clock.Timer
	paused   bool
	closed   bool

	debounce time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	wg   sync.WaitGroup
	done chan struct{}
}

// New creates a Watcher and starts its event loop.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		handlers: make(map[string][]ReloadFunc),
		watched:  make(map[string]int),
		pending:  make(map[string]*clock.Timer),
		debounce: DefaultDebounce,
		clock:    clock.New(),
		logger:   slog.New(slog.DiscardHandler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Watch registers fn to run whenever the file at path changes. Multiple
// callbacks may be registered for one path; they run in registration order.
func (w *Watcher) Watch(path string, fn ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	if w.watched[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
	}
	w.watched[dir]++
	w.handlers[abs] = append(w.handlers[abs], fn)

	w.logger.Debug("watching file", "path", abs)

	return nil
}

// Unwatch removes all callbacks for path and drops the directory watch when
// it is no longer needed.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.handlers[abs]; !ok {
		return
	}
	delete(w.handlers, abs)

	if t, ok := w.pending[abs]; ok {
		t.Stop()
		delete(w.pending, abs)
	}

	w.watched[dir]--
	if w.watched[dir] <= 0 {
		delete(w.watched, dir)
		_ = w.fsw.Remove(dir)
	}
}

// SetEnabled pauses or resumes reload dispatch. While paused, change events
// are discarded and armed debounce timers are cancelled; registrations are
// kept.
func (w *Watcher) SetEnabled(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.paused = !enabled
	if w.paused {
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
	}
}

// Close stops the event loop. Pending debounced reloads are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()

	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.fileChanged(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

// fileChanged arms (or re-arms) the debounce timer for a registered file.
func (w *Watcher) fileChanged(name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paused {
		return
	}
	if _, ok := w.handlers[abs]; !ok {
		return
	}

	if t, ok := w.pending[abs]; ok {
		t.Stop()
	}
	w.pending[abs] = w.clock.AfterFunc(w.debounce, func() {
		w.reload(abs)
	})
}

func (w *Watcher) reload(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	fns := make([]ReloadFunc, len(w.handlers[path]))
	copy(fns, w.handlers[path])
	w.mu.Unlock()

	for _, fn := range fns {
		if err := fn(path); err != nil {
			w.logger.Error("reload failed", "path", path, "error", err)
			continue
		}
		w.logger.Info("resource reloaded", "path", path)
	}
}
