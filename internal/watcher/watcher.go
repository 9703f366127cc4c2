// Package watcher keeps the document store in step with the data directory.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"github.com/Tyrowin/gamedesk/internal/document"
)

// DefaultDebounce is the delay between the last event for a file and its
// reload. Some filesystems emit two events for one logical write.
const DefaultDebounce = 100 * time.Millisecond

// Reloader re-merges one source file.
type Reloader interface {
	Reload(path string) error
}

// Watcher turns directory events into debounced reloads.
type Watcher struct {
	dir      string
	target   Reloader
	clock    clockwork.Clock
	debounce time.Duration
	logger   *slog.Logger

	fsw    *fsnotify.Watcher
	events <-chan fsnotify.Event
	errs   <-chan error

	mu      sync.Mutex
	pending map[string]clockwork.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithClock replaces the real clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// WithDebounce sets the debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New establishes a watch on dir. Failing to do so is returned to the
// caller, which treats it as fatal; later errors never tear the watch down.
func New(dir string, target Reloader, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w := newWatcher(dir, target, fsw.Events, fsw.Errors, opts...)
	w.fsw = fsw
	return w, nil
}

func newWatcher(dir string, target Reloader, events <-chan fsnotify.Event, errs <-chan error, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		target:   target,
		clock:    clockwork.NewRealClock(),
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		events:   events,
		errs:     errs,
		pending:  make(map[string]clockwork.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes events until ctx is done or the event stream closes.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watching data directory", "dir", w.dir, "debounce", w.debounce)
	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.errs:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "dir", w.dir, "error", err)
		}
	}
}

// Close releases the underlying watch.
func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}

// handle schedules a reload for writes and creates of source files. Events
// for a file already pending push its timer back.
func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	if !document.IsSource(ev.Name) {
		return
	}
	w.logger.Debug("source changed", "path", ev.Name, "op", ev.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[ev.Name]; ok {
		t.Reset(w.debounce)
		return
	}
	path := ev.Name
	w.pending[path] = w.clock.AfterFunc(w.debounce, func() { w.reload(path) })
}

// reload runs when a debounce timer fires.
func (w *Watcher) reload(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	if err := w.target.Reload(path); err != nil {
		w.logger.Error("reload failed", "path", path, "error", err)
		return
	}
	w.logger.Info("reloaded", "path", path)
}

// stopPending cancels every scheduled reload.
func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
