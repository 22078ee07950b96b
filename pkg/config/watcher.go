package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval is the quiet period before a changed file is reloaded.
const DefaultDebounceInterval = 250 * time.Millisecond

// Watcher reloads the configuration file when it changes.
//
// The parent directory is watched rather than the file itself, so editors
// and config management tools that replace the file by rename are seen.
// Bursts of events are debounced into a single reload.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce *Debouncer
	reload   func(path string) error
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for the configuration file at path.
// reload defaults to ReloadConfig. A zero debounce uses DefaultDebounceInterval.
func NewWatcher(path string, debounce time.Duration, reload func(string) error) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounceInterval
	}
	if reload == nil {
		reload = ReloadConfig
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		path:     abs,
		watcher:  fw,
		debounce: NewDebouncer(debounce),
		reload:   reload,
		logger:   slog.Default().With("component", "config.watcher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks until ctx is cancelled or Stop is called, reloading the file
// after every change. Reload errors are logged; the previous configuration
// stays in effect.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer close(w.doneCh)

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info("watching configuration file", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-w.stopCh:
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}

			w.logger.Debug("configuration file event", "op", event.Op.String())
			w.debounce.Trigger(func() {
				if err := w.reload(w.path); err != nil {
					w.logger.Error("configuration reload failed, keeping previous configuration", "error", err)
					return
				}
				w.logger.Info("configuration reloaded", "path", w.path)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("configuration watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}

// Stop stops the watcher and cancels a pending reload.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}

	w.debounce.Stop()
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Debouncer collects rapid events and runs the latest callback once after a
// quiet period.
type Debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

// NewDebouncer creates a new debouncer.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules callback, replacing any callback still pending.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	cb := d.callback
	d.callback = nil
	stopped := d.stopped
	d.mu.Unlock()

	if cb != nil && !stopped {
		cb()
	}
}

// Stop cancels any pending callback. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
