// Package watch reloads a diagram document into the live state whenever the
// file changes on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/signalsfoundry/unifilar/internal/logging"
)

const defaultDebounce = 200 * time.Millisecond

// Importer replaces the current diagram with a document.
// *state.DiagramState satisfies it.
type Importer interface {
	Import(ctx context.Context, data []byte) error
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Reloads       int
	Errors        int
	LastReload    time.Time
	LastEventType string
}

// DiagramWatcher watches a single file. The parent directory is watched so
// editors that save by rename are still seen.
type DiagramWatcher struct {
	path     string
	debounce time.Duration
	target   Importer
	log      logging.Logger
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	stats Stats
}

// Option configures a DiagramWatcher.
type Option func(*DiagramWatcher)

// WithDebounce sets how long the file must stay quiet before it is reloaded.
func WithDebounce(d time.Duration) Option {
	return func(w *DiagramWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New starts watching the directory holding path. Run must be called to
// process events; Close is only needed when Run is never called.
func New(path string, target Importer, log logging.Logger, opts ...Option) (*DiagramWatcher, error) {
	if path == "" {
		return nil, errors.New("watch: empty path")
	}
	if target == nil {
		return nil, errors.New("watch: nil importer")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", filepath.Dir(abs), err)
	}

	w := &DiagramWatcher{
		path:     abs,
		debounce: defaultDebounce,
		target:   target,
		log:      logging.OrNoop(log),
		watcher:  fw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *DiagramWatcher) Path() string { return w.path }

// Stats returns a copy of the counters.
func (w *DiagramWatcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Close releases the underlying fsnotify watcher.
func (w *DiagramWatcher) Close() error {
	return w.watcher.Close()
}

// Run processes events until ctx is done, then closes the watcher.
func (w *DiagramWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.log.Info(ctx, "watching diagram file", logging.String("path", w.path))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(ctx, event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error(ctx, "diagram watcher error", logging.Err(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-timer.C:
			if err := w.Reload(ctx); err != nil {
				w.log.Warn(ctx, "diagram reload failed",
					logging.String("path", w.path),
					logging.Err(err),
				)
			}
		}
	}
}

// handleEvent reports whether the event should schedule a reload.
func (w *DiagramWatcher) handleEvent(ctx context.Context, event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}

	var eventType string
	switch {
	case event.Has(fsnotify.Create):
		eventType = "create"
	case event.Has(fsnotify.Write):
		eventType = "modify"
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// The diagram stays as it is until the file comes back.
		eventType = "delete"
	default:
		return false
	}

	w.log.Debug(ctx, "diagram file event", logging.String("type", eventType))
	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventType = eventType
	w.mu.Unlock()
	return eventType != "delete"
}

// Reload reads the file and imports it. A missing file is not an error.
func (w *DiagramWatcher) Reload(ctx context.Context) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		w.countError()
		return fmt.Errorf("read %s: %w", w.path, err)
	}
	if err := w.target.Import(ctx, data); err != nil {
		w.countError()
		return err
	}

	w.mu.Lock()
	w.stats.Reloads++
	w.stats.LastReload = time.Now()
	w.mu.Unlock()
	w.log.Info(ctx, "diagram reloaded from file",
		logging.String("path", w.path),
		logging.Int("bytes", len(data)),
	)
	return nil
}

func (w *DiagramWatcher) countError() {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}
