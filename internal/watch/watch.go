// Package watch re-runs a sync whenever an album directory changes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/util"
)

// DefaultDebounce is how long the album must stay quiet before a sync starts.
const DefaultDebounce = 5 * time.Second

// SyncFunc processes the album once.
type SyncFunc func(ctx context.Context) error

// Watcher watches an album directory for media changes. Like the album
// scanner, it only looks at the top level.
type Watcher struct {
	dir      string
	sync     SyncFunc
	debounce time.Duration
	initial  bool
	logger   *logging.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a sync.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithInitialSync runs a sync before waiting for the first change.
func WithInitialSync(enabled bool) Option {
	return func(w *Watcher) { w.initial = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher calling fn after changes under dir settle.
func New(dir string, fn SyncFunc, opts ...Option) *Watcher {
	w := &Watcher{dir: dir, sync: fn, debounce: DefaultDebounce, initial: true, logger: logging.Global()}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Component("watch")
	return w
}

// Run blocks until ctx is done. Sync errors are logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching album", "dir", w.dir, "debounce", w.debounce)

	if w.initial {
		if err := w.runSync(ctx); err != nil {
			return err
		}
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("album changed", "file", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case <-timer.C:
			if err := w.runSync(ctx); err != nil {
				return err
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) runSync(ctx context.Context) error {
	if err := w.sync(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Error("sync failed", "dir", w.dir, "error", err)
	}
	return nil
}

// relevant filters out hidden files, subdirectories and metadata-only changes.
func relevant(e fsnotify.Event) bool {
	if hidden(e.Name) {
		return false
	}
	if e.Op == fsnotify.Chmod {
		return false
	}
	if util.DirectoryExists(e.Name) {
		return false
	}
	return util.HasVideoExt(e.Name) || util.HasPhotoExt(e.Name) || util.HasSidecarExt(e.Name) || e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename)
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
