package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poiesic/medfuse/source"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher triggers pipeline syncs when a source path changes. A directory
// is watched recursively; a file is watched through its parent directory.
type Watcher struct {
	root     string // watched directory
	file     string // set when watching a single file
	pipeline *Pipeline
	debounce time.Duration
	logger   *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a sync is triggered.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets a custom logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher for path, which may be a directory or a file.
func NewWatcher(path string, pipeline *Pipeline, opts ...WatcherOption) (*Watcher, error) {
	if pipeline == nil {
		return nil, ErrPipelineRequired
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch path error: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch path error: %w", err)
	}

	w := &Watcher{
		root:     abs,
		pipeline: pipeline,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	if !info.IsDir() {
		w.root = filepath.Dir(abs)
		w.file = abs
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watcher", "path", abs)
	return w, nil
}

// Run syncs once, then watches until ctx is cancelled. It waits for the
// pipeline to go idle before returning.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if w.file != "" {
		err = fw.Add(w.root)
	} else {
		err = w.addTree(fw, w.root)
	}
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	w.logger.Info("watching for changes", "debounce", w.debounce)

	w.trigger(ctx)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		w.pipeline.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.handleEvent(fw, event) {
				continue
			}
			w.logger.Debug("change detected", "event", event.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-fire:
			fire = nil
			w.trigger(ctx)
		}
	}
}

// handleEvent reports whether event should lead to a sync. New directories
// under a watched tree are added to fw when it is non-nil.
func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Clean(event.Name)
	if w.file != "" {
		return name == w.file
	}

	rel, err := filepath.Rel(w.root, name)
	if err != nil || source.IsHidden(rel) {
		return false
	}

	if event.Has(fsnotify.Create) && fw != nil {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			if err := w.addTree(fw, name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", name, "error", err)
			}
		}
	}
	return true
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && source.IsHidden(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

func (w *Watcher) trigger(ctx context.Context) {
	if _, err := w.pipeline.Trigger(ctx); err != nil {
		w.logger.Warn("failed to trigger sync", "error", err)
	}
}
