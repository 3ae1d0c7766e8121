// Package watch rebuilds a bundle when its content pack, overlay or gate
// files change on disk.
package watch

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last change
// before rebuilding.
const DefaultDebounce = 500 * time.Millisecond

// RebuildFunc performs one rebuild. Errors are logged and watching
// continues.
type RebuildFunc func(ctx context.Context) error

// Watcher triggers a rebuild after input files settle. Rebuilds run on the
// watcher's own goroutine, so they never overlap.
type Watcher struct {
	files    map[string]bool
	dirs     []string
	rebuild  RebuildFunc
	debounce time.Duration
	logger   *log.Logger

	// rebuilt, when set, receives the outcome of every rebuild.
	rebuilt func(err error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// OnRebuild registers a callback invoked after every rebuild.
func OnRebuild(fn func(err error)) Option {
	return func(w *Watcher) { w.rebuilt = fn }
}

// New creates a watcher for paths. Empty paths are ignored; every other
// path must exist. Parent directories are watched so that editors which
// replace files by rename are still seen.
func New(paths []string, rebuild RebuildFunc, opts ...Option) (*Watcher, error) {
	if rebuild == nil {
		return nil, fmt.Errorf("watch: rebuild func is required")
	}
	w := &Watcher{
		files:    make(map[string]bool),
		rebuild:  rebuild,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.New(io.Discard, "", 0)
	}

	seen := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve %q: %w", p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("watch: %w", err)
		}
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	if len(w.files) == 0 {
		return nil, fmt.Errorf("watch: no files to watch")
	}
	return w, nil
}

// Files returns the number of watched files.
func (w *Watcher) Files() int { return len(w.files) }

// Run watches until ctx is cancelled. A pending rebuild is dropped on
// shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	for _, dir := range w.dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch: add %q: %w", dir, err)
		}
	}

	// Single timer reset on each relevant event; created stopped.
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
			if !w.relevant(event) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.runRebuild(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watch: file watcher error: %v", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !w.files[filepath.Clean(event.Name)] {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) runRebuild(ctx context.Context) {
	err := w.rebuild(ctx)
	if err != nil {
		w.logger.Printf("watch: rebuild failed: %v", err)
	} else {
		w.logger.Printf("watch: bundle rebuilt")
	}
	if w.rebuilt != nil {
		w.rebuilt(err)
	}
}
