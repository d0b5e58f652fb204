// Package watch reflects direct edits to a bundle in its workspace.
//
// A Watcher observes the manifest, the schema directory and every entity
// directory, and reloads the workspace once a burst of changes settles.
// Reload takes the bundle gate shared, so it waits while an apply is
// writing and never observes a half-written batch.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/sdd/internal/bundle"
)

// DefaultDebounce is how long the watcher waits after the last change.
const DefaultDebounce = 250 * time.Millisecond

// Reloader is the workspace surface the watcher drives.
// *workspace.Workspace satisfies it.
type Reloader interface {
	Snapshot() *bundle.Bundle
	Reload(ctx context.Context) (*bundle.Bundle, error)
}

// Watcher debounces file events into workspace reloads.
type Watcher struct {
	ws       Reloader
	fs       *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
	onReload func(*bundle.Bundle, error)
	watched  map[string]bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithOnReload registers a callback run after every reload attempt.
func WithOnReload(fn func(*bundle.Bundle, error)) Option {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// New creates a Watcher over the workspace's current bundle layout.
func New(ws Reloader, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		ws:       ws,
		fs:       fsw,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		watched:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addPaths(ws.Snapshot()); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching. Run returns once the event channels close.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("bundle file changed", "file", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", "error", err)

		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	b, err := w.ws.Reload(ctx)
	if err == nil {
		// Entity directories may have been created by the change.
		if aerr := w.addPaths(b); aerr != nil {
			w.logger.Warn("failed to watch new paths", "error", aerr)
		}
	}
	if w.onReload != nil {
		w.onReload(b, err)
	}
}

// addPaths watches the bundle's directories that exist and are not yet
// watched. Missing entity directories are picked up after a later reload.
func (w *Watcher) addPaths(b *bundle.Bundle) error {
	for _, dir := range b.WatchPaths() {
		if w.watched[dir] {
			continue
		}
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			w.logger.Debug("not watching missing directory", "path", dir)
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		w.watched[dir] = true
	}
	return nil
}

// relevant filters events down to files that make up the bundle. Hidden
// files are skipped, which includes the temp files of atomic writes.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if base == bundle.ManifestFile || bundle.IsEntityFile(base) || strings.HasSuffix(base, bundle.SchemaFileSuffix) {
		return true
	}
	b := w.ws.Snapshot()
	return b.Manifest.DomainNotes != "" && filepath.Clean(event.Name) == filepath.Join(b.Root, b.Manifest.DomainNotes)
}
