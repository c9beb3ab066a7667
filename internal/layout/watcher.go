package layout

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"chartind/internal/indicator"
)

// pollInterval is the mod-time fallback for filesystems where fsnotify
// misses events (network mounts, some editors' rename-on-save).
const pollInterval = time.Second

// Watcher re-applies a preset file to the store whenever it changes.
type Watcher struct {
	path  string
	store *indicator.Store
	log   *slog.Logger

	watcher *fsnotify.Watcher

	mu          sync.Mutex
	lastModTime time.Time

	// OnApply, when set, is called after every reload attempt.
	OnApply func(Result, error)
}

// NewWatcher prepares a watcher for path. The directory is watched rather
// than the file so that atomic replace-on-save is still seen.
func NewWatcher(path string, store *indicator.Store, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    path,
		store:   store,
		log:     log.With(slog.String("component", "layout_watcher")),
		watcher: fw,
	}
	if info, err := os.Stat(path); err == nil {
		w.lastModTime = info.ModTime()
	}
	return w, nil
}

// Run blocks until ctx is done, reloading on every change.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	w.log.Info("watching layout preset", slog.String("path", w.path))
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload(ctx)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("fsnotify error", slog.Any("error", err))

		case <-ticker.C:
			w.reload(ctx)
		}
	}
}

// reload applies the file if its mod time moved past the last one seen.
func (w *Watcher) reload(ctx context.Context) {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	w.mu.Lock()
	if !info.ModTime().After(w.lastModTime) {
		w.mu.Unlock()
		return
	}
	w.lastModTime = info.ModTime()
	w.mu.Unlock()

	preset, err := Load(w.path)
	if err != nil {
		w.log.Error("preset reload failed, keeping current layout", slog.Any("error", err))
		if w.OnApply != nil {
			w.OnApply(Result{}, err)
		}
		return
	}
	res, err := Apply(ctx, w.store, preset, true)
	if err != nil {
		w.log.Warn("preset applied with errors", slog.Any("error", err))
	}
	if w.OnApply != nil {
		w.OnApply(res, err)
	}
}
