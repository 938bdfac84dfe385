package template

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the discovered partition when the store file
// changes on disk. Reload failures keep the previous snapshot live; a
// reader never observes a partially-applied store.
type Watcher struct {
	store    *Store
	path     string
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	logger   *slog.Logger
	onReload func(ok bool)
}

const reloadDebounce = 100 * time.Millisecond

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadHook registers a callback invoked after every reload
// attempt with its outcome, for metrics.
func WithReloadHook(fn func(ok bool)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher starts watching the store file's directory. The file may
// not exist yet; it is loaded when it first appears.
func NewWatcher(store *Store, path string, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving store path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating store watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching store directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		store:   store,
		path:    absPath,
		watcher: fsw,
		cancel:  cancel,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop(ctx)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("store watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	err := w.reloadOnce()
	if w.onReload != nil {
		w.onReload(err == nil)
	}
}

func (w *Watcher) reloadOnce() error {
	_, discovered, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("template store reload failed, keeping previous snapshot",
			"path", w.path, "error", err)
		return err
	}
	if err := w.store.ReplaceDiscovered(discovered); err != nil {
		w.logger.Error("template store swap rejected, keeping previous snapshot",
			"path", w.path, "error", err)
		return err
	}
	w.logger.Info("template store reloaded",
		"path", w.path, "discovered", len(discovered), "version", w.store.Version())
	return nil
}
