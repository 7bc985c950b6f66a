package catalog

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"romid/internal/logging"
)

// Watcher holds the current catalog and reloads it when its file changes.
// Current is safe for concurrent use; a reload swaps the pointer atomically,
// so callers holding the previous catalog keep a consistent view.
type Watcher struct {
	path     string
	logger   *slog.Logger
	current  atomic.Pointer[Catalog]
	onReload func(*Catalog)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads the catalog at path (built-in when empty). onReload, when
// set, is called after each successful reload.
func NewWatcher(path string, logger *slog.Logger, onReload func(*Catalog)) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		logger:   logging.NewComponentLogger(logger, "catalog"),
		onReload: onReload,
	}
	cat, err := Load(path)
	if err != nil {
		return nil, err
	}
	w.current.Store(cat)
	return w, nil
}

// Current returns the active catalog.
func (w *Watcher) Current() *Catalog {
	return w.current.Load()
}

// Reload re-reads the catalog. An invalid document leaves the previous
// catalog in place and returns the error.
func (w *Watcher) Reload() error {
	cat, err := Load(w.path)
	if err != nil {
		logging.WarnWithContext(w.logger, "catalog reload rejected", "catalog_reload_failed",
			logging.String(logging.FieldPath, w.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the catalog document; the previous catalog stays active"),
			logging.String(logging.FieldImpact, "identification continues with the previous catalog"))
		return err
	}
	w.current.Store(cat)
	w.logger.Info("catalog reloaded",
		logging.String(logging.FieldPath, w.path),
		logging.Int("platforms", len(cat.Platforms())))
	if w.onReload != nil {
		w.onReload(cat)
	}
	return nil
}

// Start watches the catalog's directory so that editors replacing the file
// by rename are noticed. It is a no-op for the built-in catalog. Calling
// Start again replaces the previous watch.
func (w *Watcher) Start() error {
	if w.path == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %q: %w", dir, err)
	}
	w.watcher = fw
	w.done = make(chan struct{})
	go w.loop(fw, w.done)
	return nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	target := filepath.Clean(w.path)
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				_ = w.Reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error",
				logging.String(logging.FieldEventType, "catalog_watch_error"),
				logging.Error(err))
		}
	}
}

func (w *Watcher) stopLocked() {
	if w.watcher != nil {
		_ = w.watcher.Close()
		<-w.done
		w.watcher = nil
		w.done = nil
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	return nil
}
