package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the store when the config file is edited outside the
// process (ground-test tooling writes the file directly). Changed keys are
// pushed through the same subscriber path as in-flight updates. The file is
// authoritative: a reload rebuilds the store from defaults, file and
// environment, reverting any non-durable in-flight updates.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	stop    chan struct{}
}

// NewWatcher creates a watcher for the store's backing file.
func NewWatcher(store *Store, logger *zap.Logger) (*Watcher, error) {
	if store.path == "" {
		return nil, fmt.Errorf("store has no backing file to watch")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	return &Watcher{
		store:   store,
		watcher: fw,
		logger:  logger,
		stop:    make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine. Call Stop to clean up.
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the directory, not the file: editors and atomic writes replace
	// the inode and a file watch would go stale.
	if err := w.watcher.Add(filepath.Dir(w.store.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	target := filepath.Clean(w.store.path)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	next, err := loadKoanf(w.store.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous values", zap.Error(err))
		return
	}

	changed := w.store.replace(next)
	if len(changed) == 0 {
		return
	}
	w.logger.Info("config file reloaded", zap.Strings("changed", changed))

	w.store.mu.RLock()
	subscribers := make([]Subscriber, len(w.store.subscribers))
	copy(subscribers, w.store.subscribers)
	w.store.mu.RUnlock()

	for _, key := range changed {
		value := w.store.Get(key)
		for _, cb := range subscribers {
			cb(key, value)
		}
	}
}
