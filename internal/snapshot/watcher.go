package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/moolen/hindsight/internal/logging"
)

// WatcherConfig holds configuration for the snapshot directory watcher.
type WatcherConfig struct {
	// Dir is the scenario directory to watch
	Dir string

	// DebounceMillis coalesces bursts of change events into a single
	// invalidation. Default: 500ms.
	DebounceMillis int
}

// Watcher invalidates the table cache when files in the scenario
// directory change. Capture tooling appends to snapshots while an
// incident is live; without invalidation a long-running MCP server would
// keep serving the first parse.
type Watcher struct {
	config  WatcherConfig
	cache   *TableCache
	logger  *logging.Logger
	cancel  context.CancelFunc
	stopped chan struct{}
	ready   chan struct{}
	mu      sync.Mutex

	debounceTimer *time.Timer
}

// NewWatcher creates a watcher that purges cache on changes under dir.
func NewWatcher(config WatcherConfig, cache *TableCache, logger *logging.Logger) (*Watcher, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("Dir cannot be empty")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if config.DebounceMillis == 0 {
		config.DebounceMillis = 500
	}
	return &Watcher{
		config:  config,
		cache:   cache,
		logger:  logger,
		stopped: make(chan struct{}),
		ready:   make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the fsnotify watcher is fully
// initialized so callers cannot race file changes against setup.
func (w *Watcher) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}
}

func (w *Watcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("failed to create file watcher: %v", err)
		return
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(w.config.Dir); err != nil {
		w.logger.Error("failed to watch directory %s: %v", w.config.Dir, err)
		return
	}

	w.logger.Info("watching %s for snapshot changes (debounce: %dms)", w.config.Dir, w.config.DebounceMillis)
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("snapshot watcher stopping")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.handleChange(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("snapshot watcher error: %v", err)
		}
	}
}

// handleChange debounces change events before purging the cache.
func (w *Watcher) handleChange(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		func() {
			w.logger.Debug("snapshot change detected: %s, purging table cache", path)
			w.cache.Purge()
		},
	)
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.stopped:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for watcher to stop")
	}
}
