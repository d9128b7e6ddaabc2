package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatcherStats are running counters for the sync watcher.
type WatcherStats struct {
	FilesWatched   int
	SyncsTriggered int64
	LastSync       time.Time
}

// Watcher keeps the index in sync with on-disk edits. It watches the memory
// directory and the daily-log directory, batches change events behind a
// debounce window, and reindexes (or unindexes) each changed path.
type Watcher struct {
	manager  *Manager
	debounce time.Duration
	logger   zerolog.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stats   WatcherStats
}

// NewWatcher creates a watcher for an initialized manager.
func NewWatcher(manager *Manager, debounce time.Duration, logger zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 1500 * time.Millisecond
	}
	return &Watcher{
		manager:  manager,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}
}

// Start begins watching. The manager must be ready.
func (w *Watcher) Start() error {
	if err := w.manager.requireReady(); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.done = make(chan struct{})

	store := w.manager.Content()
	dirs := []string{store.Dir(), store.DailyDir()}
	watched := 0
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch directory")
			continue
		}
		watched++
	}

	w.mu.Lock()
	w.stats.FilesWatched = watched
	w.mu.Unlock()

	go w.loop()
	w.logger.Info().Strs("dirs", dirs).Dur("debounce", w.debounce).Msg("Sync watcher started")
	return nil
}

// Stop shuts the watcher down. Pending debounced changes are dropped; a
// later SyncAll picks them up.
func (w *Watcher) Stop() error {
	if w.fsw == nil {
		return nil
	}
	close(w.done)
	err := w.fsw.Close()
	w.fsw = nil

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	return err
}

// Stats returns a snapshot of the watcher counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// SyncAll forces a full incremental resync through the manager.
func (w *Watcher) SyncAll(ctx context.Context) error {
	err := w.manager.SyncAll(ctx)
	if err == nil {
		w.mu.Lock()
		w.stats.SyncsTriggered++
		w.stats.LastSync = time.Now()
		w.mu.Unlock()
	}
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			w.enqueue(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// relevant filters out dotfiles, database artifacts, and non-markdown files.
func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if strings.Contains(base, ".db") {
		return false
	}
	return strings.HasSuffix(base, ".md")
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush drains the accumulated change set and processes it as one batch.
func (w *Watcher) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]struct{})
	w.timer = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx := context.Background()
	for path := range batch {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := w.manager.RemoveFile(path); err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("Failed to unindex removed file")
			} else {
				w.logger.Debug().Str("path", path).Msg("Unindexed removed file")
			}
			continue
		}
		if err := w.syncIfChanged(ctx, path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to sync changed file")
		}
	}

	w.mu.Lock()
	w.stats.SyncsTriggered++
	w.stats.LastSync = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) syncIfChanged(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	need, err := w.manager.NeedsReindex(path, string(raw))
	if err != nil {
		return err
	}
	if !need {
		return nil
	}
	return w.manager.SyncFile(ctx, path)
}
