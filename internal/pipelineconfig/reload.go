package pipelineconfig

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a pipeline configuration file, installing each
// successfully validated version atomically so concurrent readers never
// observe a partially-applied config.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	current atomic.Pointer[Config]
	logger  *slog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

// NewWatcher loads path once and arms an fsnotify watch on it. Call Start
// to begin watching for changes, and Current to read the active config.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fsw, logger: logger, stopCh: make(chan struct{})}
	w.current.Store(&cfg)
	return w, nil
}

// Current returns the most recently validated configuration.
func (w *Watcher) Current() Config {
	return *w.current.Load()
}

// Start runs the reload loop until Stop is called. An invalid reload is
// logged and ignored — the previously validated config stays active.
func (w *Watcher) Start() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("pipeline config watch error", "error", err, "path", w.path)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("pipeline config reload rejected, keeping previous config", "error", err, "path", w.path)
		return
	}
	w.current.Store(&cfg)
	w.logger.Info("pipeline config reloaded", "path", w.path,
		"normalization", cfg.Normalization.Technique, "combination", cfg.Combination.Technique)
}

// Stop ends the reload loop and releases the underlying fsnotify watch.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	return w.watcher.Close()
}
