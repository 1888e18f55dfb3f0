package cacheconfig

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeCallback receives the newly loaded Config after a debounced
// reload. Registered callbacks run synchronously in registration order;
// a panicking callback is recovered and logged, matching the panic-safe
// dispatch used by internal/health's alert callbacks.
type ChangeCallback func(Config)

// Watcher hot-reloads a Config from disk on file change, adapted from
// the teacher pack's fsnotify-based ConfigWatcher (2lar-b2 backend
// internal/config/watcher.go): watch the file, debounce bursts of
// writes, reload, swap, notify.
type Watcher struct {
	mu       sync.RWMutex
	path     string
	current  Config
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration

	callbacksMu sync.Mutex
	callbacks   []ChangeCallback

	stopCh  chan struct{}
	timer   *time.Timer
	timerMu sync.Mutex
}

// NewWatcher opens a file watch on path and returns a Watcher seeded
// with the already-loaded initial config. Call Start to begin watching.
func NewWatcher(path string, initial Config, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		current:  initial,
		watcher:  fw,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory and runs the event
// loop in a background goroutine.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// OnChange registers cb to run after every successful reload.
func (w *Watcher) OnChange(cb ChangeCallback) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop halts the event loop and releases the underlying fsnotify watch.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-w.stopCh:
			return
		}
	}
}

// scheduleReload debounces bursts of write events (editors often emit
// several in quick succession for one logical save) into a single
// reload fired debounce after the last event.
func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", zap.Error(err), zap.String("path", w.path))
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.path))

	w.callbacksMu.Lock()
	callbacks := append([]ChangeCallback(nil), w.callbacks...)
	w.callbacksMu.Unlock()
	for _, cb := range callbacks {
		w.invokeSafely(cb, cfg)
	}
}

func (w *Watcher) invokeSafely(cb ChangeCallback, cfg Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("config change callback panicked", zap.Any("panic", r))
		}
	}()
	cb(cfg)
}
