package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zommehq/buntime/internal/logger"
)

// ReloadCallback is invoked with the freshly reloaded config whenever
// the watched config file or a worker/plugin directory changes.
type ReloadCallback func(*Config) error

// Watcher watches the config file plus the worker and plugin directory
// trees, debouncing rapid filesystem events before triggering a
// reload — generalizing am/watcher.go's config-only reload to also
// pick up app and plugin installs without a restart.
type Watcher struct {
	configPath string
	watcher    *fsnotify.Watcher

	mu             sync.RWMutex
	callbacks      []ReloadCallback
	debounceTimer  *time.Timer
	debouncePeriod time.Duration

	ownWriteMu sync.Mutex
	ownWrite   bool
}

// NewWatcher creates a watcher over configPath plus every directory in
// dirs (worker and plugin search paths). Missing directories are
// skipped rather than treated as fatal — they may not exist until the
// first app or plugin is installed.
func NewWatcher(configPath string, dirs []string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := fw.Add(configPath); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}
	for _, dir := range dirs {
		_ = fw.Add(dir) // best-effort: directory may not exist yet
	}

	w := &Watcher{
		configPath:     configPath,
		watcher:        fw,
		debouncePeriod: 500 * time.Millisecond,
	}
	return w, nil
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// MarkOwnWrite suppresses the next observed write, used by the admin
// config-patch route to avoid a self-triggered reload loop.
func (w *Watcher) MarkOwnWrite() {
	w.ownWriteMu.Lock()
	defer w.ownWriteMu.Unlock()
	w.ownWrite = true
}

func (w *Watcher) checkOwnWrite() bool {
	w.ownWriteMu.Lock()
	defer w.ownWriteMu.Unlock()
	if w.ownWrite {
		w.ownWrite = false
		return true
	}
	return false
}

// Start begins watching for filesystem events in a background goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if isBackupFile(event.Name) {
				continue
			}
			if w.checkOwnWrite() {
				logger.Debugw("config watcher ignoring own write", "file", event.Name)
				continue
			}
			logger.Infow("config watcher detected change", "file", event.Name, "op", event.Op.String())
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, func() {
		if err := w.reload(); err != nil {
			logger.Errorw("config reload failed", "error", err)
		}
	})
}

func (w *Watcher) reload() error {
	Reset()

	cfg, err := Load()
	if err != nil {
		return err
	}

	logger.Infow("config reloaded", "path", w.configPath)

	w.mu.RLock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			logger.Warnw("config reload callback error", "error", err)
		}
	}
	return nil
}

// Stop stops watching for changes.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func isBackupFile(path string) bool {
	base := filepath.Base(path)
	return base == "buntime.toml.back1" ||
		base == "buntime.toml.back2" ||
		base == "buntime.toml.back3"
}
