package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quarrylabs/quarry/logger"
)

// ConfigWatcher watches the config file for changes and triggers reload callbacks
type ConfigWatcher struct {
	configPath     string
	watcher        *fsnotify.Watcher
	callbacks      []ReloadCallback
	mu             sync.RWMutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	done           chan struct{}
}

// ReloadCallback is called when config is reloaded.
// Receives the new config and returns any error.
type ReloadCallback func(*Config) error

// NewConfigWatcher creates a new config file watcher
func NewConfigWatcher(configPath string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := watcher.Add(configPath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file %s: %w", configPath, err)
	}

	cw := &ConfigWatcher{
		configPath:     configPath,
		watcher:        watcher,
		callbacks:      make([]ReloadCallback, 0),
		debouncePeriod: 500 * time.Millisecond, // Debounce rapid file changes
		done:           make(chan struct{}),
	}

	return cw, nil
}

// OnReload registers a callback to be called when config is reloaded
func (cw *ConfigWatcher) OnReload(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// Start begins watching for config changes
func (cw *ConfigWatcher) Start() {
	go cw.watch()
}

// Stop stops the watcher
func (cw *ConfigWatcher) Stop() {
	close(cw.done)
	cw.watcher.Close()
}

func (cw *ConfigWatcher) watch() {
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cw.scheduleReload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Config watcher error", "error", err)
		}
	}
}

// scheduleReload debounces reloads so editors that write multiple times
// trigger a single callback.
func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceTimer = time.AfterFunc(cw.debouncePeriod, cw.reload)
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadFromFile(cw.configPath)
	if err != nil {
		logger.Warnw("Config reload failed", "path", cw.configPath, "error", err)
		return
	}

	cw.mu.RLock()
	callbacks := make([]ReloadCallback, len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			logger.Warnw("Config reload callback failed", "error", err)
		}
	}

	logger.Infow("Configuration reloaded", "path", cw.configPath)
}
