package am

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/logger"
)

// ConfigWatcher watches config files for changes and triggers reload callbacks
type ConfigWatcher struct {
	paths          []string
	watcher        *fsnotify.Watcher
	callbacks      []ReloadCallback
	mu             sync.RWMutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	loader         func() (*Config, error)
	logger         *zap.SugaredLogger
	done           chan struct{}
}

// ReloadCallback is called with the new config after a reload
type ReloadCallback func(*Config) error

// NewConfigWatcher creates a watcher over the given config files.
// Missing files are skipped; at least one must exist.
func NewConfigWatcher(paths ...string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	var watched []string
	for _, p := range paths {
		if err := watcher.Add(p); err == nil {
			watched = append(watched, p)
		}
	}
	if len(watched) == 0 {
		watcher.Close()
		return nil, errors.Newf("none of the config files could be watched: %v", paths)
	}

	return &ConfigWatcher{
		paths:          watched,
		watcher:        watcher,
		debouncePeriod: 500 * time.Millisecond, // editors write in bursts
		loader: func() (*Config, error) {
			Reset()
			return Load()
		},
		logger: logger.ComponentLogger("am.watcher"),
		done:   make(chan struct{}),
	}, nil
}

// OnReload registers a callback to be called when config is reloaded
func (cw *ConfigWatcher) OnReload(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// Start begins watching for config file changes
func (cw *ConfigWatcher) Start() {
	go cw.watchLoop()
}

func (cw *ConfigWatcher) watchLoop() {
	defer close(cw.done)
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				cw.logger.Infow("Config watcher detected change",
					"file", event.Name,
					"op", event.Op.String())
				cw.scheduleReload()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warnw("Config watcher error", "error", err)
		}
	}
}

func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceTimer = time.AfterFunc(cw.debouncePeriod, func() {
		if err := cw.reload(); err != nil {
			cw.logger.Errorw("Config reload failed", "error", err)
		}
	})
}

func (cw *ConfigWatcher) reload() error {
	newConfig, err := cw.loader()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	cw.logger.Infow("Config reloaded", "paths", cw.paths)

	cw.mu.RLock()
	callbacks := make([]ReloadCallback, len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.RUnlock()

	for _, callback := range callbacks {
		// one failing callback does not stop the others
		if err := callback(newConfig); err != nil {
			cw.logger.Warnw("Config reload callback error", "error", err)
		}
	}
	return nil
}

// Stop stops watching for config changes
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.mu.Unlock()

	err := cw.watcher.Close()
	<-cw.done
	return err
}
