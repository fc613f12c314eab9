package daemon

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/jmylchreest/audioprio/internal/config"
	"github.com/jmylchreest/audioprio/internal/store"
)

// ConfigWatcher reloads config.toml when it changes on disk and hands
// validated configs to the reload callback. An invalid file leaves the
// current config in place; rewriting it with identical bytes does nothing.
type ConfigWatcher struct {
	mu     sync.RWMutex
	logger *slog.Logger
	path   string

	current  *config.Config
	lastData []byte

	onReload func(*config.Config)
	onError  func(error)

	files *store.FileWatcher
}

// NewConfigWatcher creates a ConfigWatcher for the config file at path.
func NewConfigWatcher(path string, logger *slog.Logger) *ConfigWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigWatcher{logger: logger, path: path}
}

// SetReloadCallback sets the function called with each new valid config.
func (w *ConfigWatcher) SetReloadCallback(fn func(*config.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// SetErrorCallback sets the function called when a changed file is invalid.
func (w *ConfigWatcher) SetErrorCallback(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = fn
}

// Start records initial as the running config and begins watching.
func (w *ConfigWatcher) Start(initial *config.Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.files != nil {
		return nil
	}
	w.current = initial
	w.lastData, _ = os.ReadFile(w.path)

	files, err := store.NewFileWatcher(w.path, w.reload, w.logger)
	if err != nil {
		return err
	}
	if err := files.Start(); err != nil {
		_ = files.Stop()
		return err
	}
	w.files = files
	return nil
}

// Stop stops watching. A reload in progress completes first.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	files := w.files
	w.files = nil
	w.mu.Unlock()

	if files != nil {
		_ = files.Stop()
		w.logger.Debug("config watcher stopped")
	}
}

// CurrentConfig returns the last valid configuration.
func (w *ConfigWatcher) CurrentConfig() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// reload reads the file and, when its content moved, validates and applies it.
func (w *ConfigWatcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Debug("failed to read config file", "path", w.path, "error", err)
		}
		return
	}

	w.mu.Lock()
	if bytes.Equal(data, w.lastData) {
		w.mu.Unlock()
		return
	}
	w.lastData = data
	onReload, onError := w.onReload, w.onError
	w.mu.Unlock()

	cfg, err := config.ParseConfig(data)
	if err != nil {
		w.logger.Warn("config file changed but is invalid, keeping current config",
			"path", w.path, "error", err)
		if onError != nil {
			onError(err)
		}
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	if onReload != nil {
		onReload(cfg)
	}
}
