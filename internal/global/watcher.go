package global

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads the global config when config.toml changes on disk.
type ConfigWatcher struct {
	w        *fsnotify.Watcher
	store    *ConfigStore
	logger   *slog.Logger
	onReload func(GlobalConfig)
}

// NewConfigWatcher watches the store's directory (to catch creates and the
// atomic rename the store itself performs) and calls onReload with each
// successfully parsed config.
func NewConfigWatcher(store *ConfigStore, logger *slog.Logger, onReload func(GlobalConfig)) (*ConfigWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(store.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	watcher := &ConfigWatcher{w: fw, store: store, logger: logger, onReload: onReload}
	go watcher.loop()
	return watcher, nil
}

func (w *ConfigWatcher) Close() error {
	return w.w.Close()
}

func (w *ConfigWatcher) loop() {
	configFile := filepath.Base(w.store.Path())

	for {
		select {
		case event, ok := <-w.w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			cfg, err := w.store.LoadOrInit()
			if err != nil {
				w.logger.Warn("config reload failed", "error", err)
				continue
			}
			w.onReload(cfg)

		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
