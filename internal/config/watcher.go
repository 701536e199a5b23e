package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// ReloadFunc receives a fully validated configuration after the file changed.
type ReloadFunc func(*Config)

// Watcher reloads the config file whenever it is written or replaced.
// The parent directory is watched so editors that rename-over-save are seen.
type Watcher struct {
	path     string
	base     *Config
	watcher  *fsnotify.Watcher
	logger   logr.Logger
	onReload ReloadFunc
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher starts watching path. base supplies the pinned storage and
// listener settings, flag overrides included. Environment overrides are
// re-read on every reload.
func NewWatcher(path string, base *Config, logger logr.Logger, onReload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		base:     base,
		watcher:  fw,
		logger:   logger.WithName("config.watcher"),
		onReload: onReload,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// Close stops the watcher and waits for the event goroutine.
func (w *Watcher) Close() error {
	close(w.done)
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(err, "filesystem watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	w.logger.V(1).Info("received file event", "file", event.Name, "op", event.Op.String())

	cfg, err := w.reload()
	if err != nil {
		w.logger.Error(err, "ignoring config change", "path", w.path)
		return
	}
	w.logger.Info("configuration reloaded", "path", w.path)
	w.onReload(cfg)
}

func (w *Watcher) reload() (*Config, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("config file is empty")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Same precedence as Load: environment variables override the file.
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	// Storage locations and the listener cannot move under a running process.
	// They also carry any flag overrides from startup.
	cfg.Path = w.path
	cfg.DataDir = w.base.DataDir
	cfg.KeyFile = w.base.KeyFile
	cfg.Listen = w.base.Listen
	cfg.AuthSecretFile = w.base.AuthSecretFile

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
