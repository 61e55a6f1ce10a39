package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/harun/ranya-engine/internal/observability"
)

// ReloadFunc receives a freshly loaded and validated config
type ReloadFunc func(cfg *Config)

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	ConfigPath string
	// StabilityThreshold is how long a file must stay quiet before reloading
	StabilityThreshold time.Duration
	Logger             zerolog.Logger
}

// Watcher reloads the config file when it or its agents file changes.
// A config that fails to load or validate is logged and dropped; the
// previous one stays in effect.
type Watcher struct {
	watcher            *fsnotify.Watcher
	loader             *Loader
	stabilityThreshold time.Duration
	logger             zerolog.Logger

	mu          sync.Mutex
	watched     map[string]bool
	subscribers []ReloadFunc
	timer       *time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a config watcher
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if cfg.StabilityThreshold == 0 {
		cfg.StabilityThreshold = 250 * time.Millisecond
	}

	loader := NewLoader(cfg.ConfigPath)
	return &Watcher{
		watcher:            fsw,
		loader:             loader,
		stabilityThreshold: cfg.StabilityThreshold,
		logger:             cfg.Logger.With().Str("component", "config_watcher").Logger(),
		watched:            map[string]bool{filepath.Clean(loader.GetConfigPath()): true},
		done:               make(chan struct{}),
	}, nil
}

// Subscribe registers fn for every successful reload
func (w *Watcher) Subscribe(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// Watch adds another file whose changes trigger a reload
func (w *Watcher) Watch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[filepath.Clean(path)] = true
}

// Start watches the directories of the watched files. Directories are
// watched instead of files so editors that replace on save are seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	dirs := map[string]bool{}
	for path := range w.watched {
		dirs[filepath.Dir(path)] = true
	}
	w.mu.Unlock()

	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go w.eventLoop()

	w.logger.Info().
		Str("path", w.loader.GetConfigPath()).
		Msg("Config watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				w.debounce()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[filepath.Clean(event.Name)]
}

// debounce collapses bursts of writes into one reload
func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.stabilityThreshold, func() {
		select {
		case <-w.done:
			return
		default:
			_ = w.Reload()
		}
	})
}

// Reload loads, validates and publishes the config. It returns the load
// or validation error, if any.
func (w *Watcher) Reload() error {
	cfg, err := w.loader.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		observability.RecordConfigReload(false)
		observability.RecordConfigAudit(context.Background(), "reload", w.loader.GetConfigPath(), "rejected", map[string]interface{}{"error": err.Error()})
		w.logger.Error().Err(err).Msg("Config reload rejected")
		return err
	}

	w.mu.Lock()
	subs := append([]ReloadFunc(nil), w.subscribers...)
	w.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}

	observability.RecordConfigReload(true)
	observability.RecordConfigAudit(context.Background(), "reload", w.loader.GetConfigPath(), "applied", nil)
	w.logger.Info().Int("agents", len(cfg.Agents)).Msg("Config reloaded")
	return nil
}
