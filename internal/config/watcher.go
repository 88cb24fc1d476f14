package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a config file when it changes on disk and hands every valid
// result to a callback. Invalid files are logged and skipped; the previous
// configuration stays in effect.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	logger   *slog.Logger
}

// NewWatcher creates a watcher for path. onChange runs on the watcher's
// goroutine, one call at a time.
func NewWatcher(path string, onChange func(*Config), logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logger.With("component", "config_watcher", "path", path),
	}
}

// Run watches until ctx is cancelled. The parent directory is watched so that
// editors which replace the file by rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}

	w.logger.Debug("config watcher started", "dir", dir)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := make(chan struct{}, 1)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.logger.Debug("config change detected; scheduling reload", "op", ev.Op.String())
				schedule()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("config watch overflow; forcing reload")
				schedule()
				continue
			}
			w.logger.Warn("config watch error", "error", err)

		case <-reload:
			w.apply()
		}
	}
}

func (w *Watcher) apply() {
	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("config rejected", "error", err)
		return
	}

	w.logger.Info("config reloaded", "tasks", len(cfg.Tasks))
	w.onChange(cfg)
}
