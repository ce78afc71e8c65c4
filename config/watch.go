package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change. Editors replace files
// rather than rewrite them, so both Write and Create count; a cooldown
// swallows the event bursts they produce.
type Watcher struct {
	Path     string
	Cooldown time.Duration // minimum gap between reloads, default 1s
}

// Start blocks, invoking onUpdate with each successfully reloaded and
// validated config, until ctx ends. A config that fails validation is
// skipped and the previous one stays in effect.
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	cooldown := w.Cooldown
	if cooldown <= 0 {
		cooldown = time.Second
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	// watch the directory: the file itself disappears on atomic replace
	dir := filepath.Dir(w.Path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(w.Path)
	var lastReload time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&fsnotify.Write != fsnotify.Write &&
				event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			if time.Since(lastReload) < cooldown {
				continue
			}
			cfg, err := LoadWithEnvOverrides(w.Path)
			if err != nil {
				continue
			}
			lastReload = time.Now()
			if onUpdate != nil {
				onUpdate(cfg)
			}
		case _, ok := <-fw.Errors:
			if !ok {
				return nil
			}
		}
	}
}
