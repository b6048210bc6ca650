package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file at path and calls onChange with the newly
// loaded Config each time it is written. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file so that atomic saves
// (write temp, rename over) are seen. A reload that fails validation is
// logged and the previous config stays active.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return watchFiles(ctx, []string{path}, func(string) {
		cfg, err := Load(path)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config",
				"path", path, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", path)
		onChange(cfg)
	})
}

// WatchInputs calls onChange with the name of every sweep file created or
// written under dirs until ctx is cancelled.
func WatchInputs(ctx context.Context, dirs []string, onChange func(path string)) error {
	return watchFiles(ctx, dirs, onChange)
}

// watchFiles watches each path (or, for regular files, its directory) and
// reports write and create events on the watched names.
func watchFiles(ctx context.Context, paths []string, onEvent func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// files maps a watched file's cleaned path to itself; directories
	// report every entry.
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range paths {
		p = filepath.Clean(p)
		dir := p
		if !isDir(p) {
			files[p] = true
			dir = filepath.Dir(p)
		} else {
			dirs[p] = true
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
		slog.Info("config: watching for changes", "path", p)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Clean(event.Name)
			if !files[name] && !dirs[filepath.Dir(name)] {
				continue
			}
			onEvent(name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
