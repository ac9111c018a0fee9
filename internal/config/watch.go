package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file and calls onChange with the thresholds
// section whenever it changes. current seeds the comparison so a rewrite
// that leaves thresholds untouched is ignored; thresholds are the only
// hot-reloadable section, everything else requires a restart. A rewrite
// that fails to load keeps the previous thresholds active. Runs until
// ctx is cancelled.
func Watch(ctx context.Context, path string, current ThresholdsConfig, onChange func(ThresholdsConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	slog.Info("config: watching thresholds", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often replace the file via rename (atomic save), so
			// creates count as rewrites.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if next, changed := reloadThresholds(path, current); changed {
				current = next
				onChange(next)
			}

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// reloadThresholds parses the file and reports whether its thresholds
// section differs from current.
func reloadThresholds(path string, current ThresholdsConfig) (ThresholdsConfig, bool) {
	cfg, err := Load(path)
	if err != nil {
		slog.Error("config: reload failed, keeping previous thresholds",
			"path", path, "err", err)
		return current, false
	}
	if cfg.Thresholds.equal(current) {
		slog.Debug("config: rewrite without threshold changes", "path", path)
		return current, false
	}
	slog.Info("config: thresholds reloaded",
		"path", path, "zone_overrides", len(cfg.Thresholds.Zones))
	return cfg.Thresholds, true
}
