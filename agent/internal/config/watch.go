package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events a single save produces
// (truncate, write, chmod, or rename-over for atomic editors).
var reloadDelay = 200 * time.Millisecond

// Watch reloads path whenever it changes and passes the result to onChange.
// It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file, so editors that save
// by renaming a temp file over path keep being picked up. Events are
// coalesced for reloadDelay before the file is read.
//
// A reload that fails to parse or validate is logged and skipped; onChange
// is only ever called with a valid Config.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	current, err := Load(target)
	if err != nil {
		slog.Warn("config: initial read failed, next valid save will be applied", "path", path, "err", err)
	}
	slog.Info("config: watching for changes", "path", path)

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(reloadDelay)

		case <-timer.C:
			next, err := Load(target)
			if err != nil {
				slog.Warn("config: reload rejected, keeping previous config",
					"path", path, "err", err)
				continue
			}
			applied, restart := reloadChanges(current, next)
			if len(applied) == 0 && len(restart) == 0 {
				slog.Debug("config: file saved without changes", "path", path)
			} else {
				slog.Info("config: reloaded", "path", path, "applied", applied)
			}
			if len(restart) > 0 {
				slog.Warn("config: some changes need a restart", "path", path, "fields", restart)
			}
			current = next
			onChange(next)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// reloadChanges compares two configs. applied lists the changes a running
// agent picks up (log level, simulator rate) and restart lists the fields
// that only take effect on the next start. Entries read "field: old -> new".
// A nil prev reports every hot field as changed.
func reloadChanges(prev, next *Config) (applied, restart []string) {
	if prev == nil {
		prev = &Config{}
	}
	p, n := prev.Agent, next.Agent
	diff := func(dst *[]string, field string, a, b any) {
		if fmt.Sprint(a) != fmt.Sprint(b) {
			*dst = append(*dst, fmt.Sprintf("%s: %v -> %v", field, a, b))
		}
	}

	diff(&applied, "log_level", p.LogLevel, n.LogLevel)
	diff(&applied, "simulator.events_per_second", p.Simulator.EventsPerSecond, n.Simulator.EventsPerSecond)

	diff(&restart, "source_id", p.SourceID, n.SourceID)
	diff(&restart, "server_endpoint", p.ServerEndpoint, n.ServerEndpoint)
	if !slices.Equal(p.Channels, n.Channels) {
		restart = append(restart, fmt.Sprintf("channels: %v -> %v", p.Channels, n.Channels))
	}
	diff(&restart, "report_interval", p.ReportInterval, n.ReportInterval)
	diff(&restart, "simulator.enabled", p.Simulator.Enabled, n.Simulator.Enabled)
	diff(&restart, "health.type", p.Health.Type, n.Health.Type)
	return applied, restart
}
