package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openpdu/powerd/internal/log"
	"github.com/openpdu/powerd/internal/metrics"
)

// reloadDebounce coalesces bursts of filesystem events (editors write a
// temp file and rename, producing several events per save).
const reloadDebounce = 500 * time.Millisecond

// Watch observes the custom document's directory and reloads the manager
// when the file changes. The directory is watched rather than the file so
// atomic-rename saves and out-of-band edits are both picked up. Blocks
// until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(m.customPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	m.logger.Info().
		Str(log.FieldEvent, "config.watch_started").
		Str("dir", dir).
		Msg("watching for configuration changes")

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.customPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
				fire = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(reloadDebounce)
			}

		case <-fire:
			debounce = nil
			fire = nil
			if err := m.Reload(); err != nil {
				m.logger.Error().Err(err).
					Str(log.FieldEvent, "config.reload_failed").
					Msg("hot reload rejected, keeping previous configuration")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn().Err(err).
				Str(log.FieldEvent, "config.watch_error").
				Msg("config watcher error")
		}
	}
}

// Reload re-reads the custom document from disk and, if the merged result
// validates, swaps it in and notifies listeners. Invalid content keeps the
// previous effective document.
func (m *Manager) Reload() error {
	custom, err := m.readCustom()
	if err != nil {
		metrics.ConfigReloads.WithLabelValues("rejected").Inc()
		return err
	}

	m.mu.RLock()
	def := m.def
	m.mu.RUnlock()

	effective := Merge(def, custom)
	if err := Validate(effective, m.sensors); err != nil {
		metrics.ConfigReloads.WithLabelValues("rejected").Inc()
		return fmt.Errorf("validate reloaded config: %w", err)
	}

	m.mu.Lock()
	m.custom = custom
	m.effective = effective
	m.mu.Unlock()

	metrics.ConfigReloads.WithLabelValues("applied").Inc()
	m.logger.Info().
		Str(log.FieldEvent, "config.reloaded").
		Msg("configuration hot-reloaded")

	m.notify(effective)
	return nil
}
