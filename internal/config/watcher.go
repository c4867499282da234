package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration whenever the backing file changes. It uses
// fsnotify on the containing directory, so editors that replace the file are
// seen, and polls the modification time every pollInterval as a fallback.
// Watch blocks until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context, pollInterval time.Duration) error {
	if m.configPath == "" {
		<-ctx.Done()
		return nil
	}
	log := logger.WithComponent("config-watcher")

	var events <-chan fsnotify.Event
	var errs <-chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify not available, falling back to polling")
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
			log.Warn().Err(err).Msg("Failed to watch config directory, falling back to polling")
		} else {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	check := func(reason string) {
		changed, err := m.ReloadIfModified()
		if err != nil {
			log.Debug().Err(err).Str("trigger", reason).Msg("Config change not applied")
			return
		}
		if changed {
			log.Debug().Str("trigger", reason).Msg("Config change applied")
		}
	}

	target := filepath.Clean(m.configPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				log.Info().Msg("fsnotify watcher closed, switching to polling")
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				check("fsnotify")
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn().Err(err).Msg("Config watcher error")
		case <-ticker.C:
			check("poll")
		}
	}
}
