// SPDX-License-Identifier: MIT

package costtable

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the repository whenever a sheet under its directory changes.
// Events are debounced so a bulk copy of several files triggers one reload.
// Blocks until ctx is done.
func (r *Repository) Watch(ctx context.Context, logger zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close() //nolint:errcheck

	if err := watcher.Add(r.dir); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("cost table watch error")
		case <-reload:
			if err := r.Reload(); err != nil {
				logger.Error().Err(err).Msg("cost table reload failed")
				continue
			}
			logger.Info().
				Int("rows", r.Len()).
				Str("dir", r.dir).
				Msg("cost table reloaded")
		}
	}
}
