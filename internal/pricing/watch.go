package pricing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDebounce lets editors finish writing before the seed is re-read.
const reloadDebounce = 100 * time.Millisecond

// LoadInto replaces the catalog with defaults overlaid by the seed at path.
func LoadInto(catalog *StaticCatalog, path string) error {
	seed, err := LoadSeed(path)
	if err != nil {
		return err
	}
	catalog.Replace(Merge(DefaultPrices(), seed))
	return nil
}

// Watch reloads the seed file into catalog whenever it changes, until ctx
// is cancelled. The directory is watched rather than the file so that
// atomic rename-on-save editors keep triggering reloads.
func Watch(ctx context.Context, path string, catalog *StaticCatalog) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to resolve seed path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch seed dir: %w", err)
	}

	go func() {
		defer watcher.Close()

		var lastMod time.Time
		if info, err := os.Stat(absPath); err == nil {
			lastMod = info.ModTime()
		}

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				time.Sleep(reloadDebounce)

				info, err := os.Stat(absPath)
				if err != nil {
					continue
				}
				if !info.ModTime().After(lastMod) && event.Op&fsnotify.Write != 0 {
					continue
				}
				lastMod = info.ModTime()

				if err := LoadInto(catalog, absPath); err != nil {
					log.Error().Err(err).Str("path", absPath).Msg("pricing: seed reload failed, keeping previous prices")
					continue
				}
				log.Info().Str("path", absPath).Int("models", catalog.Len()).Msg("pricing: seed reloaded")

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("pricing: watcher error")
			}
		}
	}()

	return nil
}
