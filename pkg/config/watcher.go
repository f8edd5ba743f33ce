package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hostpanel/orchestra/pkg/telemetry"
)

const defaultReloadDelay = 500 * time.Millisecond

// Watcher reloads the inventory when its file changes.
type Watcher struct {
	path    string
	schemas *SchemaRegistry
	logger  *telemetry.Logger

	// ReloadDelay debounces bursts of file events.
	ReloadDelay time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewWatcher creates an inventory watcher for path.
func NewWatcher(path string, schemas *SchemaRegistry, logger *telemetry.Logger) *Watcher {
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Watcher{
		path:        path,
		schemas:     schemas,
		logger:      logger.NewComponentLogger("inventory"),
		ReloadDelay: defaultReloadDelay,
	}
}

// Watch calls onChange with every inventory that loads successfully after a
// change of the file. Invalid edits are logged and the previous inventory stays
// in effect. The parent directory is watched so that editors replacing the file
// are noticed. Watching stops when ctx is done.
func (w *Watcher) Watch(ctx context.Context, onChange func(*Inventory)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return fmt.Errorf("inventory watcher already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	path, err := filepath.Abs(w.path)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to resolve inventory path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	w.watcher = watcher

	go w.processEvents(ctx, watcher, path, onChange)

	w.logger.WithField("path", path).Info("Watching inventory")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string, onChange func(*Inventory)) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path ||
				event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.WithFields(map[string]interface{}{
				"file": event.Name,
				"op":   event.Op.String(),
			}).Debug("Inventory changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.ReloadDelay, func() {
				inv, err := LoadInventory(path, w.schemas)
				if err != nil {
					w.logger.WithError(err).Error("Failed to reload inventory, keeping the previous one")
					return
				}
				if ctx.Err() != nil {
					return
				}
				onChange(inv)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}
