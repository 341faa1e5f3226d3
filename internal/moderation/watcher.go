package moderation

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// WatchWordlist hot-reloads the gate's wordlist when the file changes.
// Editors replace files via rename, so the watch covers the directory and
// reloads are debounced. The returned stop function tears the watcher down.
func WatchWordlist(ctx context.Context, path string, gate *Gate, logger *log.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(stopCh)
			_ = watcher.Close()
		})
	}

	go func() {
		var mu sync.Mutex
		var pending *time.Timer
		scheduleReload := func() {
			mu.Lock()
			defer mu.Unlock()
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, func() {
				select {
				case <-stopCh:
					return
				default:
				}
				if err := gate.LoadWordlist(path); err != nil {
					logger.Printf("wordlist reload failed: %v", err)
				} else {
					logger.Printf("wordlist reloaded from %s", path)
				}
			})
		}

		base := filepath.Base(path)
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-stopCh:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("wordlist watcher error: %v", err)
			}
		}
	}()

	return stop, nil
}
