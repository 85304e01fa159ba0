package remote

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchKeyFile reloads the service account whenever its key file is
// written or replaced. It blocks until ctx is done.
func WatchKeyFile(ctx context.Context, s *ServiceAccount) error {
	path := s.KeyFile()
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors and secret mounts that swap the file still fire
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(path)

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
			if err := s.Reload(); err != nil {
				log.Printf("[DRIVE] Reloading service account failed: %v", err)
				continue
			}
			log.Printf("[DRIVE] Reloaded service account key")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[DRIVE] Watcher error: %v", err)
		}
	}
}
