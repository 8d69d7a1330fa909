package seed

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultSettle is how long Watch waits for writes to a file to stop before
// reloading it.
const DefaultSettle = 250 * time.Millisecond

// Watch calls reload every time the file at path changes, until ctx is
// canceled. The parent directory is watched so editors that replace the file
// are seen. A failing reload is logged and watching continues.
func Watch(ctx context.Context, path string, settle time.Duration, reload func(context.Context) error) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Warnf("failed to close watcher: %v", err)
		}
	}()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	log.Infof("watching %s for changes", path)

	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(settle)
			}
		case <-timer.C:
			if err := reload(ctx); err != nil {
				log.Warnf("reloading %s: %v", path, err)
				continue
			}
			log.Infof("reloaded %s", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}
