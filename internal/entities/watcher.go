package entities

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the alias table whenever the file changes. It blocks until
// ctx is cancelled and is intended to run in its own goroutine. A reload
// failure keeps the previous table in place.
func (n *Normalizer) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files rather than writing in
	// place, which drops per-file watches.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := n.loadFile(path); err != nil {
				n.logger.Warn("alias table reload failed, keeping previous table",
					zap.String("path", path),
					zap.Error(err),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			n.logger.Warn("alias table watcher error", zap.Error(err))
		}
	}
}
