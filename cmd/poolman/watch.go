package main

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/guileen/poolman/client"
	"github.com/guileen/poolman/config"
	"github.com/guileen/poolman/logger"
)

// watchPoolFile re-reads the pool file whenever it changes and warms the
// pools it declares. Pools already registered are left as they are; pools
// removed from the file keep running until shutdown.
func watchPoolFile(ctx context.Context, path string, c *client.Client) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("Failed to create pool file watcher", "error", err)
		return
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		logger.Error("Failed to watch pool file", "error", err, "path", path)
		return
	}
	logger.Info("Watching pool file", "path", path)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			file, err := config.LoadFile(path)
			if err != nil {
				logger.Error("Failed to reload pool file", "error", err, "path", path)
				continue
			}
			logger.Info("Pool file changed", "path", path, "pools", len(file.Pools))
			warmPools(c, file.Pools)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("Pool file watcher failed", "error", err)
		}
	}
}
