package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"hydroai/internal/project"
)

// projectCache memoises Manager.List until invalidated.
type projectCache struct {
	mu    sync.RWMutex
	list  []project.Summary
	valid bool
	load  func() ([]project.Summary, error)
}

func (c *projectCache) Get() ([]project.Summary, error) {
	c.mu.RLock()
	if c.valid {
		list := c.list
		c.mu.RUnlock()
		return list, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid {
		return c.list, nil
	}
	list, err := c.load()
	if err != nil {
		return nil, err
	}
	c.list, c.valid = list, true
	return list, nil
}

func (c *projectCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.list = nil
	c.mu.Unlock()
}

// dirWatcher invalidates the cache on any change in the projects directory
// or in a project directory directly below it.
type dirWatcher struct {
	fs     *fsnotify.Watcher
	cache  *projectCache
	logger *zap.Logger
	done   chan struct{}
}

func watchProjects(ctx context.Context, base string, cache *projectCache, logger *zap.Logger) (*dirWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(base); err != nil {
		fw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		fw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := fw.Add(filepath.Join(base, e.Name())); err != nil {
				logger.Warn("cannot watch project", zap.String("dir", e.Name()), zap.Error(err))
			}
		}
	}

	w := &dirWatcher{fs: fw, cache: cache, logger: logger, done: make(chan struct{})}
	go w.run(ctx, base)
	return w, nil
}

func (w *dirWatcher) run(ctx context.Context, base string) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.cache.Invalidate()
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(base) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.fs.Add(ev.Name); err != nil {
						w.logger.Warn("cannot watch project", zap.String("dir", ev.Name), zap.Error(err))
					}
					// project.json may have landed before the watch was added.
					w.cache.Invalidate()
				}
			}
			w.logger.Debug("projects changed", zap.String("event", ev.Op.String()), zap.String("path", ev.Name))
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher and waits for its loop to exit.
func (w *dirWatcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}
