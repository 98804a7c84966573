package skills

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/deepserve/deepserve/internal/observability"
)

// Watcher invalidates a Discovery's cache when the skills directory changes
// on disk (admin installs, manual edits).
type Watcher struct {
	watcher   *fsnotify.Watcher
	discovery *Discovery
	logger    *observability.Logger
}

// NewWatcher starts watching the discovery root. Call Run to consume events.
func NewWatcher(discovery *Discovery, logger *observability.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsWatcher.Add(discovery.Root()); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", discovery.Root(), err)
	}
	return &Watcher{watcher: fsWatcher, discovery: discovery, logger: logger}, nil
}

// Run blocks until ctx is done, invalidating the discovery cache on every
// filesystem event under the root.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.discovery.Invalidate()
			if w.logger != nil {
				w.logger.Debug(ctx, "skills directory changed", "op", event.Op.String(), "path", event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn(ctx, "skills watcher error", "error", err)
			}
		}
	}
}
