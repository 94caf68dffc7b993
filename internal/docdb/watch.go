// Notifies of changes to a collection's files.

package docdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch returns a channel that receives a value whenever one of the
// collection's files changes, by this process or another one. Bursts are
// coalesced: the channel holds at most one pending notification. The
// channel is closed when ctx is done.
func (c *Collection) Watch(ctx context.Context) (<-chan struct{}, error) {
	if !c.Persistent() {
		return nil, errors.New("cannot watch a memory collection")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Dir(c.itemsFile.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	names := map[string]struct{}{}
	for _, p := range c.files() {
		names[filepath.Base(p)] = struct{}{}
	}
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if _, ok := names[filepath.Base(event.Name)]; !ok {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching collection", "collection", c.name, "err", err)
			}
		}
	}()
	return ch, nil
}
