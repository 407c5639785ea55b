package dataset

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Watch reloads the dataset every time its file is written or replaced, until
// ctx is done. Bursts of events collapse into one reload, and reloads are at
// least ReloadInterval apart.
//
// Each reload starts a fresh error log, then calls fn with the result of Load.
func (d *Dataset[T]) Watch(ctx context.Context, fn func(error)) error {
	target, err := filepath.Abs(d.path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	// Editors often replace files by renaming; watch the directory.
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	limiter := rate.NewLimiter(rate.Every(d.opts.ReloadInterval), 1)
	d.logger.DebugContext(ctx, "watching")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			drain(w.Events)
			d.logger.InfoContext(ctx, "file changed, reloading")
			d.Log().Reset()
			fn(d.Load(ctx))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.logger.WarnContext(ctx, "Error watching file", "err", err)
		}
	}
}

// drain discards the events already queued.
func drain(c <-chan fsnotify.Event) {
	for {
		select {
		case _, ok := <-c:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
