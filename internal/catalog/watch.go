package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"devstack/pkg/logging"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

const subsystem = "Catalog"

// DebounceInterval coalesces the burst of events an editor save produces.
var DebounceInterval = 100 * time.Millisecond

// Watch calls onChange after path is written, created or replaced, until
// ctx is cancelled. The parent directory is watched so atomic saves that
// rename over the file are seen. Watch blocks and returns nil on
// cancellation.
func Watch(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() { _ = watcher.Close() })

	var (
		mu        sync.Mutex
		debouncer *time.Timer
	)
	done := make(chan struct{})
	sctx.Go(func(sctx *stopper.Context) error {
		defer close(done)
		sctx.Defer(func() {
			mu.Lock()
			if debouncer != nil {
				debouncer.Stop()
			}
			mu.Unlock()
		})

		for {
			select {
			case <-sctx.Stopping():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != name || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				logging.Debug(subsystem, "%s changed (%s)", path, event.Op)
				mu.Lock()
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(DebounceInterval, onChange)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logging.Warn(subsystem, "Watching %s: %v", path, err)
			}
		}
	})

	select {
	case <-ctx.Done():
	case <-done:
	}
	sctx.Stop(DebounceInterval)
	if err := sctx.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
