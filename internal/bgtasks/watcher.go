package bgtasks

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchMasterBinary refreshes the cached master binary version whenever
// the binary file is replaced on disk (by the upgrade path, or by an
// operator dropping a binary in manually). Blocks until ctx is done.
func (r *Runner) WatchMasterBinary(ctx context.Context, binPath string,
	readVersion func(context.Context) (string, error),
) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// watch the directory: the binary is installed via rename, which
	// would drop a watch placed on the file itself
	if err := watcher.Add(filepath.Dir(binPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(binPath), err)
	}

	if v, err := readVersion(ctx); err == nil {
		r.mgr.BinVersions().SetMaster(v)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != binPath {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			v, err := readVersion(ctx)
			if err != nil {
				r.logger.Warn("failed to read master binary version", "err", err)
				continue
			}
			r.logger.Info("master node binary changed on disk", "version", v)
			r.mgr.BinVersions().SetMaster(v)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "err", err)
		}
	}
}
