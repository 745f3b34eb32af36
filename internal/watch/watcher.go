// Package watch reacts to out-of-band edits: files changed behind the
// engine's back are reindexed through a coordinator scope, and deletions
// trigger a debounced stale sweep.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/berkano/internal/content"
	"github.com/starford/berkano/internal/vault"
)

const sweepDebounce = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the garden root and processes file
// change events until ctx is cancelled. New directories created at runtime
// are added to the watch list.
func Watch(ctx context.Context, svc *content.Service, files *vault.FS, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := files.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watch: started", slog.String("root", root))

	var sweepTimer *time.Timer
	var sweepCh <-chan time.Time
	scheduleSweep := func() {
		if sweepTimer == nil {
			sweepTimer = time.NewTimer(sweepDebounce)
			sweepCh = sweepTimer.C
		} else {
			sweepTimer.Reset(sweepDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if sweepTimer != nil {
				sweepTimer.Stop()
			}
			logger.Info("watch: stopped")
			return nil

		case <-sweepCh:
			n, err := svc.RemoveStale(ctx)
			if err != nil {
				logger.Warn("watch: stale sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.Debug("watch: removed stale records", slog.Int("count", n))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watch: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					continue
				}
			}

			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if _, err := svc.Reindex(ctx, rel); err != nil {
					logger.Warn("watch: reindex failed", slog.String("path", rel), slog.String("error", err.Error()))
				} else {
					logger.Debug("watch: reindexed", slog.String("path", rel))
				}

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// fsnotify fires Rename on the old path; a Create for the
				// new path follows if it lands inside a watched dir.
				scheduleSweep()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
