package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/metrics"
	"github.com/soficis/forge-meta-link/internal/scanner"
)

// watchDebounce batches bursts of filesystem events (a batch export
// writes hundreds of files in seconds) into one incremental scan.
const watchDebounce = 2 * time.Second

// Watch monitors root for changes and triggers incremental scans of
// the directories that saw create/write/rename events. It blocks
// until ctx is cancelled or the watcher fails. Watch errors disable
// watching but never fail the process.
func (ix *Indexer) Watch(ctx context.Context, root string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Error("Failed to create file watcher: %v", err)
		metrics.WatcherErrors.Inc()
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logging.Error("failed to close file watcher: %v", err)
		}
	}()

	watchCount := ix.addDirectoriesToWatcher(watcher, root)
	logging.Info("Watching %s for changes (%d directories)", root, watchCount)

	ix.processWatcherEvents(ctx, watcher)
}

// addDirectoriesToWatcher registers root and every non-hidden subdirectory.
func (ix *Indexer) addDirectoriesToWatcher(watcher *fsnotify.Watcher, root string) int {
	watchCount := 0
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			if addErr := watcher.Add(path); addErr != nil {
				logging.Warn("failed to add path to watcher %s: %v", path, addErr)
				metrics.WatcherErrors.Inc()
			} else {
				watchCount++
			}
		}
		return nil
	})
	if err != nil {
		logging.Error("failed to walk directory for watcher: %v", err)
		metrics.WatcherErrors.Inc()
	}
	return watchCount
}

// processWatcherEvents collects dirty directories under a debounce
// timer and rescans them when the burst settles.
func (ix *Indexer) processWatcherEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	var mu sync.Mutex
	dirty := map[string]struct{}{}
	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if dir, relevant := ix.handleWatcherEvent(watcher, event); relevant {
				mu.Lock()
				dirty[dir] = struct{}{}
				mu.Unlock()
				timer.Reset(watchDebounce)
			}

		case <-timer.C:
			mu.Lock()
			pending := make([]string, 0, len(dirty))
			for dir := range dirty {
				pending = append(pending, dir)
			}
			dirty = map[string]struct{}{}
			mu.Unlock()
			ix.rescanDirty(ctx, pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Watcher error: %v", err)
			metrics.WatcherErrors.Inc()
		}
	}
}

// handleWatcherEvent records the event and reports the directory to
// rescan, if the event is one that can change indexed content.
func (ix *Indexer) handleWatcherEvent(watcher *fsnotify.Watcher, event fsnotify.Event) (string, bool) {
	if strings.Contains(filepath.ToSlash(event.Name), "/.") {
		return "", false
	}

	metrics.WatcherEventsTotal.WithLabelValues(eventType(event.Op)).Inc()

	if event.Op&fsnotify.Create != 0 {
		ix.handleCreateEvent(watcher, event)
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return "", false
	}
	if scanner.IsSupportedImage(event.Name) {
		if event.Op == fsnotify.Write && ix.isUnchangedWrite(event.Name) {
			return "", false
		}
		return filepath.Dir(event.Name), true
	}
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		return event.Name, true
	}
	return "", false
}

// isUnchangedWrite filters out write events that left the file's mtime
// equal to the indexed value (metadata-only touches, editors rewriting
// identical content within the same second).
func (ix *Indexer) isUnchangedWrite(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	stored, found, err := ix.db.GetFileMtime(context.Background(), path)
	if err != nil || !found {
		return false
	}
	return stored != 0 && stored == info.ModTime().Unix()
}

func eventType(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	case op&fsnotify.Chmod != 0:
		return "chmod"
	default:
		return "unknown"
	}
}

// handleCreateEvent adds newly created directories to the watch set.
func (ix *Indexer) handleCreateEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() {
		return
	}
	if addErr := watcher.Add(event.Name); addErr != nil {
		logging.Warn("failed to add new directory to watcher %s: %v", event.Name, addErr)
		metrics.WatcherErrors.Inc()
	} else {
		logging.Debug("Added new directory to watcher: %s", event.Name)
	}
}

// rescanDirty runs an incremental scan for each settled directory.
// The per-file mtime filter makes rescanning a directory cheap.
func (ix *Indexer) rescanDirty(ctx context.Context, dirs []string) {
	for _, dir := range dirs {
		logging.Debug("Incremental scan of %s after watcher events", dir)
		if _, err := ix.Scan(ctx, dir); err != nil {
			logging.Warn("Incremental scan of %s failed: %v", dir, err)
			metrics.WatcherErrors.Inc()
			continue
		}
		ix.pruneMissing(ctx, dir)
	}
}

// pruneMissing reconciles index rows for files under dir that no
// longer exist on disk. A vanished file whose content fingerprint
// matches a freshly indexed copy elsewhere is treated as a move: the
// original row (with its favorites and tags) is relocated and the
// duplicate dropped. Everything else is deleted outright.
func (ix *Indexer) pruneMissing(ctx context.Context, dir string) {
	stored, err := ix.db.GetAllFileMtimes(ctx)
	if err != nil {
		logging.Warn("Prune of %s skipped, mtime lookup failed: %v", dir, err)
		return
	}

	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)
	var toDelete []int64
	relocated := 0
	for path := range stored {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			continue
		}
		id, found, err := ix.db.GetImageIDByFilepath(ctx, path)
		if err != nil || !found {
			continue
		}

		if ix.relocateMoved(ctx, id) {
			relocated++
			continue
		}
		toDelete = append(toDelete, id)
	}

	if len(toDelete) > 0 {
		deleted, err := ix.db.DeleteImagesByIDs(ctx, toDelete)
		if err != nil {
			logging.Warn("Prune of %s failed: %v", dir, err)
			metrics.WatcherErrors.Inc()
			return
		}
		logging.Info("Pruned %d removed files under %s", deleted, dir)
	}
	if relocated > 0 {
		logging.Info("Relocated %d moved files out of %s", relocated, dir)
	}
}

// relocateMoved checks whether the vanished row id has a same-content
// twin that still exists on disk (the scan of the destination already
// inserted it). If so the duplicate row is dropped and the original
// row takes over the new path, keeping favorites and tags intact.
func (ix *Indexer) relocateMoved(ctx context.Context, id int64) bool {
	hash, err := ix.db.GetImageQuickHash(ctx, id)
	if err != nil || hash == "" {
		return false
	}
	twins, err := ix.db.FindImagesByQuickHash(ctx, hash)
	if err != nil {
		return false
	}

	for _, twin := range twins {
		if twin.ID == id {
			continue
		}
		if _, err := os.Stat(twin.Filepath); err != nil {
			continue
		}
		if _, err := ix.db.DeleteImagesByIDs(ctx, []int64{twin.ID}); err != nil {
			return false
		}
		moved, err := ix.db.UpdateImageLocation(ctx, id,
			twin.Filepath, filepath.Base(twin.Filepath), filepath.Dir(twin.Filepath))
		if err != nil || !moved {
			return false
		}
		return true
	}
	return false
}
