// Package watch reports Markdown changes under a book source directory.
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
)

// Change kinds passed to Callback.
const (
	Created = "created"
	Updated = "updated"
	Deleted = "deleted"
)

// DefaultDebounce is how long a path must be quiet before it is reported.
const DefaultDebounce = 200 * time.Millisecond

// Callback receives a change kind and a path relative to the watched root.
type Callback func(kind, rel string)

// Watch starts an fsnotify watcher on root and reports .md changes until
// ctx is cancelled. Editors tend to emit bursts of writes, so events are
// coalesced per path and delivered once the path has been quiet for
// debounce. New directories are added to the watch list as they appear.
func Watch(ctx context.Context, root string, debounce time.Duration, logger *slog.Logger, cb Callback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]string)
	timer := time.NewTimer(debounce)
	timer.Stop()

	mark := func(rel, kind string) {
		// A create followed by writes is still a create.
		if prev, ok := pending[rel]; ok && prev == Created && kind == Updated {
			kind = Created
		}
		pending[rel] = kind
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("watcher: stopped")
			return nil

		case <-timer.C:
			for rel, kind := range pending {
				if kind != Deleted {
					if _, err := os.Stat(filepath.Join(root, rel)); err != nil {
						kind = Deleted
					}
				}
				logger.Debug("watcher: change", slog.String("path", rel), slog.String("op", kind))
				if cb != nil {
					cb(kind, rel)
				}
			}
			clear(pending)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
						continue
					}
					logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					for _, rel := range markdownIn(root, absPath) {
						mark(rel, Created)
					}
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}
			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				mark(rel, Created)
			case ev.Op&fsnotify.Write != 0:
				mark(rel, Updated)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Rename fires on the old path; the new path arrives as Create.
				mark(rel, Deleted)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// markdownIn lists .md files already present in a newly created directory.
func markdownIn(root, dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		if rel, relErr := filepath.Rel(root, p); relErr == nil {
			out = append(out, rel)
		}
		return nil
	})
	return out
}

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
