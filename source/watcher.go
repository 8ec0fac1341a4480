package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is reported.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports files under a directory that are created or written and
// match its patterns. Editors and copy tools emit several events per save,
// so a path is only reported once it has been quiet for the debounce delay.
type Watcher struct {
	dir      string
	patterns []string
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// NewWatcher starts watching dir and every directory below it.
func NewWatcher(dir string, patterns []string, debounce time.Duration) (*Watcher, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("source: creating file watcher: %w", err)
	}
	w := &Watcher{dir: dir, patterns: patterns, debounce: debounce, fsw: fsw}
	if err := w.addTree(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree registers root and its non-hidden subdirectories. fsnotify does not
// recurse on its own.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip entries we can't access
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("source: watching %s: %w", path, err)
		}
		slog.Debug("source: watching directory", "path", path)
		return nil
	})
}

// Run calls fn for each settled file until ctx is done. fn is never called
// concurrently. Run closes the watcher when it returns.
func (w *Watcher) Run(ctx context.Context, fn func(ctx context.Context, path string)) error {
	defer w.fsw.Close()

	pending := make(map[string]time.Time)
	tick := time.NewTicker(w.debounce / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						slog.Warn("source: watching new directory failed", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if w.matches(event.Name) {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("source: file watcher error", "error", err)

		case now := <-tick.C:
			for path, last := range pending {
				if now.Sub(last) < w.debounce {
					continue
				}
				delete(pending, path)
				if _, err := os.Stat(path); err != nil {
					continue
				}
				slog.Info("source: document changed", "path", path)
				fn(ctx, path)
			}
		}
	}
}

func (w *Watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." || hidden(part) {
			return false
		}
	}
	return Match(w.patterns, rel)
}

// Close stops the watcher without waiting for Run.
func (w *Watcher) Close() error { return w.fsw.Close() }
