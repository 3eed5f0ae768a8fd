package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports when captures are added or rewritten under a dataset root.
// fsnotify is not recursive, so the root and every device directory are
// watched individually; new device directories are picked up as they appear.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher starts watching root and its device directories.
func NewWatcher(root string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{root: root, debounce: debounce, logger: logger, watcher: fw}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("read capture root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			if err := w.addDir(filepath.Join(root, e.Name())); err != nil {
				fw.Close()
				return nil, err
			}
		}
	}
	return w, nil
}

func (w *Watcher) addDir(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Debug("watching device directory", "dir", dir)
	return nil
}

// Run blocks until ctx is done, calling onChange once per burst of
// relevant file events. onChange runs on the Run goroutine, so invocations
// never overlap.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("capture watcher error", "error", err)
		}
	}
}

// relevant filters events down to capture writes and new device directories.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}

	if event.Op&fsnotify.Create != 0 && filepath.Dir(event.Name) == filepath.Clean(w.root) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDir(event.Name); err != nil {
				w.logger.Warn("cannot watch new device directory", "dir", event.Name, "error", err)
			}
			return true
		}
	}
	return IsCaptureName(name)
}
