// Package watch re-runs work when manifest files change on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/cosmic-gao/nexo-machine/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collects the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// ChangeFunc is called with the changed files, sorted. A returned error
// is logged and watching continues.
type ChangeFunc func(ctx context.Context, changed []string) error

// Watcher reports writes to a fixed set of files.
type Watcher struct {
	Debounce time.Duration
	Logger   *slog.Logger

	files map[string]bool
}

// New creates a watcher for files. Paths are made absolute.
func New(files []string) (*Watcher, error) {
	w := &Watcher{Debounce: DefaultDebounce, Logger: logging.Nop(), files: make(map[string]bool)}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", f, err)
		}
		w.files[abs] = true
	}
	return w, nil
}

// Run watches until ctx is done. Directories are watched rather than the
// files themselves so that editors which replace files on save are seen.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	var dirs []string
	for f := range w.files {
		if d := filepath.Dir(f); !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	for _, d := range dirs {
		if err := fw.Add(d); err != nil {
			return fmt.Errorf("watching %s: %w", d, err)
		}
	}

	logger := logging.OrNop(w.Logger)
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !w.files[name] {
				continue
			}
			pending[name] = true
			timer.Reset(debounce)

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for f := range pending {
				changed = append(changed, f)
			}
			slices.Sort(changed)
			clear(pending)

			logger.Debug("files changed", "files", changed)
			if err := onChange(ctx, changed); err != nil {
				logger.Warn("change handler failed", "error", err)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", "error", err)
		}
	}
}
