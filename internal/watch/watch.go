package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler receives settled batches of created and deleted files
type Handler interface {
	HandleCreated(ctx context.Context, paths []string)
	HandleDeleted(ctx context.Context, paths []string)
}

// Watcher turns filesystem notifications below a root into batches
type Watcher struct {
	root     string
	debounce time.Duration
	handler  Handler
	logger   *slog.Logger
	skip     func(path string) bool
	// maxWait bounds how long a batch can be held back by new events
	maxWait time.Duration

	// known holds the regular files seen below root; only Run touches it
	known map[string]bool
	wg    sync.WaitGroup
}

// maxWaitFactor times the debounce is the longest a batch is held back
const maxWaitFactor = 10

// New creates a watcher for root. skip, if non-nil, excludes paths from both
// watching and reporting.
func New(root string, debounce time.Duration, handler Handler, logger *slog.Logger, skip func(path string) bool) *Watcher {
	if skip == nil {
		skip = func(string) bool { return false }
	}
	return &Watcher{
		root:     filepath.Clean(root),
		debounce: debounce,
		handler:  handler,
		logger:   logger,
		skip:     skip,
		maxWait:  maxWaitFactor * debounce,
		known:    make(map[string]bool),
	}
}

// Run watches until ctx is cancelled. Batches still being handled when ctx is
// cancelled are waited for before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = fsw.Close()
	}()

	files, err := w.addTree(fsw, w.root)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	for _, f := range files {
		w.known[f] = true
	}
	w.logger.Info("watching workspace", "root", w.root, "directories", len(fsw.WatchList()))

	b := newBatch()
	var started time.Time
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return nil

		case err, ok := <-fsw.Errors:
			if !ok {
				w.wg.Wait()
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("event queue overflowed, some file changes were missed")
				continue
			}
			w.logger.Error("watcher error", "error", err)

		case ev, ok := <-fsw.Events:
			if !ok {
				w.wg.Wait()
				return nil
			}
			if !w.record(fsw, b, ev) {
				continue
			}
			if w.debounce <= 0 {
				w.flush(ctx, b)
				b = newBatch()
				continue
			}
			now := time.Now()
			if started.IsZero() {
				started = now
			}
			timer.Reset(w.delay(now, started))

		case <-timer.C:
			w.flush(ctx, b)
			b = newBatch()
			started = time.Time{}
		}
	}
}

// delay returns the debounce, shortened so a batch opened at started is
// flushed no later than maxWait after it
func (w *Watcher) delay(now, started time.Time) time.Duration {
	d := w.debounce
	if remaining := started.Add(w.maxWait).Sub(now); remaining < d {
		d = remaining
	}
	if d < 0 {
		d = 0
	}
	return d
}

// record adds ev to the batch and reports whether anything was recorded
func (w *Watcher) record(fsw *fsnotify.Watcher, b *batch, ev fsnotify.Event) bool {
	if w.hidden(ev.Name) || w.skip(ev.Name) {
		return false
	}
	w.logger.Debug("filesystem event", "path", ev.Name, "op", ev.Op.String())

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err == nil && info.IsDir() {
			// Files can land in a new directory before it is watched
			files, err := w.addTree(fsw, ev.Name)
			if err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
			recorded := false
			for _, f := range files {
				if w.known[f] {
					continue
				}
				w.known[f] = true
				b.created(f)
				recorded = true
			}
			return recorded
		}
		if w.known[ev.Name] {
			// Renamed over an existing file, as editors do on save
			w.logger.Debug("ignoring replaced file", "path", ev.Name)
			return false
		}
		w.known[ev.Name] = true
		b.created(ev.Name)
		return true

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.forget(ev.Name)
		b.deleted(ev.Name)
		return true
	}
	return false
}

// forget drops path and anything below it from the known files
func (w *Watcher) forget(path string) {
	delete(w.known, path)
	prefix := path + string(filepath.Separator)
	for f := range w.known {
		if strings.HasPrefix(f, prefix) {
			delete(w.known, f)
		}
	}
}

// flush hands the settled batch to the handler without blocking the event loop
func (w *Watcher) flush(ctx context.Context, b *batch) {
	created, deleted := b.settle(exists)
	if len(created) == 0 && len(deleted) == 0 {
		return
	}
	w.logger.Debug("dispatching batch", "created", len(created), "deleted", len(deleted))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if len(deleted) > 0 {
			w.handler.HandleDeleted(ctx, deleted)
		}
		if len(created) > 0 {
			w.handler.HandleCreated(ctx, created)
		}
	}()
}

// addTree watches dir and every non-hidden, non-skipped directory below it.
// It returns the regular files found on the way.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		if path != w.root && (w.hidden(path) || w.skip(path)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() {
			if path != dir && d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		}

		return fsw.Add(path)
	})
	return files, err
}

// hidden reports whether any element of path below the root starts with a dot
func (w *Watcher) hidden(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != ".." {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
