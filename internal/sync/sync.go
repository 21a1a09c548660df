package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/schaermu/cmakesyncd/internal/git"
	"github.com/schaermu/cmakesyncd/internal/manifest"
	"github.com/schaermu/cmakesyncd/internal/prompt"
	"github.com/schaermu/cmakesyncd/internal/workspace"
)

// ResultSkipped is reported when an operation did not apply to the file:
// no workspace, no manifest, or the file is the manifest itself.
const ResultSkipped manifest.Result = "skipped"

// Locator finds the manifest and maps files into the workspace
type Locator interface {
	LocateManifest() (string, error)
	Relative(path string) (string, error)
	IsManifest(path string) bool
	Ignored(path string) bool
}

// Options tunes engine behavior
type Options struct {
	// ManifestName is used in user-facing messages
	ManifestName string
	// SkipNoopWrite avoids rewriting the manifest when a remove finds nothing
	SkipNoopWrite bool
	DryRun        bool
	// GitIgnore, when set, drops event paths ignored by the repository at GitDir
	GitIgnore git.Client
	GitDir    string
}

// Engine keeps the manifest's entry lines in step with files on disk
type Engine struct {
	tmpl     manifest.Template
	locator  Locator
	prompter prompt.Prompter
	notifier prompt.Notifier
	logger   *slog.Logger
	opts     Options
	locks    keyedMutex
}

// NewEngine creates a new sync engine
func NewEngine(tmpl manifest.Template, locator Locator, prompter prompt.Prompter, notifier prompt.Notifier, logger *slog.Logger, opts Options) *Engine {
	if opts.ManifestName == "" {
		opts.ManifestName = manifest.DefaultName
	}
	return &Engine{
		tmpl:     tmpl,
		locator:  locator,
		prompter: prompter,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// target is a file resolved against the workspace
type target struct {
	manifest string
	rel      string
}

// resolve checks the preconditions shared by every operation. A nil target
// with a nil error means there is nothing to do.
func (e *Engine) resolve(path string) (*target, error) {
	if e.locator.IsManifest(path) {
		e.logger.Debug("ignoring the manifest itself", "path", path)
		return nil, nil
	}
	if e.locator.Ignored(path) {
		e.logger.Debug("ignoring path", "path", path)
		return nil, nil
	}

	manifestPath, err := e.locator.LocateManifest()
	if err != nil {
		if errors.Is(err, workspace.ErrNoWorkspace) || errors.Is(err, workspace.ErrManifestNotFound) {
			e.logger.Debug("no manifest to update", "path", path, "reason", err)
			return nil, nil
		}
		e.notifier.Error(fmt.Sprintf("Couldn't locate %s: %v", e.opts.ManifestName, err))
		return nil, fmt.Errorf("failed to locate manifest: %w", err)
	}

	rel, err := e.locator.Relative(path)
	if err != nil {
		if errors.Is(err, workspace.ErrNoWorkspace) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to compute relative path: %w", err)
	}

	return &target{manifest: manifestPath, rel: rel}, nil
}

// AddFile adds the entry line for path to the manifest
func (e *Engine) AddFile(ctx context.Context, path string) (manifest.Result, error) {
	t, err := e.resolve(path)
	if err != nil || t == nil {
		return ResultSkipped, err
	}
	return e.add(ctx, t)
}

// RemoveFile removes the entry line for path from the manifest
func (e *Engine) RemoveFile(ctx context.Context, path string) (manifest.Result, error) {
	t, err := e.resolve(path)
	if err != nil || t == nil {
		return ResultSkipped, err
	}
	return e.remove(ctx, t)
}

func (e *Engine) add(_ context.Context, t *target) (manifest.Result, error) {
	var result manifest.Result

	err := e.edit(t.manifest, func(content string) (string, bool, error) {
		updated, res, err := e.tmpl.Add(content, t.rel)
		if err != nil {
			return "", false, err
		}
		result = res
		return updated, res == manifest.ResultAdded, nil
	})

	switch {
	case errors.Is(err, manifest.ErrMarkerNotFound):
		e.notifier.Error(fmt.Sprintf("Couldn't find '%s' in your %s", e.tmpl.Marker, e.opts.ManifestName))
		return "", err
	case err != nil:
		e.notifier.Error(fmt.Sprintf("Failed to add %q to %s: %v", t.rel, e.opts.ManifestName, err))
		return "", err
	}

	switch result {
	case manifest.ResultAlreadyPresent:
		e.notifier.Info(fmt.Sprintf("%q already included in %s!", t.rel, e.opts.ManifestName))
	case manifest.ResultAdded:
		e.notifier.Info(fmt.Sprintf("Added %q to %s!", t.rel, e.opts.ManifestName))
	}
	return result, nil
}

func (e *Engine) remove(_ context.Context, t *target) (manifest.Result, error) {
	var result manifest.Result

	err := e.edit(t.manifest, func(content string) (string, bool, error) {
		updated, res := e.tmpl.Remove(content, t.rel)
		result = res
		if res == manifest.ResultNotPresent && e.opts.SkipNoopWrite {
			return content, false, nil
		}
		return updated, true, nil
	})
	if err != nil {
		e.notifier.Error(fmt.Sprintf("Failed to remove %q from %s: %v", t.rel, e.opts.ManifestName, err))
		return "", err
	}

	if result == manifest.ResultRemoved {
		e.notifier.Info(fmt.Sprintf("%q removed from %s!", t.rel, e.opts.ManifestName))
	}
	return result, nil
}

// edit runs one read-modify-write of the manifest while holding its lock.
// fn returns the new content and whether it should be written.
func (e *Engine) edit(path string, fn func(content string) (string, bool, error)) error {
	unlock := e.locks.lock(path)
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	updated, write, err := fn(string(data))
	if err != nil || !write {
		return err
	}

	if e.opts.DryRun {
		e.logger.Info("[dry-run] would write manifest", "manifest", path)
		return nil
	}

	if err := writeFile(path, []byte(updated)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	e.logger.Debug("manifest written", "manifest", path, "bytes", len(updated))
	return nil
}

// HandleCreated offers every created file for adding. Files are handled
// concurrently and the call returns once all of them are settled.
func (e *Engine) HandleCreated(ctx context.Context, paths []string) {
	e.each(e.filterGitIgnored(ctx, paths), func(path string) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return
		}

		t, err := e.resolve(path)
		if err != nil {
			e.logger.Error("failed to handle created file", "path", path, "error", err)
			return
		}
		if t == nil {
			return
		}

		question := fmt.Sprintf("Would you like to add %s to the %s?", filepath.Base(path), e.opts.ManifestName)
		ok, err := e.prompter.Confirm(ctx, question)
		if err != nil {
			e.logger.Error("prompt failed", "path", path, "error", err)
			return
		}
		if !ok {
			e.logger.Debug("add declined", "path", path)
			return
		}

		if _, err := e.add(ctx, t); err != nil {
			e.logger.Error("failed to add file", "path", path, "error", err)
		}
	})
}

// HandleDeleted removes the entries of every deleted file without asking
func (e *Engine) HandleDeleted(ctx context.Context, paths []string) {
	e.each(e.filterGitIgnored(ctx, paths), func(path string) {
		if _, err := e.RemoveFile(ctx, path); err != nil {
			e.logger.Error("failed to remove file", "path", path, "error", err)
		}
	})
}

// filterGitIgnored removes paths matched by .gitignore rules. A failing git
// leaves the batch untouched.
func (e *Engine) filterGitIgnored(ctx context.Context, paths []string) []string {
	if e.opts.GitIgnore == nil || len(paths) == 0 {
		return paths
	}

	ignored, err := e.opts.GitIgnore.CheckIgnore(ctx, e.opts.GitDir, paths)
	if err != nil {
		e.logger.Warn("failed to check .gitignore rules", "error", err)
		return paths
	}
	if len(ignored) == 0 {
		return paths
	}

	skip := make(map[string]bool, len(ignored))
	for _, p := range ignored {
		skip[p] = true
	}

	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		if skip[p] {
			e.logger.Debug("ignoring path excluded by .gitignore", "path", p)
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func (e *Engine) each(paths []string, fn func(path string)) {
	var wg gosync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			fn(path)
		}(path)
	}
	wg.Wait()
}

// Entries lists the manifest's entry lines and whether each file exists
func (e *Engine) Entries(root string) ([]Entry, error) {
	manifestPath, err := e.locator.LocateManifest()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var entries []Entry
	for _, rel := range e.tmpl.Entries(string(data)) {
		_, statErr := os.Stat(filepath.Join(root, rel))
		entries = append(entries, Entry{
			Path:   rel,
			Exists: !errors.Is(statErr, fs.ErrNotExist),
		})
	}
	return entries, nil
}

// writeFile replaces path atomically, keeping its permissions
func writeFile(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".cmakesyncd-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(info.Mode()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
