package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

var (
	// ErrNoWorkspace is returned when no workspace root is configured
	ErrNoWorkspace = errors.New("no workspace root configured")
	// ErrManifestNotFound is returned when no file in the workspace has the manifest name
	ErrManifestNotFound = errors.New("manifest not found")
	// ErrAmbiguousManifest is returned when more than one file has the manifest name
	ErrAmbiguousManifest = errors.New("more than one manifest found")
)

// Workspace is a project tree rooted at an absolute directory
type Workspace struct {
	Root string
	// ManifestName is the base name the locator searches for
	ManifestName string
	// ManifestPath, when set, is used instead of searching
	ManifestPath string
	// PickFirst resolves several matches to the lexically first one
	PickFirst bool
	Ignore    []glob.Glob
}

// LocateManifest returns the path of the single manifest in the workspace.
func (w *Workspace) LocateManifest() (string, error) {
	if w.Root == "" {
		return "", ErrNoWorkspace
	}

	if w.ManifestPath != "" {
		if _, err := os.Stat(w.ManifestPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("%w: %s", ErrManifestNotFound, w.ManifestPath)
			}
			return "", fmt.Errorf("failed to stat manifest: %w", err)
		}
		return w.ManifestPath, nil
	}

	matches, err := w.FindManifests()
	if err != nil {
		return "", err
	}

	switch {
	case len(matches) == 0:
		return "", ErrManifestNotFound
	case len(matches) == 1 || w.PickFirst:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousManifest, strings.Join(matches, ", "))
	}
}

// FindManifests returns every file below the root named ManifestName, sorted.
// Hidden directories and ignored paths are skipped.
func (w *Workspace) FindManifests() ([]string, error) {
	if w.Root == "" {
		return nil, ErrNoWorkspace
	}

	var matches []string

	err := filepath.WalkDir(w.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path != w.Root {
			// Skip hidden directories (e.g. .git, .cache)
			if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if w.Ignored(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if !d.IsDir() && d.Name() == w.ManifestName {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search workspace: %w", err)
	}

	sort.Strings(matches)
	return matches, nil
}

// Relative converts an absolute path to the form embedded in entry lines: the
// part after the workspace root and one separator. No separator translation or
// containment check is done; a path outside the root gives a meaningless result.
func (w *Workspace) Relative(path string) (string, error) {
	if w.Root == "" {
		return "", ErrNoWorkspace
	}

	start := len(w.Root)
	if i := strings.Index(path, w.Root); i >= 0 {
		start = i + len(w.Root) + 1
	}
	if start > len(path) {
		return "", nil
	}
	return path[start:], nil
}

// IsManifest reports whether path has the manifest's base name
func (w *Workspace) IsManifest(path string) bool {
	return filepath.Base(path) == w.ManifestName
}

// Ignored reports whether path matches one of the ignore patterns. Patterns are
// matched against the slash-separated path relative to the root.
func (w *Workspace) Ignored(path string) bool {
	if len(w.Ignore) == 0 {
		return false
	}

	rel, err := filepath.Rel(w.Root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	for _, g := range w.Ignore {
		if g.Match(rel) {
			return true
		}
	}
	return false
}
