package manifest

import (
	"errors"
	"strings"
)

const (
	// DefaultName is the base name of the manifest file
	DefaultName = "CMakeLists.txt"
	// DefaultListVariable is the CMake list that entry lines append to
	DefaultListVariable = "EDITOR_SRCS"
	// DefaultMarker is the sentinel line new entries are inserted above
	DefaultMarker = "#VSCODE-CMAKE-EXT-MARKER"
)

// ErrMarkerNotFound is returned by Add when the manifest has no marker line
var ErrMarkerNotFound = errors.New("marker line not found")

// Result describes the outcome of a line edit
type Result string

const (
	ResultAdded          Result = "added"
	ResultAlreadyPresent Result = "already-present"
	ResultRemoved        Result = "removed"
	ResultNotPresent     Result = "not-present"
)

// Template builds entry lines and recognizes the marker line
type Template struct {
	ListVariable string
	Marker       string
}

// DefaultTemplate returns the template with the stock list variable and marker
func DefaultTemplate() Template {
	return Template{
		ListVariable: DefaultListVariable,
		Marker:       DefaultMarker,
	}
}

// EntryLine returns the exact entry line for a workspace-relative path.
// The path is embedded verbatim.
func (t Template) EntryLine(relPath string) string {
	return `list(APPEND ` + t.ListVariable + ` "` + relPath + `")`
}

// Add inserts the entry line for relPath immediately before the first marker
// line. The returned content equals the input unless the result is ResultAdded.
func (t Template) Add(content, relPath string) (string, Result, error) {
	doc := split(content)
	entry := t.EntryLine(relPath)

	if doc.index(entry) >= 0 {
		return content, ResultAlreadyPresent, nil
	}

	marker := doc.index(t.Marker)
	if marker < 0 {
		return content, "", ErrMarkerNotFound
	}

	lines := make([]string, 0, len(doc.lines)+1)
	lines = append(lines, doc.lines[:marker]...)
	lines = append(lines, entry)
	lines = append(lines, doc.lines[marker:]...)
	doc.lines = lines

	return doc.join(), ResultAdded, nil
}

// Remove deletes the first line equal to the entry line for relPath.
func (t Template) Remove(content, relPath string) (string, Result) {
	doc := split(content)

	i := doc.index(t.EntryLine(relPath))
	if i < 0 {
		return content, ResultNotPresent
	}

	doc.lines = append(doc.lines[:i], doc.lines[i+1:]...)
	return doc.join(), ResultRemoved
}

// Contains reports whether the entry line for relPath is present
func (t Template) Contains(content, relPath string) bool {
	return split(content).index(t.EntryLine(relPath)) >= 0
}

// Entries returns the relative paths of all entry lines in file order
func (t Template) Entries(content string) []string {
	prefix := `list(APPEND ` + t.ListVariable + ` "`
	suffix := `")`

	var paths []string
	for _, line := range split(content).lines {
		if strings.HasPrefix(line, prefix) && strings.HasSuffix(line, suffix) && len(line) >= len(prefix)+len(suffix) {
			paths = append(paths, line[len(prefix):len(line)-len(suffix)])
		}
	}
	return paths
}
