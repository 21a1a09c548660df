// Package manifest edits the source list of a CMakeLists.txt as plain lines.
//
// Entry lines have the form
//
//	list(APPEND EDITOR_SRCS "src/foo.cpp")
//
// and are matched by exact string equality. New entries go immediately above
// the first marker line (#VSCODE-CMAKE-EXT-MARKER). Nothing else in the file is
// parsed or modified, and every function here is pure so callers own the I/O.
package manifest
