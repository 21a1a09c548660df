package manifest

import "strings"

// document is a manifest split into lines with its terminator style.
//
// Files where every line break is CRLF are handled as CRLF: the carriage
// return is stripped for matching and restored on join. Anything else is
// split on LF only, so a stray CR stays attached to its line and mixed files
// round-trip unchanged.
type document struct {
	lines []string
	crlf  bool
}

func split(content string) document {
	lines := strings.Split(content, "\n")
	if !allCRLF(lines) {
		return document{lines: lines}
	}

	for i := 0; i < len(lines)-1; i++ {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}
	return document{lines: lines, crlf: true}
}

// allCRLF reports whether there is at least one line break and every line
// break is preceded by a carriage return.
func allCRLF(lines []string) bool {
	if len(lines) < 2 {
		return false
	}
	for _, line := range lines[:len(lines)-1] {
		if !strings.HasSuffix(line, "\r") {
			return false
		}
	}
	return true
}

func (d document) index(line string) int {
	for i, l := range d.lines {
		if l == line {
			return i
		}
	}
	return -1
}

func (d document) join() string {
	if d.crlf {
		return strings.Join(d.lines, "\r\n")
	}
	return strings.Join(d.lines, "\n")
}
