package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Client answers questions about a git working tree
type Client interface {
	// CheckIgnore returns the subset of paths excluded by .gitignore rules in
	// the working tree at dir. Outside a repository nothing is ignored.
	CheckIgnore(ctx context.Context, dir string, paths []string) ([]string, error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	binary string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient() *ShellClient {
	return &ShellClient{binary: "git"}
}

// CheckIgnore runs git check-ignore over paths. Paths are passed NUL-separated
// on stdin so names with newlines or leading dashes are safe.
func (c *ShellClient) CheckIgnore(ctx context.Context, dir string, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	var stdin bytes.Buffer
	for _, p := range paths {
		stdin.WriteString(p)
		stdin.WriteByte(0)
	}

	cmd := exec.CommandContext(ctx, c.binary, "-C", dir, "check-ignore", "--stdin", "-z")
	cmd.Stdin = &stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			switch exitErr.ExitCode() {
			case 1:
				// none of the paths are ignored
				return nil, nil
			case 128:
				if strings.Contains(stderr.String(), "not a git repository") {
					return nil, nil
				}
			}
		}
		return nil, fmt.Errorf("git check-ignore failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var ignored []string
	for _, p := range strings.Split(stdout.String(), "\x00") {
		if p != "" {
			ignored = append(ignored, p)
		}
	}
	return ignored, nil
}
