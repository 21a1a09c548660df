//go:build integration

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/schaermu/cmakesyncd/internal/testutil"
)

const (
	defaultTimeout = 2 * time.Minute
	pollInterval   = 50 * time.Millisecond
)

// Harness builds the cmakesyncd binary and runs it against a project tree
type Harness struct {
	t      *testing.T
	binary string
	procs  []*exec.Cmd
}

// NewHarness builds the binary into a temporary directory
func NewHarness(t *testing.T, ctx context.Context) *Harness {
	t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		t.Fatalf("get project root: %v", err)
	}

	binary := filepath.Join(t.TempDir(), "cmakesyncd")
	t.Logf("Building %s", binary)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", binary, "./cmd/cmakesyncd")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: t, prefix: "[build] "}
	if err := cmd.Run(); err != nil {
		t.Fatalf("go build: %v", err)
	}

	h := &Harness{t: t, binary: binary}
	t.Cleanup(h.stopAll)
	return h
}

// Run executes a one-shot command and returns its output and exit code
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes a command and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout
}

// Start launches a long-running command. It is stopped on test cleanup.
func (h *Harness) Start(ctx context.Context, args ...string) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Stdout = &testWriter{t: h.t, prefix: "[" + args[0] + "] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[" + args[0] + "] "}
	if err := cmd.Start(); err != nil {
		h.t.Fatalf("start %v: %v", args, err)
	}
	h.procs = append(h.procs, cmd)
}

// stopAll sends SIGTERM to every started process and waits for it to exit
func (h *Harness) stopAll() {
	for _, cmd := range h.procs {
		if cmd.Process == nil {
			continue
		}
		_ = cmd.Process.Signal(syscall.SIGTERM)

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			h.t.Logf("Warning: process %d did not stop, killing it", cmd.Process.Pid)
			_ = cmd.Process.Kill()
			<-done
		}
	}
	h.procs = nil
}

// Eventually polls cond until it holds or the timeout expires
func (h *Harness) Eventually(timeout time.Duration, msg string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(pollInterval)
	}
	h.t.Fatalf("timed out after %s: %s", timeout, msg)
}

// Never fails the test if cond holds at any point during d
func (h *Harness) Never(d time.Duration, msg string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			h.t.Fatal(msg)
		}
		time.Sleep(pollInterval)
	}
}

// WriteConfig writes a config file into dir and returns its path
func WriteConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// FreeAddr returns a loopback address with a currently unused port
func FreeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
