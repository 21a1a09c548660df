//go:build integration

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/cmakesyncd/internal/testutil"
	"github.com/schaermu/cmakesyncd/internal/webhook"
)

const marker = "#VSCODE-CMAKE-EXT-MARKER"

func setup(t *testing.T) (*Harness, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	t.Cleanup(cancel)
	return NewHarness(t, ctx), ctx
}

func TestCommands(t *testing.T) {
	h, ctx := setup(t)

	root := testutil.WriteProject(t, map[string]string{
		"CMakeLists.txt": "project(demo)\n" + marker + "\n",
		"src/main.cpp":   "int main() {}\n",
	})
	cfg := WriteConfig(t, t.TempDir(), "prompt:\n  mode: never\n")
	base := []string{"--config", cfg, "-w", root}

	t.Run("A_Add", func(t *testing.T) {
		h.MustRun(ctx, append([]string{"add", filepath.Join(root, "src", "main.cpp")}, base...)...)
		want := "project(demo)\nlist(APPEND EDITOR_SRCS \"src/main.cpp\")\n" + marker + "\n"
		if got := testutil.ReadFile(t, root, "CMakeLists.txt"); got != want {
			t.Errorf("unexpected manifest:\nwant %q\ngot  %q", want, got)
		}
	})

	t.Run("B_AddIsIdempotent", func(t *testing.T) {
		h.MustRun(ctx, append([]string{"add", filepath.Join(root, "src", "main.cpp")}, base...)...)
		got := testutil.ReadFile(t, root, "CMakeLists.txt")
		if n := strings.Count(got, "src/main.cpp"); n != 1 {
			t.Errorf("expected one entry, found %d in %q", n, got)
		}
	})

	t.Run("C_List", func(t *testing.T) {
		h.MustRun(ctx, append([]string{"add", filepath.Join(root, "src", "gone.cpp")}, base...)...)
		out := h.MustRun(ctx, append([]string{"list"}, base...)...)
		if !strings.Contains(out, "src/main.cpp\n") {
			t.Errorf("expected existing entry in %q", out)
		}
		if !strings.Contains(out, "src/gone.cpp") || !strings.Contains(out, "(missing)") {
			t.Errorf("expected missing entry flagged in %q", out)
		}
	})

	t.Run("D_Remove", func(t *testing.T) {
		h.MustRun(ctx, append([]string{"remove", filepath.Join(root, "src", "gone.cpp")}, base...)...)
		if got := testutil.ReadFile(t, root, "CMakeLists.txt"); strings.Contains(got, "gone.cpp") {
			t.Errorf("entry not removed: %q", got)
		}
	})

	t.Run("E_DryRun", func(t *testing.T) {
		before := testutil.ReadFile(t, root, "CMakeLists.txt")
		h.MustRun(ctx, append([]string{"add", "--dry-run", filepath.Join(root, "src", "other.cpp")}, base...)...)
		if got := testutil.ReadFile(t, root, "CMakeLists.txt"); got != before {
			t.Errorf("dry run modified the manifest: %q", got)
		}
	})

	t.Run("F_MarkerMissing", func(t *testing.T) {
		bare := testutil.WriteProject(t, map[string]string{"CMakeLists.txt": "project(bare)\n"})
		_, stderr, code, err := h.Run(ctx, "add", filepath.Join(bare, "a.cpp"), "--config", cfg, "-w", bare)
		if err != nil {
			t.Fatal(err)
		}
		if code == 0 {
			t.Fatalf("expected non-zero exit without marker, stderr: %s", stderr)
		}
		if got := testutil.ReadFile(t, bare, "CMakeLists.txt"); got != "project(bare)\n" {
			t.Errorf("manifest must be untouched, got %q", got)
		}
	})
}

func TestWatch(t *testing.T) {
	h, ctx := setup(t)

	root := testutil.WriteProject(t, map[string]string{
		"CMakeLists.txt": marker + "\n",
		"src/.keep":      "",
	})
	cfg := WriteConfig(t, t.TempDir(), `prompt:
  mode: always
watch:
  debounce: 50ms
  ignore:
    - "build/**"
`)
	h.Start(ctx, "watch", "--config", cfg, "-w", root, "--log-level", "debug")

	manifest := func() string { return testutil.ReadFile(t, root, "CMakeLists.txt") }

	// Give the watcher time to register the tree
	time.Sleep(500 * time.Millisecond)

	t.Run("A_CreatedFileIsAdded", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(root, "src", "new.cpp"), nil, 0644); err != nil {
			t.Fatal(err)
		}
		h.Eventually(10*time.Second, "new.cpp was not added", func() bool {
			return strings.Contains(manifest(), `"src/new.cpp"`)
		})
	})

	t.Run("B_DeletedFileIsRemoved", func(t *testing.T) {
		if err := os.Remove(filepath.Join(root, "src", "new.cpp")); err != nil {
			t.Fatal(err)
		}
		h.Eventually(10*time.Second, "new.cpp was not removed", func() bool {
			return !strings.Contains(manifest(), "new.cpp")
		})
	})

	t.Run("C_NewDirectoryContents", func(t *testing.T) {
		dir := filepath.Join(root, "lib", "util")
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "util.cpp"), nil, 0644); err != nil {
			t.Fatal(err)
		}
		h.Eventually(10*time.Second, "util.cpp was not added", func() bool {
			return strings.Contains(manifest(), `"lib/util/util.cpp"`)
		})
	})

	t.Run("D_IgnoredPathsAreSkipped", func(t *testing.T) {
		dir := filepath.Join(root, "build")
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "gen.cpp"), nil, 0644); err != nil {
			t.Fatal(err)
		}
		h.Never(time.Second, "ignored build/gen.cpp was added", func() bool {
			return strings.Contains(manifest(), "gen.cpp")
		})
	})
}

func TestServe(t *testing.T) {
	h, ctx := setup(t)

	root := testutil.WriteProject(t, map[string]string{
		"CMakeLists.txt": marker + "\n",
	})
	cfgDir := t.TempDir()
	secret := []byte("integration-secret")
	secretPath := filepath.Join(cfgDir, "secret")
	if err := os.WriteFile(secretPath, append(secret, '\n'), 0600); err != nil {
		t.Fatal(err)
	}
	addr := FreeAddr(t)
	cfg := WriteConfig(t, cfgDir, `prompt:
  mode: always
serve:
  listen_addr: "`+addr+`"
  secret_file: "`+secretPath+`"
`)
	h.Start(ctx, "serve", "--config", cfg, "-w", root)

	url := "http://" + addr
	h.Eventually(10*time.Second, "server did not become healthy", func() bool {
		resp, err := http.Get(url + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	post := func(t *testing.T, path string, v any, sign bool) *http.Response {
		t.Helper()
		body, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+path, bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if sign {
			req.Header.Set(webhook.SignatureHeader, "sha256="+webhook.Sign(secret, body))
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	t.Run("A_UnsignedRejected", func(t *testing.T) {
		resp := post(t, "/commands/add", webhook.CommandRequest{File: filepath.Join(root, "a.cpp")}, false)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("B_AddCommand", func(t *testing.T) {
		resp := post(t, "/commands/add", webhook.CommandRequest{File: filepath.Join(root, "a.cpp")}, true)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var out webhook.CommandResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		if out.Result != "added" {
			t.Errorf("expected result added, got %+v", out)
		}
	})

	t.Run("C_Events", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(root, "b.cpp"), nil, 0644); err != nil {
			t.Fatal(err)
		}
		resp := post(t, "/events", webhook.FileEvent{
			Created: []string{filepath.Join(root, "b.cpp")},
			Deleted: []string{filepath.Join(root, "a.cpp")},
		}, true)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", resp.StatusCode)
		}

		h.Eventually(10*time.Second, "events were not applied", func() bool {
			got := testutil.ReadFile(t, root, "CMakeLists.txt")
			return strings.Contains(got, `"b.cpp"`) && !strings.Contains(got, `"a.cpp"`)
		})
	})
}
