package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindProjectRoot(t *testing.T) {
	root, err := FindProjectRoot()
	if err != nil {
		t.Fatalf("FindProjectRoot returned error: %v", err)
	}
	if root == "" {
		t.Fatal("FindProjectRoot returned empty string")
	}

	goMod := filepath.Join(root, "go.mod")
	if _, err := os.Stat(goMod); err != nil {
		t.Fatalf("go.mod not found at %s: %v", goMod, err)
	}
}

func TestWriteProject(t *testing.T) {
	root := WriteProject(t, map[string]string{
		"CMakeLists.txt": "#marker\n",
		"src/a/b.cpp":    "int x;\n",
	})

	if got := ReadFile(t, root, "CMakeLists.txt"); got != "#marker\n" {
		t.Errorf("unexpected manifest content %q", got)
	}
	if got := ReadFile(t, root, "src/a/b.cpp"); got != "int x;\n" {
		t.Errorf("unexpected source content %q", got)
	}
}
