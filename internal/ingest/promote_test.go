package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPromoteReplacesPackage(t *testing.T) {
	root := newRoot(t)
	dir, err := root.CreatePackageDir("game_p")
	if err != nil {
		t.Fatal(err)
	}
	writeFiles(t, dir, map[string]string{
		"package.json":       "{}",
		"src/main.js":        "src",
		"dist/index.html":    "<p>built</p>",
		"dist/assets/app.js": "app",
	})

	if err := Promote(root, dir, filepath.Join(dir, "dist")); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	for _, name := range []string{"index.html", "assets/app.js"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s missing after promotion: %v", name, err)
		}
	}
	for _, name := range []string{"package.json", "src", "dist"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should be gone after promotion", name)
		}
	}
	if names := rootEntries(t, root); len(names) != 1 || names[0] != "game_p" {
		t.Errorf("root entries = %v, want only game_p", names)
	}
}

func TestPromoteRejectsSymlinks(t *testing.T) {
	root := newRoot(t)
	dir, err := root.CreatePackageDir("game_link")
	if err != nil {
		t.Fatal(err)
	}
	writeFiles(t, dir, map[string]string{"dist/index.html": "x"})
	if err := os.Symlink("/etc/passwd", filepath.Join(dir, "dist", "passwd")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	err = Promote(root, dir, filepath.Join(dir, "dist"))
	var bf *BuildFailure
	if !errors.As(err, &bf) || bf.Phase != "output" {
		t.Fatalf("err = %v, want output BuildFailure", err)
	}
}

func TestPromoteRequiresDirectChild(t *testing.T) {
	root := newRoot(t)
	dir, err := root.CreatePackageDir("game_nested")
	if err != nil {
		t.Fatal(err)
	}
	writeFiles(t, dir, map[string]string{"a/dist/index.html": "x"})
	if err := Promote(root, dir, filepath.Join(dir, "a", "dist")); err == nil {
		t.Fatal("expected error for nested output")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		ok    bool
	}{
		{"present", map[string]string{"index.html": "x"}, true},
		{"wrong case", map[string]string{"INDEX.HTML": "x"}, false},
		{"nested only", map[string]string{"sub/index.html": "x"}, false},
		{"directory named index.html", map[string]string{"index.html/x": "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, tt.files)
			err := Validate(dir, "game_v")
			var me *MissingEntryPoint
			if tt.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.ok && !errors.As(err, &me) {
				t.Errorf("err = %v, want MissingEntryPoint", err)
			}
		})
	}
}

func TestDiscoverOutputPriority(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"out/a": "x", "build/a": "x"})
	got, err := DiscoverOutput(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(dir, "build") {
		t.Errorf("DiscoverOutput = %q, want build before out", got)
	}
}
