package storage

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "games_repo"), true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNewRequiresDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(filepath.Join(dir, "missing"), false); err == nil {
		t.Error("expected error for missing root without createDirs")
	}
	file := filepath.Join(dir, "file")
	writeFile(t, file, "x")
	if _, err := New(file, true); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestValidKey(t *testing.T) {
	valid := []string{"game_abc", "upload_1234abcd.html", "pong.html"}
	invalid := []string{"", ".", "..", ".hidden", "a/b", `a\b`, "../x"}
	for _, k := range valid {
		if !ValidKey(k) {
			t.Errorf("ValidKey(%q) = false", k)
		}
	}
	for _, k := range invalid {
		if ValidKey(k) {
			t.Errorf("ValidKey(%q) = true", k)
		}
	}
}

func TestCommitFileRefusesExisting(t *testing.T) {
	r := newTestRoot(t)

	tmp, err := r.WriteTemp([]byte("first"))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.CommitFile(tmp, "a.html"); err != nil {
		t.Fatalf("CommitFile: %v", err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("temp file should be gone after commit")
	}

	tmp2, err := r.WriteTemp([]byte("second"))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.CommitFile(tmp2, "a.html"); err == nil {
		t.Fatal("expected commit over existing file to fail")
	}
	data, _ := r.ReadDocument("a.html")
	if string(data) != "first" {
		t.Errorf("existing file clobbered: %q", data)
	}
}

func TestCreatePackageDirOnce(t *testing.T) {
	r := newTestRoot(t)
	if _, err := r.CreatePackageDir("game_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreatePackageDir("game_1"); err == nil {
		t.Error("expected second create to fail")
	}
	if _, err := r.CreatePackageDir("../escape"); err == nil {
		t.Error("expected invalid key to fail")
	}
}

func TestListLooseDocuments(t *testing.T) {
	r := newTestRoot(t)
	writeFile(t, filepath.Join(r.Path(), "b.html"), "b")
	writeFile(t, filepath.Join(r.Path(), "a.HTML"), "a")
	writeFile(t, filepath.Join(r.Path(), "notes.txt"), "n")
	writeFile(t, filepath.Join(r.Path(), ".funai-x.tmp"), "t")
	writeFile(t, filepath.Join(r.Path(), "game_1", "index.html"), "i")

	names, err := r.ListLooseDocuments()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "a.HTML" || names[1] != "b.html" {
		t.Errorf("ListLooseDocuments = %v", names)
	}
}

func TestReadEntry(t *testing.T) {
	r := newTestRoot(t)
	writeFile(t, filepath.Join(r.Path(), "game_1", "index.html"), "<div>Hi</div>")

	data, info, err := r.ReadEntry("game_1")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if string(data) != "<div>Hi</div>" || info.Size() != int64(len(data)) {
		t.Errorf("got %q size %d", data, info.Size())
	}

	if _, _, err := r.ReadEntry("game_2"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestSweepTemps(t *testing.T) {
	r := newTestRoot(t)
	old := filepath.Join(r.Path(), TempPrefix+"old.tmp")
	fresh := filepath.Join(r.Path(), TempPrefix+"fresh.tmp")
	writeFile(t, old, "x")
	writeFile(t, fresh, "y")
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	n, err := r.SweepTemps(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh temp should survive")
	}
}

func TestHandler(t *testing.T) {
	r := newTestRoot(t)
	writeFile(t, filepath.Join(r.Path(), "game_1", "index.html"), "<p>game</p>")
	writeFile(t, filepath.Join(r.Path(), "game_1", "js", "app.js"), "console.log(1)")
	writeFile(t, filepath.Join(r.Path(), "game_1", ".env"), "SECRET=1")
	writeFile(t, filepath.Join(r.Path(), "game_2", "readme.txt"), "no entry")
	writeFile(t, filepath.Join(r.Path(), "loose.html"), "loose")

	mux := http.NewServeMux()
	mux.Handle("GET /games/", r.Handler("games"))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/games/game_1/", http.StatusOK, "<p>game</p>"},
		{"/games/game_1/js/app.js", http.StatusOK, "console.log(1)"},
		{"/games/game_1/.env", http.StatusNotFound, ""},
		{"/games/game_2/", http.StatusNotFound, ""},
		{"/games/loose.html", http.StatusNotFound, ""},
		{"/games/game_1/missing.js", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("GET %s: status %d, want %d", tt.path, resp.StatusCode, tt.status)
			continue
		}
		if tt.body != "" && string(body) != tt.body {
			t.Errorf("GET %s: body %q, want %q", tt.path, body, tt.body)
		}
	}
}
