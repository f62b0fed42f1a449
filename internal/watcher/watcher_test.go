package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/storage"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

func startWatcher(t *testing.T) (*storage.Root, chan []Change) {
	t.Helper()
	root, err := storage.New(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root.Path(), "initial.html"), []byte("hello"), 0644); err != nil {
		t.Fatalf("Failed to create initial file: %v", err)
	}

	calls := make(chan []Change, 10)
	w := New(root, 50*time.Millisecond, func(_ context.Context, c []Change) { calls <- c })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return root, calls
}

func waitFor(t *testing.T, calls chan []Change, typ, name string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case changes := <-calls:
			for _, c := range changes {
				if c.Type == typ && c.Name == name {
					return
				}
			}
		case <-deadline:
			t.Fatalf("Timeout waiting for %s %s", typ, name)
		}
	}
}

func TestWatcher_CreateTriggers(t *testing.T) {
	root, calls := startWatcher(t)
	if err := os.WriteFile(filepath.Join(root.Path(), "new.html"), []byte("world"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, calls, ChangeCreate, "new.html")
}

func TestWatcher_ModifyTriggers(t *testing.T) {
	root, calls := startWatcher(t)
	p := filepath.Join(root.Path(), "initial.html")
	if err := os.WriteFile(p, []byte("hello, modified"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, calls, ChangeModify, "initial.html")
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	root, calls := startWatcher(t)
	if err := os.WriteFile(filepath.Join(root.Path(), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root.Path(), "game_pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root.Path(), "initial.html")); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-calls:
		t.Errorf("unexpected trigger: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDiff(t *testing.T) {
	old := map[string]fileState{"a.html": {1, 1}, "b.html": {1, 1}}
	cur := map[string]fileState{"a.html": {1, 1}, "b.html": {2, 1}, "c.html": {1, 1}}
	got := map[string]string{}
	for _, c := range diff(old, cur) {
		got[c.Name] = c.Type
	}
	if got["b.html"] != ChangeModify || got["c.html"] != ChangeCreate || len(got) != 2 {
		t.Errorf("diff = %v", got)
	}
	if changes := diff(cur, map[string]fileState{}); len(changes) != 3 {
		t.Errorf("deletions = %v", changes)
	}
}
