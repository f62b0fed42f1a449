package content

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hujiangang/funAI/internal/catalog"
	"github.com/hujiangang/funAI/internal/catalog/sqlstore"
	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/storage"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

func TestInjectBase(t *testing.T) {
	const href = "/games/game_abc/"
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "no head prepends",
			doc:  "<div>Hi</div>",
			want: `<base href="/games/game_abc/"><div>Hi</div>`,
		},
		{
			name: "after head",
			doc:  "<html><head><title>x</title></head></html>",
			want: `<html><head><base href="/games/game_abc/"><title>x</title></head></html>`,
		},
		{
			name: "uppercase head with attributes",
			doc:  "<!DOCTYPE html>\n<HTML><HEAD lang=\"en\">\n<link href=\"a.css\">",
			want: "<!DOCTYPE html>\n<HTML><HEAD lang=\"en\"><base href=\"/games/game_abc/\">\n<link href=\"a.css\">",
		},
		{
			name: "head after body",
			doc:  "<html><body><head></head>",
			want: `<html><body><head><base href="/games/game_abc/"></head>`,
		},
		{
			name: "header is not head",
			doc:  "<header>top</header>",
			want: `<base href="/games/game_abc/"><header>top</header>`,
		},
		{
			name: "empty",
			doc:  "",
			want: `<base href="/games/game_abc/">`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(InjectBase([]byte(tt.doc), href)); got != tt.want {
				t.Errorf("InjectBase() = %q, want %q", got, tt.want)
			}
		})
	}
}

type fixture struct {
	store  *sqlstore.Store
	root   *storage.Root
	server *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlstore.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "games.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	root, err := storage.New(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := NewServer(store, root, "games", 4)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{store: store, root: root, server: srv}
}

func (f *fixture) addPackage(t *testing.T, key, entry string) *catalog.Game {
	t.Helper()
	dir, err := f.root.CreatePackageDir(key)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, storage.EntryDocument), []byte(entry), 0644); err != nil {
		t.Fatal(err)
	}
	g := &catalog.Game{Title: key, Mode: catalog.MultiFile, Directory: key}
	g.ApplyDefaults()
	if err := f.store.Create(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestRenderSingleFileVerbatim(t *testing.T) {
	f := newFixture(t)
	html := "<html><head><title>Pong</title></head></html>"
	g := &catalog.Game{Title: "Pong", Filename: "pong.html", HTMLCode: html, Mode: catalog.SingleFile}
	g.ApplyDefaults()
	if err := f.store.Create(context.Background(), g); err != nil {
		t.Fatal(err)
	}

	doc, err := f.server.Render(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(doc.Body) != html {
		t.Errorf("body = %q, want verbatim %q", doc.Body, html)
	}
}

func TestRenderSingleFileFallsBackToDisk(t *testing.T) {
	f := newFixture(t)
	if err := f.root.WriteFileAtomic("loose.html", []byte("<p>disk</p>")); err != nil {
		t.Fatal(err)
	}
	g := &catalog.Game{Title: "Loose", Filename: "loose.html", Mode: catalog.SingleFile}
	g.ApplyDefaults()
	if err := f.store.Create(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	doc, err := f.server.Render(context.Background(), g.ID)
	if err != nil || string(doc.Body) != "<p>disk</p>" {
		t.Errorf("Render = %q, %v", doc.Body, err)
	}
}

func TestRenderPackage(t *testing.T) {
	f := newFixture(t)
	g := f.addPackage(t, "game_hi", "<div>Hi</div>")

	doc, err := f.server.Render(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := `<base href="/games/game_hi/"><div>Hi</div>`
	if string(doc.Body) != want {
		t.Errorf("body = %q, want %q", doc.Body, want)
	}
	if doc.Mode != catalog.MultiFile || doc.Key != "game_hi" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestRenderPackageSeesRewrites(t *testing.T) {
	f := newFixture(t)
	g := f.addPackage(t, "game_edit", "<p>one</p>")
	if _, err := f.server.Render(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	entry := filepath.Join(f.root.Path(), "game_edit", storage.EntryDocument)
	if err := os.WriteFile(entry, []byte("<p>second</p>"), 0644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(entry, later, later); err != nil {
		t.Fatal(err)
	}

	doc, err := f.server.Render(context.Background(), g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want := `<base href="/games/game_edit/"><p>second</p>`; string(doc.Body) != want {
		t.Errorf("body = %q, want %q", doc.Body, want)
	}
}

func TestRenderNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.server.Render(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}

	g := f.addPackage(t, "game_gone", "<p>x</p>")
	if err := f.root.RemoveAll("game_gone"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.server.Render(context.Background(), g.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("drifted package err = %v, want ErrNotFound", err)
	}
}
