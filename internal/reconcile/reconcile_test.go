package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hujiangang/funAI/internal/catalog"
	"github.com/hujiangang/funAI/internal/catalog/sqlstore"
	"github.com/hujiangang/funAI/internal/events"
	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/storage"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func setup(t *testing.T) (*sqlstore.Store, *storage.Root, *recorder, *Reconciler) {
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
	rec := &recorder{}
	return store, root, rec, New(store, root, rec)
}

func write(t *testing.T, root *storage.Root, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root.Path(), name), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func snapshot(t *testing.T, store catalog.Store) map[string]catalog.Game {
	t.Helper()
	games, err := store.List(context.Background(), 500)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]catalog.Game, len(games))
	for _, g := range games {
		full, err := store.Get(context.Background(), g.ID)
		if err != nil {
			t.Fatal(err)
		}
		out[full.StorageKey()] = *full
	}
	return out
}

func TestRunCreatesRecords(t *testing.T) {
	store, root, rec, r := setup(t)
	write(t, root, "pong.html", "<html><title>Pong</title></html>")
	write(t, root, "space_invaders-v2.HTML", "<p>no title</p>")
	write(t, root, "notes.txt", "ignored")
	write(t, root, ".hidden.html", "ignored")
	if err := os.Mkdir(filepath.Join(root.Path(), "game_pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	write(t, root, "game_pkg/index.html", "<p>package</p>")

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Created != 2 || rep.Scanned != 2 || rep.Failed != 0 {
		t.Errorf("report = %+v", rep)
	}

	games := snapshot(t, store)
	if games["pong.html"].Title != "Pong" {
		t.Errorf("pong title = %q", games["pong.html"].Title)
	}
	if games["pong.html"].Description != catalog.DefaultImportedDescription {
		t.Errorf("pong description = %q", games["pong.html"].Description)
	}
	inv := games["space_invaders-v2.HTML"]
	if inv.Title != "Space Invaders V2" || inv.Mode != catalog.SingleFile || inv.HTMLCode != "<p>no title</p>" {
		t.Errorf("invaders record = %+v", inv)
	}
	if len(rec.events) != 1 || rec.events[0].Type != events.EventReconciled || rec.events[0].Created != 2 {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	store, root, rec, r := setup(t)
	write(t, root, "a.html", "<title>A</title>")
	write(t, root, "b.html", "<title>B</title>")

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := snapshot(t, store)

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Changed() || rep.Unchanged != 2 {
		t.Errorf("second run report = %+v, want no writes", rep)
	}
	after := snapshot(t, store)
	if len(before) != len(after) {
		t.Fatalf("record count changed: %d -> %d", len(before), len(after))
	}
	for k, g := range before {
		if after[k] != g {
			t.Errorf("record %s changed on second run:\n%+v\n%+v", k, g, after[k])
		}
	}
	if len(rec.events) != 1 {
		t.Errorf("second run published events: %+v", rec.events)
	}
}

func TestRunRefreshesContentOnly(t *testing.T) {
	store, root, _, r := setup(t)
	ctx := context.Background()
	g := &catalog.Game{
		Title:       "Curated Title",
		Author:      "bob",
		Filename:    "game.html",
		HTMLCode:    "<title>Old</title>",
		ContentHash: catalog.HashContent([]byte("<title>Old</title>")),
		Mode:        catalog.SingleFile,
	}
	g.ApplyDefaults()
	if err := store.Create(ctx, g); err != nil {
		t.Fatal(err)
	}
	write(t, root, "game.html", "<title>New</title>")

	rep, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Updated != 1 || rep.Created != 0 {
		t.Errorf("report = %+v", rep)
	}
	got, err := store.Get(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.HTMLCode != "<title>New</title>" {
		t.Errorf("content = %q", got.HTMLCode)
	}
	if got.Title != "Curated Title" || got.Author != "bob" {
		t.Errorf("descriptive fields overwritten: %+v", got)
	}
}

func TestRunComparesBytesWithoutHash(t *testing.T) {
	store, root, _, r := setup(t)
	ctx := context.Background()
	g := &catalog.Game{Title: "Legacy", Filename: "legacy.html", HTMLCode: "<p>same</p>", Mode: catalog.SingleFile}
	g.ApplyDefaults()
	if err := store.Create(ctx, g); err != nil {
		t.Fatal(err)
	}
	write(t, root, "legacy.html", "<p>same</p>")

	rep, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Unchanged != 1 || rep.Changed() {
		t.Errorf("report = %+v", rep)
	}
}

func TestRunKeepsRecordsForDeletedFiles(t *testing.T) {
	store, root, _, r := setup(t)
	write(t, root, "gone.html", "<title>Gone</title>")
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root.Path(), "gone.html")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := store.FindByFilename(context.Background(), "gone.html"); err != nil {
		t.Errorf("record removed for deleted file: %v", err)
	}
}

func TestRunConcurrent(t *testing.T) {
	store, root, _, r := setup(t)
	for _, name := range []string{"a.html", "b.html", "c.html", "d.html"} {
		write(t, root, name, "<title>"+name+"</title>")
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := r.Run(context.Background())
			if err == nil && rep.Failed > 0 {
				err = errFailed(rep)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent run: %v", err)
		}
	}
	if n := len(snapshot(t, store)); n != 4 {
		t.Errorf("records = %d, want 4", n)
	}
}

type errFailed Report

func (e errFailed) Error() string { return "run reported failures" }

func TestRunCancelled(t *testing.T) {
	_, root, _, r := setup(t)
	write(t, root, "a.html", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
