package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	entries := []entry{{name: "index.html", body: "<p>x</p>"}}
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"zip", makeZip(t, entries), FormatZip},
		{"tar", makeTar(t, entries), FormatTar},
		{"tar.gz", makeTarGz(t, entries), FormatTarGz},
		{"tar.zst", makeTarZst(t, entries), FormatTarZst},
		{"tar.lz4", makeTarLz4(t, entries), FormatTarLz4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectFormat(tt.data)
			if !ok || got != tt.want {
				t.Errorf("DetectFormat = %q, %v; want %q", got, ok, tt.want)
			}
		})
	}
	if _, ok := DetectFormat([]byte("<html>")); ok {
		t.Error("plain HTML should not be detected as an archive")
	}
}

func TestExtractFormats(t *testing.T) {
	entries := []entry{
		{name: "index.html", body: "<div>Hi</div>"},
		{name: "js/game.js", body: "console.log(1)"},
	}
	builders := map[string]func(*testing.T, []entry) []byte{
		"zip":     makeZip,
		"tar":     makeTar,
		"tar.gz":  makeTarGz,
		"tar.zst": makeTarZst,
		"tar.lz4": makeTarLz4,
	}
	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			root := newRoot(t)
			x := NewExtractor(root, Limits{})
			dir, format, err := x.Extract(context.Background(), bytes.NewReader(build(t, entries)), "game_test")
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if string(format) != name {
				t.Errorf("format = %q, want %q", format, name)
			}
			got, err := os.ReadFile(filepath.Join(dir, "js", "game.js"))
			if err != nil || string(got) != "console.log(1)" {
				t.Errorf("js/game.js = %q, %v", got, err)
			}
		})
	}
}

func TestExtractFlattensWrapper(t *testing.T) {
	root := newRoot(t)
	data := makeZip(t, []entry{
		{name: "mygame", dirOnly: true},
		{name: "mygame/index.html", body: "<p>ok</p>"},
		{name: "__MACOSX/mygame/._index.html", body: "junk"},
	})
	dir, _, err := NewExtractor(root, Limits{}).Extract(context.Background(), bytes.NewReader(data), "game_wrap")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err != nil {
		t.Errorf("index.html not hoisted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "__MACOSX")); !os.IsNotExist(err) {
		t.Errorf("__MACOSX should be skipped, stat err = %v", err)
	}
}

func TestExtractRejectsUnsafeArchives(t *testing.T) {
	tests := []struct {
		name string
		data func(*testing.T) []byte
	}{
		{"traversal", func(t *testing.T) []byte {
			return makeTarGz(t, []entry{
				{name: "index.html", body: "ok"},
				{name: "../evil.html", body: "pwned"},
			})
		}},
		{"nested traversal", func(t *testing.T) []byte {
			return makeTar(t, []entry{
				{name: "a/index.html", body: "ok"},
				{name: "a/../../evil.html", body: "pwned"},
			})
		}},
		{"absolute", func(t *testing.T) []byte {
			return makeTar(t, []entry{{name: "/etc/evil", body: "pwned"}})
		}},
		{"symlink", func(t *testing.T) []byte {
			return makeTar(t, []entry{
				{name: "index.html", body: "ok"},
				{name: "link", typ: '2', linkTo: "/etc/passwd"},
			})
		}},
		{"hardlink", func(t *testing.T) []byte {
			return makeTar(t, []entry{
				{name: "index.html", body: "ok"},
				{name: "link", typ: '1', linkTo: "index.html"},
			})
		}},
		{"empty zip", func(t *testing.T) []byte { return makeZip(t, nil) }},
		{"empty stream", func(*testing.T) []byte { return nil }},
		{"garbage", func(*testing.T) []byte { return []byte("definitely not an archive") }},
		{"truncated gzip", func(t *testing.T) []byte {
			data := makeTarGz(t, []entry{{name: "index.html", body: "ok"}})
			return data[:len(data)/2]
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRoot(t)
			_, _, err := NewExtractor(root, Limits{}).Extract(context.Background(), bytes.NewReader(tt.data(t)), "game_bad")
			var ee *ExtractionError
			if !errors.As(err, &ee) {
				t.Fatalf("err = %v, want ExtractionError", err)
			}
			if names := rootEntries(t, root); len(names) != 0 {
				t.Errorf("storage root not clean after failure: %v", names)
			}
			if _, statErr := os.Stat(filepath.Join(root.Path(), "..", "evil.html")); statErr == nil {
				t.Error("traversal entry escaped the storage root")
			}
		})
	}
}

func TestExtractLimits(t *testing.T) {
	entries := []entry{
		{name: "index.html", body: "0123456789"},
		{name: "a.js", body: "0123456789"},
		{name: "b.js", body: "0123456789"},
	}
	tests := []struct {
		name   string
		limits Limits
	}{
		{"file count", Limits{MaxFiles: 2}},
		{"total bytes", Limits{MaxBytes: 25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRoot(t)
			_, _, err := NewExtractor(root, tt.limits).Extract(context.Background(), bytes.NewReader(makeZip(t, entries)), "game_big")
			var ee *ExtractionError
			if !errors.As(err, &ee) {
				t.Fatalf("err = %v, want ExtractionError", err)
			}
			if names := rootEntries(t, root); len(names) != 0 {
				t.Errorf("storage root not clean: %v", names)
			}
		})
	}

	root := newRoot(t)
	if _, _, err := NewExtractor(root, Limits{MaxFiles: 3, MaxBytes: 30}).Extract(
		context.Background(), bytes.NewReader(makeZip(t, entries)), "game_fits"); err != nil {
		t.Fatalf("archive at the limits should extract: %v", err)
	}
}

func TestExtractCountsDirectories(t *testing.T) {
	var entries []entry
	for i := 0; i < 50; i++ {
		entries = append(entries, entry{name: fmt.Sprintf("d%02d/", i), dirOnly: true})
	}
	entries = append(entries, entry{name: "index.html", body: "x"})

	root := newRoot(t)
	_, _, err := NewExtractor(root, Limits{MaxFiles: 10}).Extract(
		context.Background(), bytes.NewReader(makeTar(t, entries)), "game_dirs")
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want ExtractionError", err)
	}
	if names := rootEntries(t, root); len(names) != 0 {
		t.Errorf("storage root not clean: %v", names)
	}
}

func TestExtractRefusesExistingKey(t *testing.T) {
	root := newRoot(t)
	if err := os.Mkdir(filepath.Join(root.Path(), "game_taken"), 0755); err != nil {
		t.Fatal(err)
	}
	data := makeZip(t, []entry{{name: "index.html", body: "x"}})
	_, _, err := NewExtractor(root, Limits{}).Extract(context.Background(), bytes.NewReader(data), "game_taken")
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StorageError", err)
	}
	if _, err := os.Stat(filepath.Join(root.Path(), "game_taken")); err != nil {
		t.Errorf("existing directory must be left alone: %v", err)
	}
}
