// Package content renders the playable document of a catalogued game.
//
// Content is never executed, interpreted or sanitized here. Multi-file
// entry documents get a <base> element so relative asset references
// resolve against the package's public storage route.
package content

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hujiangang/funAI/internal/catalog"
	"github.com/hujiangang/funAI/internal/htmldoc"
	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/metrics"
	"github.com/hujiangang/funAI/internal/storage"
)

// ErrNotFound is returned when a game is unknown or its entry document is
// missing from storage.
var ErrNotFound = errors.New("content: not found")

// DefaultCacheSize is the number of rewritten entry documents kept.
const DefaultCacheSize = 256

// Document is a rendered entry document.
type Document struct {
	ID   int64
	Mode catalog.Mode
	Key  string
	Body []byte
}

// cacheKey changes whenever the entry document is rewritten on disk.
type cacheKey struct {
	key     string
	modTime int64
	size    int64
}

// Server renders entry documents.
type Server struct {
	store catalog.Store
	root  *storage.Root
	route string
	cache *lru.Cache[cacheKey, []byte]
}

// NewServer creates a content server. route is the public path segment
// package directories are served under, without slashes.
func NewServer(store catalog.Store, root *storage.Root, route string, cacheSize int) (*Server, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create content cache: %w", err)
	}
	return &Server{store: store, root: root, route: route, cache: cache}, nil
}

// BaseHref returns the public base path of a multi-file package.
func (s *Server) BaseHref(key string) string {
	return "/" + s.route + "/" + key + "/"
}

// Render returns the document to present for game id.
func (s *Server) Render(ctx context.Context, id int64) (*Document, error) {
	g, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("game %d: %w", id, ErrNotFound)
		}
		return nil, err
	}

	doc := &Document{ID: g.ID, Mode: g.Mode, Key: g.StorageKey()}
	if g.Mode == catalog.MultiFile {
		doc.Body, err = s.renderPackage(ctx, g.Directory)
	} else {
		doc.Body, err = s.renderSingle(g)
	}
	metrics.RecordContentServe(string(g.Mode), err == nil)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// renderSingle returns the cached markup verbatim. Records without a
// cached body fall back to the loose file.
func (s *Server) renderSingle(g *catalog.Game) ([]byte, error) {
	if g.HTMLCode != "" {
		return []byte(g.HTMLCode), nil
	}
	data, err := s.root.ReadDocument(g.Filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrInvalidKey) {
			return nil, fmt.Errorf("document %s: %w", g.Filename, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (s *Server) renderPackage(ctx context.Context, key string) ([]byte, error) {
	f, info, err := s.root.OpenEntry(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrInvalidKey) {
			logging.WithContext(ctx).Warn("entry document missing for catalogued package", logging.Key(key))
			return nil, fmt.Errorf("package %s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()

	ck := cacheKey{key: key, modTime: info.ModTime().UnixNano(), size: info.Size()}
	if body, ok := s.cache.Get(ck); ok {
		metrics.RecordContentCacheHit()
		return body, nil
	}

	data := make([]byte, info.Size())
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, fmt.Errorf("read %s entry: %w", key, err)
	}
	body := InjectBase(data, s.BaseHref(key))
	s.cache.Add(ck, body)
	return body, nil
}

// InjectBase inserts <base href="..."> right after the first opening head
// tag, or prepends it when the document has none. Nothing else changes.
func InjectBase(doc []byte, href string) []byte {
	tag := `<base href="` + html.EscapeString(href) + `">`
	at := htmldoc.HeadEnd(doc)
	if at < 0 {
		at = 0
	}
	out := make([]byte, 0, len(doc)+len(tag))
	out = append(out, doc[:at]...)
	out = append(out, tag...)
	return append(out, doc[at:]...)
}
