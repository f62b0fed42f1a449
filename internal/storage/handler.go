package storage

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Handler serves multi-file package assets under /{route}/{key}/...
// Loose documents, hidden names and directories without an entry document
// all answer 404.
func (r *Root) Handler(route string) http.Handler {
	prefix := "/" + strings.Trim(route, "/")
	files := http.FileServer(http.Dir(r.path))

	return http.StripPrefix(prefix, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		clean := path.Clean("/" + req.URL.Path)
		segs := strings.Split(strings.TrimPrefix(clean, "/"), "/")
		if len(segs) == 0 || !ValidKey(segs[0]) {
			http.NotFound(w, req)
			return
		}
		for _, s := range segs {
			if strings.HasPrefix(s, ".") {
				http.NotFound(w, req)
				return
			}
		}

		pkg := filepath.Join(r.path, segs[0])
		if info, err := os.Stat(pkg); err != nil || !info.IsDir() {
			http.NotFound(w, req)
			return
		}

		target := filepath.Join(r.path, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
		info, err := os.Stat(target)
		if err != nil {
			http.NotFound(w, req)
			return
		}
		if info.IsDir() {
			if _, err := os.Stat(filepath.Join(target, EntryDocument)); err != nil {
				http.NotFound(w, req)
				return
			}
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, req)
	}))
}
