// Package storage manages the package storage root: loose single-file
// documents directly inside it and multi-file packages in key-named
// subdirectories. Names starting with a dot are private to the server
// (temp files, promotion scratch space) and are never listed or served.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TempPrefix marks in-flight files and directories inside the root.
const TempPrefix = ".funai-"

// EntryDocument is the file every multi-file package must expose.
const EntryDocument = "index.html"

// ErrInvalidKey is returned for names that are not a single safe path segment.
var ErrInvalidKey = errors.New("storage: invalid key")

// Root is a package storage root on the local filesystem.
type Root struct {
	path string
}

// New opens the storage root at path, creating it when createDirs is set.
func New(path string, createDirs bool) (*Root, error) {
	if path == "" {
		return nil, fmt.Errorf("storage root path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) && createDirs {
			if mkErr := os.MkdirAll(abs, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", abs, mkErr)
			}
			return &Root{path: abs}, nil
		}
		return nil, fmt.Errorf("stat root path %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", abs)
	}
	return &Root{path: abs}, nil
}

// Path returns the absolute root path.
func (r *Root) Path() string {
	return r.path
}

// ValidKey reports whether name is usable as a storage key.
func ValidKey(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

func (r *Root) join(key string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	return filepath.Join(r.path, key), nil
}

// PackageDir returns the directory path for a multi-file package key.
func (r *Root) PackageDir(key string) (string, error) {
	return r.join(key)
}

// CreatePackageDir creates the directory for key. It fails if anything
// already exists under that name, so a stale key is never reused.
func (r *Root) CreatePackageDir(key string) (string, error) {
	dir, err := r.join(key)
	if err != nil {
		return "", err
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", fmt.Errorf("create package dir %s: %w", key, err)
	}
	return dir, nil
}

// Exists reports whether key names an existing file or directory.
func (r *Root) Exists(key string) (bool, error) {
	p, err := r.join(key)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", key, err)
}

// WriteTemp writes data to a new hidden file in the root and returns its path.
func (r *Root) WriteTemp(data []byte) (string, error) {
	tmp, err := os.CreateTemp(r.path, TempPrefix+"*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod temp: %w", err)
	}
	return tmpName, nil
}

// CommitFile publishes a temp file under name. It fails without touching
// the destination if name already exists.
func (r *Root) CommitFile(tmpPath, name string) error {
	dst, err := r.join(name)
	if err != nil {
		return err
	}
	if err := os.Link(tmpPath, dst); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp for %s: %w", name, err)
	}
	return nil
}

// WriteFileAtomic replaces (or creates) a loose file via temp file and rename.
func (r *Root) WriteFileAtomic(name string, data []byte) error {
	dst, err := r.join(name)
	if err != nil {
		return err
	}
	tmpName, err := r.WriteTemp(data)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", name, err)
	}
	return nil
}

// ReadDocument reads a loose file.
func (r *Root) ReadDocument(name string) ([]byte, error) {
	p, err := r.join(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Remove deletes a loose file. Missing files are not an error.
func (r *Root) Remove(name string) error {
	p, err := r.join(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// RemoveAll deletes a package directory and everything under it.
func (r *Root) RemoveAll(key string) error {
	p, err := r.join(key)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// OpenEntry opens the entry document of a multi-file package.
func (r *Root) OpenEntry(key string) (*os.File, fs.FileInfo, error) {
	dir, err := r.join(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(filepath.Join(dir, EntryDocument))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, fmt.Errorf("%s/%s is not a regular file: %w", key, EntryDocument, fs.ErrNotExist)
	}
	return f, info, nil
}

// ReadEntry returns the entry document bytes and file info.
func (r *Root) ReadEntry(key string) ([]byte, fs.FileInfo, error) {
	f, info, err := r.OpenEntry(key)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

// ListLooseDocuments returns the names of regular *.html files directly in
// the root, sorted. Hidden names and directories are skipped.
func (r *Root) ListLooseDocuments() ([]string, error) {
	entries, err := os.ReadDir(r.path)
	if err != nil {
		return nil, fmt.Errorf("read root: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !e.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(name), ".html") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// SweepTemps removes hidden in-flight entries older than maxAge. They are
// left behind only when the process dies mid-ingestion.
func (r *Root) SweepTemps(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(r.path)
	if err != nil {
		return 0, fmt.Errorf("read root: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), TempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.path, e.Name())); err != nil {
			return removed, fmt.Errorf("sweep %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
