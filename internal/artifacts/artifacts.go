// Package artifacts retains ingestion byproducts outside the storage root:
// the raw uploaded archive of every multi-file package and the captured
// output of failed builds. Retention is best effort; the pipeline never
// fails because of it.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/metrics"
	"github.com/hujiangang/funAI/internal/retry"
)

// ErrNotFound matches errors returned by Get for missing objects. Backends
// wrap fs.ErrNotExist so they need not import this package.
var ErrNotFound = fs.ErrNotExist

// Backend is raw object I/O for artifact storage.
type Backend interface {
	// Put uploads body to key.
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// Get opens the object at key. Missing objects return an error
	// wrapping fs.ErrNotExist.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Delete removes an object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// Object key layout.
const (
	uploadsPrefix   = "uploads/"
	buildLogsPrefix = "build-logs/"
)

// uploadExts are the extensions raw uploads may be stored under.
var uploadExts = []string{"zip", "tar", "tar.gz", "tar.zst", "tar.lz4"}

// Store wraps a Backend with the artifact key layout.
type Store struct {
	backend Backend
	retry   retry.Config
}

// NewStore wraps backend. Writes are retried with retry.DefaultConfig.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend, retry: retry.DefaultConfig()}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

func (s *Store) record(op string, start time.Time, err error) {
	metrics.RecordArtifactOperation(s.backend.Type(), op, time.Since(start), err == nil)
}

// SaveUpload copies the raw archive at path to uploads/<key>.<ext>.
func (s *Store) SaveUpload(ctx context.Context, key, ext, path string) error {
	start := time.Now()
	err := s.put(ctx, uploadsPrefix+key+"."+ext, func() (io.ReadCloser, int64, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, fmt.Errorf("open upload: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("stat upload: %w", err)
		}
		return f, info.Size(), nil
	})
	s.record("save_upload", start, err)
	return err
}

// SaveBuildLog stores failed build output as build-logs/<key>.log.
func (s *Store) SaveBuildLog(ctx context.Context, key string, output []byte) error {
	start := time.Now()
	err := s.put(ctx, buildLogsPrefix+key+".log", func() (io.ReadCloser, int64, error) {
		return io.NopCloser(bytes.NewReader(output)), int64(len(output)), nil
	})
	s.record("save_build_log", start, err)
	return err
}

// put uploads a fresh body from open on every attempt. Only backend write
// errors are retried.
func (s *Store) put(ctx context.Context, objectKey string, open func() (io.ReadCloser, int64, error)) error {
	return retry.Do(ctx, s.retry, func(attempt int) error {
		body, size, err := open()
		if err != nil {
			return err
		}
		defer body.Close()

		err = s.backend.Put(ctx, objectKey, body, size)
		if err == nil || ctx.Err() != nil {
			return err
		}
		logging.WithContext(ctx).Debug("artifact write failed",
			logging.String("object", objectKey), logging.Int("attempt", attempt), logging.Err(err))
		return retry.Retryable(err)
	})
}

// BuildLog returns the stored build output for key.
func (s *Store) BuildLog(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	rc, _, err := s.backend.Get(ctx, buildLogsPrefix+key+".log")
	s.record("get_build_log", start, err)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// DeleteFor removes every artifact retained for key.
func (s *Store) DeleteFor(ctx context.Context, key string) error {
	start := time.Now()
	var errs []error
	for _, ext := range uploadExts {
		if err := s.backend.Delete(ctx, uploadsPrefix+key+"."+ext); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.backend.Delete(ctx, buildLogsPrefix+key+".log"); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	s.record("delete", start, err)
	if err != nil {
		logging.WithContext(ctx).Warn("artifact cleanup incomplete",
			logging.Key(key), logging.Err(err))
	}
	return err
}
