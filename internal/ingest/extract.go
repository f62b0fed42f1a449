package ingest

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/storage"
)

// Format is a detected archive format.
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
	FormatTarLz4 Format = "tar.lz4"
)

// Ext returns the conventional file extension for the format.
func (f Format) Ext() string {
	return string(f)
}

var (
	magicZip      = []byte("PK\x03\x04")
	magicZipEmpty = []byte("PK\x05\x06")
	magicGzip     = []byte{0x1f, 0x8b}
	magicZstd     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLz4      = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Limits bounds what a single archive may expand to.
type Limits struct {
	MaxFiles int   // files plus directory entries, 0 = unlimited
	MaxBytes int64 // total uncompressed bytes, 0 = unlimited
}

// Extractor unpacks uploaded archives into fresh package directories.
type Extractor struct {
	root   *storage.Root
	limits Limits
}

// NewExtractor creates an extractor writing under root.
func NewExtractor(root *storage.Root, limits Limits) *Extractor {
	return &Extractor{root: root, limits: limits}
}

// DetectFormat identifies the archive format from its leading bytes.
func DetectFormat(head []byte) (Format, bool) {
	switch {
	case bytes.HasPrefix(head, magicZip), bytes.HasPrefix(head, magicZipEmpty):
		return FormatZip, true
	case bytes.HasPrefix(head, magicGzip):
		return FormatTarGz, true
	case bytes.HasPrefix(head, magicZstd):
		return FormatTarZst, true
	case bytes.HasPrefix(head, magicLz4):
		return FormatTarLz4, true
	case len(head) >= 262 && string(head[257:262]) == "ustar":
		return FormatTar, true
	}
	return "", false
}

// Extract creates the directory for key under the storage root and fully
// decompresses r into it. On any failure the directory is removed before
// the error is returned.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, key string) (dir string, format Format, err error) {
	br := bufio.NewReaderSize(r, 64*1024)
	head, _ := br.Peek(512)
	format, ok := DetectFormat(head)
	if !ok {
		if len(head) == 0 {
			return "", "", &ExtractionError{Reason: "archive is empty"}
		}
		return "", "", &ExtractionError{Reason: "unrecognized archive format"}
	}

	dir, err = e.root.CreatePackageDir(key)
	if err != nil {
		return "", "", storageErr("create", key, err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				logging.WithContext(ctx).Error("failed to remove partial package",
					logging.Key(key), logging.Err(rmErr))
			}
			dir = ""
		}
	}()

	x := &extraction{ctx: ctx, dir: dir, limits: e.limits}
	switch format {
	case FormatZip:
		err = e.extractZip(x, br)
	case FormatTar:
		err = x.untar(br)
	case FormatTarGz:
		var zr *gzip.Reader
		if zr, err = gzip.NewReader(br); err != nil {
			return "", "", &ExtractionError{Reason: "malformed gzip stream", Err: err}
		}
		defer zr.Close()
		err = x.untar(zr)
	case FormatTarZst:
		var zr *zstd.Decoder
		if zr, err = zstd.NewReader(br, zstd.WithDecoderConcurrency(1)); err != nil {
			return "", "", &ExtractionError{Reason: "malformed zstd stream", Err: err}
		}
		defer zr.Close()
		err = x.untar(zr)
	case FormatTarLz4:
		err = x.untar(lz4.NewReader(br))
	}
	if err != nil {
		return "", "", err
	}

	if x.files == 0 {
		return "", "", &ExtractionError{Reason: "archive is empty"}
	}
	if err = flattenWrapper(dir); err != nil {
		return "", "", storageErr("flatten", key, err)
	}

	logging.WithContext(ctx).Debug("archive extracted",
		logging.Key(key),
		logging.String("format", string(format)),
		logging.Int("files", x.files),
		logging.Int64("bytes", x.written),
	)
	return dir, format, nil
}

// extractZip spools the stream to a hidden temp file because zip needs
// random access to its central directory.
func (e *Extractor) extractZip(x *extraction, r io.Reader) error {
	tmp, err := os.CreateTemp(e.root.Path(), storage.TempPrefix+"zip-*")
	if err != nil {
		return storageErr("spool", "zip", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return storageErr("spool", "zip", err)
	}

	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return &ExtractionError{Reason: "malformed zip archive", Err: err}
	}

	for _, f := range zr.File {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := x.mkdir(f.Name); err != nil {
				return err
			}
		case mode&fs.ModeSymlink != 0:
			return &ExtractionError{Entry: f.Name, Reason: "symbolic links are not allowed"}
		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return &ExtractionError{Entry: f.Name, Reason: "unreadable entry", Err: err}
			}
			err = x.writeFile(f.Name, rc, mode)
			rc.Close()
			if err != nil {
				return err
			}
		default:
			return &ExtractionError{Entry: f.Name, Reason: "unsupported entry type"}
		}
	}
	return nil
}

// extraction tracks one archive being written into dir.
type extraction struct {
	ctx     context.Context
	dir     string
	limits  Limits
	entries int // files and directories, checked against MaxFiles
	files   int
	written int64
}

func (x *extraction) countEntry() error {
	x.entries++
	if x.limits.MaxFiles > 0 && x.entries > x.limits.MaxFiles {
		return &ExtractionError{Reason: fmt.Sprintf("archive has more than %d entries", x.limits.MaxFiles)}
	}
	return nil
}

func (x *extraction) untar(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ExtractionError{Reason: "malformed tar stream", Err: err}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := x.mkdir(hdr.Name); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := x.writeFile(hdr.Name, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			return &ExtractionError{Entry: hdr.Name, Reason: "links are not allowed"}
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			// PAX metadata, nothing to write.
		default:
			return &ExtractionError{Entry: hdr.Name, Reason: "unsupported entry type"}
		}
	}
}

// target resolves an archive entry name inside x.dir. It returns "" for
// entries that should be skipped.
func (x *extraction) target(name string) (string, error) {
	n := strings.ReplaceAll(name, `\`, "/")
	if path.IsAbs(n) || filepath.VolumeName(n) != "" || strings.ContainsRune(n, 0) {
		return "", &ExtractionError{Entry: name, Reason: "absolute path"}
	}
	clean := path.Clean(n)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", &ExtractionError{Entry: name, Reason: "path escapes package directory"}
	}
	if clean == "." || clean == "__MACOSX" || strings.HasPrefix(clean, "__MACOSX/") {
		return "", nil
	}

	full := filepath.Join(x.dir, filepath.FromSlash(clean))
	rel, err := filepath.Rel(x.dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &ExtractionError{Entry: name, Reason: "path escapes package directory"}
	}
	return full, nil
}

func (x *extraction) mkdir(name string) error {
	full, err := x.target(name)
	if err != nil || full == "" {
		return err
	}
	if err := x.countEntry(); err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0755); err != nil {
		return &ExtractionError{Entry: name, Reason: "cannot create directory", Err: err}
	}
	return nil
}

func (x *extraction) writeFile(name string, r io.Reader, mode fs.FileMode) error {
	full, err := x.target(name)
	if err != nil || full == "" {
		return err
	}

	if err := x.countEntry(); err != nil {
		return err
	}
	x.files++

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return &ExtractionError{Entry: name, Reason: "cannot create directory", Err: err}
	}

	perm := fs.FileMode(0644)
	if mode&0111 != 0 {
		perm = 0755
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return &ExtractionError{Entry: name, Reason: "cannot create file", Err: err}
	}

	src := r
	if x.limits.MaxBytes > 0 {
		src = io.LimitReader(r, x.limits.MaxBytes-x.written+1)
	}
	n, err := io.Copy(f, src)
	x.written += n
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return &ExtractionError{Entry: name, Reason: "cannot write file", Err: err}
	}
	if x.limits.MaxBytes > 0 && x.written > x.limits.MaxBytes {
		return &ExtractionError{Reason: fmt.Sprintf("archive expands beyond %d bytes", x.limits.MaxBytes)}
	}
	return nil
}

// flattenWrapper hoists the contents of a lone top-level directory, so an
// archive of "mygame/index.html" serves the same as one of "index.html".
func flattenWrapper(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	wrapper := filepath.Join(dir, entries[0].Name())
	scratch := filepath.Join(dir, storage.TempPrefix+"wrap-"+randomHex(8))
	if err := os.Rename(wrapper, scratch); err != nil {
		return err
	}
	children, err := os.ReadDir(scratch)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := os.Rename(filepath.Join(scratch, c.Name()), filepath.Join(dir, c.Name())); err != nil {
			return err
		}
	}
	return os.Remove(scratch)
}
