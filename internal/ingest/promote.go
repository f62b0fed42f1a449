package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hujiangang/funAI/internal/storage"
)

// Promote replaces the package directory dir with its build output
// directory output. The output is first moved to a hidden sibling in the
// storage root, the package directory is removed, and the sibling is moved
// into place. A crash between steps leaves either a hidden scratch
// directory or a package directory no catalog record points at; both are
// abandoned, never resumed.
func Promote(root *storage.Root, dir, output string) error {
	if filepath.Dir(output) != dir {
		return fmt.Errorf("output %s is not a direct child of %s", output, dir)
	}
	if err := rejectLinks(output); err != nil {
		return err
	}

	scratch := filepath.Join(root.Path(), storage.TempPrefix+"promote-"+filepath.Base(dir)+"-"+randomHex(8))
	if err := os.Rename(output, scratch); err != nil {
		return storageErr("move", output, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		os.RemoveAll(scratch)
		return storageErr("remove", dir, err)
	}
	if err := os.Rename(scratch, dir); err != nil {
		os.RemoveAll(scratch)
		return storageErr("move", dir, err)
	}
	return nil
}

// rejectLinks fails if the build output contains symbolic links, which the
// asset server would otherwise follow out of the package.
func rejectLinks(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return storageErr("walk", p, err)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			rel, _ := filepath.Rel(dir, p)
			return &BuildFailure{
				Phase:    "output",
				ExitCode: -1,
				Err:      fmt.Errorf("build output contains symbolic link %s", rel),
			}
		}
		return nil
	})
}
