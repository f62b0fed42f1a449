package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OutputDirs lists the conventional build output directory names in
// priority order. The first one present wins.
var OutputDirs = []string{"dist", "build", "out"}

// DiscoverOutput returns the path of the first conventional output
// directory found at the root of dir. A symlink never counts as an output
// directory.
func DiscoverOutput(dir string) (string, error) {
	for _, name := range OutputDirs {
		p := filepath.Join(dir, name)
		info, err := os.Lstat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", storageErr("stat", name, err)
		}
		if info.IsDir() {
			return p, nil
		}
	}
	return "", &BuildFailure{
		Phase:    "output",
		ExitCode: -1,
		Err:      fmt.Errorf("build produced no output directory (looked for %s)", strings.Join(OutputDirs, ", ")),
	}
}
