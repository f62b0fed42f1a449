package ingest

import (
	"os"

	"github.com/hujiangang/funAI/internal/storage"
)

// Validate checks that dir has a regular index.html at its root. The name
// is compared byte for byte, so INDEX.HTML does not pass even on
// case-insensitive filesystems.
func Validate(dir, key string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return storageErr("read", key, err)
	}
	for _, e := range entries {
		if e.Name() == storage.EntryDocument && e.Type().IsRegular() {
			return nil
		}
	}
	return &MissingEntryPoint{Key: key}
}
