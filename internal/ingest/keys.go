package ingest

import (
	"strings"

	"github.com/google/uuid"
)

// NewDocumentKey returns a fresh filename for a single-file upload,
// upload_<8 hex>.html.
func NewDocumentKey() string {
	return "upload_" + randomHex(8) + ".html"
}

// NewPackageKey returns a fresh directory name for a multi-file upload,
// game_<12 hex>.
func NewPackageKey() string {
	return "game_" + randomHex(12)
}

func randomHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
