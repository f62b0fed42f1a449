// Package catalog defines the game record and the storage contract the
// ingestion pipeline, content server and folder reconciler depend on.
package catalog

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/zeebo/blake3"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("catalog: not found")
	// ErrDuplicate is returned when a storage key is already taken.
	ErrDuplicate = errors.New("catalog: duplicate storage key")
	// ErrGuardMismatch is returned when an edit password does not match.
	ErrGuardMismatch = errors.New("catalog: edit password mismatch")
	// ErrWrongMode is returned for operations that only apply to one packaging mode.
	ErrWrongMode = errors.New("catalog: wrong package mode")
)

// Mode is the packaging mode of a game.
type Mode string

const (
	SingleFile Mode = "single-file"
	MultiFile  Mode = "multi-file"
)

// Defaults applied to records that omit descriptive fields.
const (
	DefaultAuthor     = "匿名玩家"
	DefaultAIModel    = "Unknown"
	DefaultCategoryID = 1

	// DefaultImportedDescription marks records created from files found
	// in the storage folder.
	DefaultImportedDescription = "暂无介绍"
)

// Game is one catalog record.
type Game struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Filename    string    `json:"filename,omitempty"`
	HTMLCode    string    `json:"html_code,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Author      string    `json:"author"`
	AIModel     string    `json:"ai_model"`
	Prompt      string    `json:"prompt,omitempty"`
	CategoryID  int       `json:"category_id"`
	Mode        Mode      `json:"mode"`
	Directory   string    `json:"directory_name,omitempty"`
	EditGuard   string    `json:"-"`
	Rating      float64   `json:"rating"`
	RatingCount int       `json:"rating_count"`
	Views       int64     `json:"views"`
	CreatedAt   time.Time `json:"created_at"`
}

// StorageKey returns the file or directory name the record is stored under.
func (g *Game) StorageKey() string {
	if g.Mode == MultiFile {
		return g.Directory
	}
	return g.Filename
}

// ApplyDefaults fills empty descriptive fields.
func (g *Game) ApplyDefaults() {
	if g.Author == "" {
		g.Author = DefaultAuthor
	}
	if g.AIModel == "" {
		g.AIModel = DefaultAIModel
	}
	if g.CategoryID == 0 {
		g.CategoryID = DefaultCategoryID
	}
	if g.Mode == "" {
		g.Mode = SingleFile
	}
}

// Summary returns a copy without the cached document body.
func (g *Game) Summary() Game {
	c := *g
	c.HTMLCode = ""
	return c
}

// Store is the catalog contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create inserts g, fills g.ID and g.CreatedAt, and returns
	// ErrDuplicate if the storage key is taken.
	Create(ctx context.Context, g *Game) error
	Get(ctx context.Context, id int64) (*Game, error)
	FindByFilename(ctx context.Context, filename string) (*Game, error)
	FindByDirectory(ctx context.Context, dir string) (*Game, error)
	// UpdateContent replaces only the cached document and its hash.
	UpdateContent(ctx context.Context, id int64, html, hash string) error
	List(ctx context.Context, limit int) ([]Game, error)
	Delete(ctx context.Context, id int64) error
	IncrementViews(ctx context.Context, id int64) error
	Close() error
}

// HashContent returns the hex blake3 digest used for change detection.
func HashContent(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
