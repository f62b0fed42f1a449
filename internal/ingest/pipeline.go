// Package ingest turns uploads into catalog records backed by files under
// the storage root.
package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/hujiangang/funAI/internal/artifacts"
	"github.com/hujiangang/funAI/internal/catalog"
	"github.com/hujiangang/funAI/internal/events"
	"github.com/hujiangang/funAI/internal/htmldoc"
	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/metrics"
	"github.com/hujiangang/funAI/internal/storage"
	"github.com/hujiangang/funAI/internal/telemetry"
)

// OtherAIModel is the form value that selects the free-text model name.
const OtherAIModel = "其他"

// ErrEmptyDocument is returned for a single-file upload with no content.
var ErrEmptyDocument = errors.New("document is empty")

// Publisher receives catalog change events.
type Publisher interface {
	Publish(events.Event)
}

// Submission carries the descriptive fields of an upload.
type Submission struct {
	Title         string
	Description   string
	Author        string
	AIModel       string
	CustomAIModel string
	Prompt        string
	CategoryID    int
	EditPassword  string
}

func (s Submission) record(mode catalog.Mode) *catalog.Game {
	model := strings.TrimSpace(s.AIModel)
	if model == OtherAIModel {
		if custom := strings.TrimSpace(s.CustomAIModel); custom != "" {
			model = custom
		}
	}
	g := &catalog.Game{
		Title:       strings.TrimSpace(s.Title),
		Description: s.Description,
		Author:      strings.TrimSpace(s.Author),
		AIModel:     model,
		Prompt:      s.Prompt,
		CategoryID:  s.CategoryID,
		Mode:        mode,
	}
	g.ApplyDefaults()
	return g
}

// Options configures a Pipeline.
type Options struct {
	Limits    Limits
	Build     BuildConfig
	Artifacts *artifacts.Store // nil disables retention
	Events    Publisher        // nil disables events
}

// Pipeline runs ingestion against one catalog and storage root. It holds
// no per-upload state; every call generates a fresh key.
type Pipeline struct {
	store     catalog.Store
	root      *storage.Root
	extractor *Extractor
	builder   *Builder
	artifacts *artifacts.Store
	events    Publisher
}

// New creates a pipeline.
func New(store catalog.Store, root *storage.Root, opts Options) *Pipeline {
	return &Pipeline{
		store:     store,
		root:      root,
		extractor: NewExtractor(root, opts.Limits),
		builder:   NewBuilder(opts.Build),
		artifacts: opts.Artifacts,
		events:    opts.Events,
	}
}

// IngestDocument stores a single-file upload. The document is written to
// a hidden temp file, the record is created, then the file is committed
// under its key. A failed commit deletes the record again.
func (p *Pipeline) IngestDocument(ctx context.Context, sub Submission, html string) (game *catalog.Game, err error) {
	key := NewDocumentKey()
	ctx = logging.WithFields(ctx, logging.Key(key))
	stage := StageReceive
	defer func() { p.finish(ctx, catalog.SingleFile, key, stage, game, &err) }()

	if strings.TrimSpace(html) == "" {
		return nil, ErrEmptyDocument
	}
	guard, err := catalog.HashGuard(sub.EditPassword)
	if err != nil {
		return nil, err
	}

	tmp, err := p.root.WriteTemp([]byte(html))
	if err != nil {
		return nil, storageErr("write", key, err)
	}
	defer os.Remove(tmp)

	g := sub.record(catalog.SingleFile)
	g.Filename = key
	g.HTMLCode = html
	g.ContentHash = catalog.HashContent([]byte(html))
	g.EditGuard = guard
	if g.Title == "" {
		g.Title = htmldoc.DeriveTitle([]byte(html), key)
	}

	stage = StageCatalog
	if err := p.span(ctx, stage, key, func(ctx context.Context) error {
		return p.store.Create(ctx, g)
	}); err != nil {
		return nil, err
	}

	stage = StagePromote
	if err := p.root.CommitFile(tmp, key); err != nil {
		if delErr := p.store.Delete(ctx, g.ID); delErr != nil {
			logging.WithContext(ctx).Error("failed to roll back record", logging.Err(delErr))
		}
		return nil, storageErr("commit", key, err)
	}
	return g, nil
}

// IngestArchive stores a multi-file upload: extract, build when a manifest
// is present, promote the build output, validate the entry document and
// finally create the record. Any failure removes the package directory.
func (p *Pipeline) IngestArchive(ctx context.Context, sub Submission, r io.Reader) (game *catalog.Game, err error) {
	key := NewPackageKey()
	ctx = logging.WithFields(ctx, logging.Key(key))
	logger := logging.WithContext(ctx)
	stage := StageReceive
	defer func() { p.finish(ctx, catalog.MultiFile, key, stage, game, &err) }()

	guard, err := catalog.HashGuard(sub.EditPassword)
	if err != nil {
		return nil, err
	}

	src := r
	var spool *os.File
	if p.artifacts != nil {
		if spool, err = os.CreateTemp(p.root.Path(), storage.TempPrefix+"upload-*"); err != nil {
			return nil, storageErr("spool", key, err)
		}
		defer func() {
			spool.Close()
			os.Remove(spool.Name())
		}()
		src = io.TeeReader(r, spool)
	}

	stage = StageExtract
	var (
		dir    string
		format Format
	)
	if err := p.span(ctx, stage, key, func(ctx context.Context) error {
		var err error
		dir, format, err = p.extractor.Extract(ctx, src, key)
		return err
	}); err != nil {
		return nil, err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.Error("failed to remove rejected package", logging.Err(rmErr))
		}
	}()

	if spool != nil {
		p.retainUpload(ctx, key, format, src, spool)
	}

	stage = StageBuild
	var res *BuildResult
	if err := p.span(ctx, stage, key, func(ctx context.Context) error {
		var err error
		res, err = p.builder.Build(ctx, dir)
		return err
	}); err != nil {
		p.retainBuildLog(ctx, key, err)
		return nil, err
	}

	if res.Built {
		logger.Info("package built", logging.Duration("duration", res.Duration))
		stage = StagePromote
		if err := p.span(ctx, stage, key, func(context.Context) error {
			return Promote(p.root, dir, res.OutputDir)
		}); err != nil {
			p.retainBuildLog(ctx, key, err)
			return nil, err
		}
	}

	stage = StageValidate
	if err := p.span(ctx, stage, key, func(context.Context) error {
		return Validate(dir, key)
	}); err != nil {
		return nil, err
	}

	g := sub.record(catalog.MultiFile)
	g.Directory = key
	g.EditGuard = guard
	if g.Title == "" {
		entry, _, err := p.root.ReadEntry(key)
		if err != nil {
			return nil, storageErr("read", key, err)
		}
		g.Title = htmldoc.DeriveTitle(entry, key)
	}

	stage = StageCatalog
	if err := p.span(ctx, stage, key, func(ctx context.Context) error {
		return p.store.Create(ctx, g)
	}); err != nil {
		return nil, err
	}
	committed = true
	return g, nil
}

// finish records the outcome of one ingestion and wraps a failure with
// its key and stage.
func (p *Pipeline) finish(ctx context.Context, mode catalog.Mode, key, stage string, game *catalog.Game, errp *error) {
	metrics.RecordIngestion(string(mode), stage, *errp == nil)
	if *errp != nil {
		logging.WithContext(ctx).Warn("ingestion failed", logging.Stage(stage), logging.Err(*errp))
		*errp = &Failure{Key: key, Stage: stage, Err: *errp}
		return
	}
	logging.WithContext(ctx).Info("game ingested",
		logging.Int64("game_id", game.ID),
		logging.String("mode", string(mode)),
	)
	p.publish(events.EventIngested, game)
}

func (p *Pipeline) span(ctx context.Context, stage, key string, fn func(context.Context) error) error {
	ctx, span := telemetry.Start(ctx, "ingest."+stage, "funai.key", key)
	err := fn(ctx)
	telemetry.End(span, err)
	return err
}

func (p *Pipeline) publish(eventType string, g *catalog.Game) {
	if p.events == nil {
		return
	}
	p.events.Publish(events.Event{
		Type:   eventType,
		GameID: g.ID,
		Key:    g.StorageKey(),
		Mode:   string(g.Mode),
		Title:  g.Title,
	})
}

// retainUpload drains what the extractor left unread and stores the raw
// archive. Failures are logged only.
func (p *Pipeline) retainUpload(ctx context.Context, key string, format Format, src io.Reader, spool *os.File) {
	logger := logging.WithContext(ctx)
	if _, err := io.Copy(io.Discard, src); err != nil {
		logger.Warn("failed to spool upload", logging.Err(err))
		return
	}
	if err := spool.Sync(); err != nil {
		logger.Warn("failed to spool upload", logging.Err(err))
		return
	}
	if err := p.artifacts.SaveUpload(ctx, key, format.Ext(), spool.Name()); err != nil {
		logger.Warn("failed to retain upload", logging.Err(err))
	}
}

func (p *Pipeline) retainBuildLog(ctx context.Context, key string, err error) {
	var bf *BuildFailure
	if p.artifacts == nil || !errors.As(err, &bf) || len(bf.Output) == 0 {
		return
	}
	if err := p.artifacts.SaveBuildLog(ctx, key, bf.Output); err != nil {
		logging.WithContext(ctx).Warn("failed to retain build log", logging.Err(err))
	}
}

// ReplaceDocument swaps the content of a single-file game after checking
// its edit password. The loose file is rewritten before the record so the
// reconciler never sees the old bytes as newer.
func (p *Pipeline) ReplaceDocument(ctx context.Context, id int64, html, password string) (*catalog.Game, error) {
	if strings.TrimSpace(html) == "" {
		return nil, ErrEmptyDocument
	}
	g, err := catalog.ReplaceContent(ctx, p.store, id, html, password, func(g *catalog.Game) error {
		if err := p.root.WriteFileAtomic(g.Filename, []byte(html)); err != nil {
			return storageErr("write", g.Filename, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx).Info("game content replaced", logging.Int64("game_id", id))
	p.publish(events.EventUpdated, g)
	return g, nil
}

// Remove deletes a game's file or package directory, then its record and
// any retained artifacts.
func (p *Pipeline) Remove(ctx context.Context, id int64) (*catalog.Game, error) {
	g, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	key := g.StorageKey()
	if key != "" {
		if g.Mode == catalog.MultiFile {
			err = p.root.RemoveAll(key)
		} else {
			err = p.root.Remove(key)
		}
		if err != nil {
			return nil, storageErr("delete", key, err)
		}
	}
	if err := p.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	if p.artifacts != nil && g.Mode == catalog.MultiFile {
		if err := p.artifacts.DeleteFor(ctx, key); err != nil {
			logging.WithContext(ctx).Warn("failed to delete artifacts", logging.Key(key), logging.Err(err))
		}
	}
	logging.WithContext(ctx).Info("game removed", logging.Int64("game_id", id), logging.Key(key))
	p.publish(events.EventDeleted, g)
	return g, nil
}
