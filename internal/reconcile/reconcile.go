// Package reconcile synchronizes loose single-file documents in the
// storage root into the catalog.
//
// Disk is additive-only input: new files create records, changed files
// refresh the cached content, and records for files that disappear are
// left alone. Descriptive fields of existing records are never touched.
package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/hujiangang/funAI/internal/catalog"
	"github.com/hujiangang/funAI/internal/events"
	"github.com/hujiangang/funAI/internal/htmldoc"
	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/metrics"
	"github.com/hujiangang/funAI/internal/storage"
)

// Publisher receives catalog change events.
type Publisher interface {
	Publish(events.Event)
}

// Report summarizes one run.
type Report struct {
	Scanned   int `json:"scanned"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Changed reports whether the run wrote anything.
func (r Report) Changed() bool {
	return r.Created+r.Updated > 0
}

// Reconciler scans a storage root against a catalog. Runs are independent
// and may overlap; the catalog's unique filename constraint settles races.
type Reconciler struct {
	store  catalog.Store
	root   *storage.Root
	events Publisher
}

// New creates a reconciler. events may be nil.
func New(store catalog.Store, root *storage.Root, events Publisher) *Reconciler {
	return &Reconciler{store: store, root: root, events: events}
}

// Run performs one reconciliation pass. Per-file failures are counted and
// logged; only a failure to list the root or a cancelled context aborts
// the run.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report
	logger := logging.WithContext(ctx)

	names, err := r.root.ListLooseDocuments()
	if err != nil {
		return rep, fmt.Errorf("reconcile: %w", err)
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++
		changed, created, err := r.reconcileFile(ctx, name)
		switch {
		case err != nil:
			rep.Failed++
			logger.Warn("failed to reconcile document", logging.Key(name), logging.Err(err))
		case created:
			rep.Created++
		case changed:
			rep.Updated++
		default:
			rep.Unchanged++
		}
	}

	metrics.RecordReconcile(rep.Created, rep.Updated, rep.Failed)
	logger.Info("reconcile completed",
		logging.Int("scanned", rep.Scanned),
		logging.Int("created", rep.Created),
		logging.Int("updated", rep.Updated),
		logging.Int("failed", rep.Failed),
	)
	if rep.Changed() && r.events != nil {
		r.events.Publish(events.Event{
			Type:    events.EventReconciled,
			Created: rep.Created,
			Updated: rep.Updated,
		})
	}
	return rep, nil
}

func (r *Reconciler) reconcileFile(ctx context.Context, name string) (changed, created bool, err error) {
	data, err := r.root.ReadDocument(name)
	if err != nil {
		return false, false, err
	}
	hash := catalog.HashContent(data)

	existing, err := r.store.FindByFilename(ctx, name)
	if errors.Is(err, catalog.ErrNotFound) {
		g := &catalog.Game{
			Title:       htmldoc.DeriveTitle(data, name),
			Description: catalog.DefaultImportedDescription,
			Filename:    name,
			HTMLCode:    string(data),
			ContentHash: hash,
			Mode:        catalog.SingleFile,
		}
		g.ApplyDefaults()
		if err := r.store.Create(ctx, g); err != nil {
			if errors.Is(err, catalog.ErrDuplicate) {
				// Another run created it first.
				return false, false, nil
			}
			return false, false, err
		}
		logging.WithContext(ctx).Debug("catalogued loose document", logging.Key(name), logging.Int64("game_id", g.ID))
		return true, true, nil
	}
	if err != nil {
		return false, false, err
	}

	if sameContent(existing, data, hash) {
		return false, false, nil
	}
	if err := r.store.UpdateContent(ctx, existing.ID, string(data), hash); err != nil {
		return false, false, err
	}
	logging.WithContext(ctx).Debug("refreshed document content", logging.Key(name), logging.Int64("game_id", existing.ID))
	return true, false, nil
}

// sameContent compares by hash, or by bytes for records written before
// hashes were stored.
func sameContent(g *catalog.Game, data []byte, hash string) bool {
	if g.ContentHash != "" {
		return g.ContentHash == hash
	}
	return bytes.Equal([]byte(g.HTMLCode), data)
}
