// Package app wires configuration into the catalog, storage, pipeline and
// reconciler shared by the server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/hujiangang/funAI/internal/artifacts"
	"github.com/hujiangang/funAI/internal/catalog/sqlstore"
	"github.com/hujiangang/funAI/internal/config"
	"github.com/hujiangang/funAI/internal/events"
	"github.com/hujiangang/funAI/internal/ingest"
	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/reconcile"
	"github.com/hujiangang/funAI/internal/storage"
)

// App holds the long-lived components.
type App struct {
	Config      *config.Config
	Store       *sqlstore.Store
	Root        *storage.Root
	Artifacts   *artifacts.Store // nil when retention is disabled
	Broadcaster *events.Broadcaster
	Pipeline    *ingest.Pipeline
	Reconciler  *reconcile.Reconciler
}

// New opens the catalog and storage root and builds the pipeline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logging.Info("opening catalog", logging.String("database", redact(cfg.DatabaseURL)))
	store, err := sqlstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	root, err := storage.New(cfg.StorageRoot, true)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open storage root: %w", err)
	}

	arts, err := artifacts.NewFromConfig(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open artifact backend: %w", err)
	}
	if arts != nil {
		logging.Info("artifact retention enabled", logging.String("backend", arts.Backend().Type()))
	}

	bc := events.NewBroadcaster()
	a := &App{
		Config:      cfg,
		Store:       store,
		Root:        root,
		Artifacts:   arts,
		Broadcaster: bc,
		Reconciler:  reconcile.New(store, root, bc),
	}
	a.Pipeline = ingest.New(store, root, ingest.Options{
		Limits: ingest.Limits{
			MaxFiles: cfg.MaxArchiveFiles,
			MaxBytes: cfg.MaxExtractedSize,
		},
		Build: ingest.BuildConfig{
			Tool:        cfg.BuildTool,
			Timeout:     cfg.BuildTimeout,
			MemoryLimit: cfg.BuildMemoryLimit,
			KeepEnv:     cfg.BuildKeepEnv,
		},
		Artifacts: arts,
		Events:    bc,
	})
	return a, nil
}

// Close releases the catalog and artifact backend.
func (a *App) Close() error {
	if a.Artifacts != nil {
		if err := a.Artifacts.Backend().Close(); err != nil {
			logging.Warn("close artifact backend", logging.Err(err))
		}
	}
	return a.Store.Close()
}

// StaleTempAge is how old a hidden in-flight entry must be before a sweep
// removes it. Live ingestions, including a CLI run sharing the root, finish
// well inside the build timeout plus an hour.
func (a *App) StaleTempAge() time.Duration {
	return a.Config.BuildTimeout + time.Hour
}

// SweepStaleTemps removes in-flight entries left behind by a crash.
func (a *App) SweepStaleTemps() (int, error) {
	return a.Root.SweepTemps(a.StaleTempAge())
}

// redact hides the password in a database URL for logging.
func redact(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.User == nil {
		return databaseURL
	}
	return u.Redacted()
}
