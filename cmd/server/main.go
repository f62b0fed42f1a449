// funAI Server
//
// Features:
// - Single-file and multi-file game uploads (zip, tar, tar.gz, tar.zst, tar.lz4)
// - Sandboxed package builds with output promotion
// - Content serving with base-path rewriting
// - Storage folder reconciliation at start, on demand, and on change
// - Prometheus metrics, structured logging (zap), optional OpenTelemetry tracing
// - SSE catalog events, upload rate limiting, artifact retention (local, S3)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hujiangang/funAI/internal/api"
	"github.com/hujiangang/funAI/internal/app"
	"github.com/hujiangang/funAI/internal/config"
	"github.com/hujiangang/funAI/internal/content"
	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/metrics"
	"github.com/hujiangang/funAI/internal/ratelimit"
	"github.com/hujiangang/funAI/internal/telemetry"
	"github.com/hujiangang/funAI/internal/watcher"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("funAI server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("storage_root", cfg.StorageRoot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "funai-server", cfg.OTelEndpoint, cfg.TracingEnabled())
	if err != nil {
		logging.Fatal("tracing init failed", zap.Error(err))
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logging.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	// Leftovers from a crash mid-ingestion are never resumed.
	if n, err := a.SweepStaleTemps(); err != nil {
		logging.Warn("temp sweep failed", zap.Error(err))
	} else if n > 0 {
		logging.Info("removed stale temp entries", zap.Int("count", n))
	}

	// Reconcile the storage folder before serving
	if _, err := a.Reconciler.Run(ctx); err != nil {
		logging.Error("initial reconcile failed", zap.Error(err))
	}

	if cfg.WatchEnabled {
		w := watcher.New(a.Root, cfg.WatchInterval, func(ctx context.Context, changes []watcher.Change) {
			if _, err := a.Reconciler.Run(ctx); err != nil {
				logging.Error("watch-triggered reconcile failed", zap.Error(err))
			}
		})
		if err := w.Start(ctx); err != nil {
			logging.Fatal("watcher start failed", zap.Error(err))
		}
		defer w.Stop()
		logging.Info("watching storage root", zap.Duration("interval", cfg.WatchInterval))
	}

	contentServer, err := content.NewServer(a.Store, a.Root, cfg.StorageRoute, content.DefaultCacheSize)
	if err != nil {
		logging.Fatal("content server init failed", zap.Error(err))
	}

	var limiter *ratelimit.Limiter
	if cfg.UploadRequestsPerMin > 0 {
		limiter = ratelimit.New(cfg.UploadRequestsPerMin)
	}

	srv := api.NewServer(api.Config{
		Store:         a.Store,
		Root:          a.Root,
		Pipeline:      a.Pipeline,
		Content:       contentServer,
		Reconciler:    a.Reconciler,
		Artifacts:     a.Artifacts,
		Broadcaster:   a.Broadcaster,
		Limiter:       limiter,
		StorageRoute:  cfg.StorageRoute,
		MaxUploadSize: cfg.MaxUploadSize,
		AdminToken:    cfg.AdminToken,
	})
	if cfg.AdminToken == "" {
		logging.Info("admin endpoints disabled (ADMIN_TOKEN unset)")
	}

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer scancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	// Periodic cleanup (rate limiter buckets + crash leftovers)
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if limiter != nil {
					limiter.Cleanup(24 * time.Hour)
				}
				if n, err := a.SweepStaleTemps(); err != nil {
					logging.Error("temp sweep failed", zap.Error(err))
				} else if n > 0 {
					logging.Info("removed stale temp entries", zap.Int("count", n))
				}
			}
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	<-stopped
	logging.Info("server stopped")
}
