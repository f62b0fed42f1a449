// Package api provides the HTTP server and handlers.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hujiangang/funAI/internal/artifacts"
	"github.com/hujiangang/funAI/internal/catalog"
	"github.com/hujiangang/funAI/internal/content"
	"github.com/hujiangang/funAI/internal/events"
	"github.com/hujiangang/funAI/internal/ingest"
	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/metrics"
	"github.com/hujiangang/funAI/internal/ratelimit"
	"github.com/hujiangang/funAI/internal/reconcile"
	"github.com/hujiangang/funAI/internal/storage"
	"github.com/hujiangang/funAI/pkg/protocol"
)

const (
	// AdminTokenHeader carries the operator token for /api/v1/admin routes.
	AdminTokenHeader = "X-Admin-Token"
	// EditPasswordHeader carries a game's edit password.
	EditPasswordHeader = "X-Edit-Password"

	defaultListLimit = 50
	maxMemory        = 32 << 20
)

// Config holds the server's dependencies and settings.
type Config struct {
	Store         catalog.Store
	Root          *storage.Root
	Pipeline      *ingest.Pipeline
	Content       *content.Server
	Reconciler    *reconcile.Reconciler
	Artifacts     *artifacts.Store // nil when retention is disabled
	Broadcaster   *events.Broadcaster
	Limiter       *ratelimit.Limiter // nil disables upload throttling
	StorageRoute  string
	MaxUploadSize int64
	AdminToken    string // empty disables admin routes
}

// Server is the HTTP server.
type Server struct {
	store         catalog.Store
	root          *storage.Root
	pipeline      *ingest.Pipeline
	content       *content.Server
	reconciler    *reconcile.Reconciler
	artifacts     *artifacts.Store
	broadcaster   *events.Broadcaster
	limiter       *ratelimit.Limiter
	route         string
	maxUploadSize int64
	adminToken    string
}

// NewServer creates a new server.
func NewServer(cfg Config) *Server {
	return &Server{
		store:         cfg.Store,
		root:          cfg.Root,
		pipeline:      cfg.Pipeline,
		content:       cfg.Content,
		reconciler:    cfg.Reconciler,
		artifacts:     cfg.Artifacts,
		broadcaster:   cfg.Broadcaster,
		limiter:       cfg.Limiter,
		route:         cfg.StorageRoute,
		maxUploadSize: cfg.MaxUploadSize,
		adminToken:    cfg.AdminToken,
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Uploads are throttled per client.
	var upload http.Handler = http.HandlerFunc(s.handleCreateGame)
	if s.limiter != nil {
		upload = ratelimit.Middleware(s.limiter)(upload)
	}
	mux.Handle("POST /api/v1/games", upload)

	mux.HandleFunc("GET /api/v1/games", s.handleListGames)
	mux.HandleFunc("GET /api/v1/games/{id}", s.handleGetGame)
	mux.HandleFunc("PUT /api/v1/games/{id}/content", s.handleReplaceContent)
	mux.HandleFunc("POST /api/v1/games/{id}/views", s.handleViews)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Playable documents and package assets
	mux.HandleFunc("GET /content/{id}", s.handleContent)
	mux.Handle("GET /"+s.route+"/", s.root.Handler(s.route))

	// Admin endpoints
	mux.Handle("POST /api/v1/admin/reconcile", s.requireAdmin(s.handleReconcile))
	mux.Handle("DELETE /api/v1/admin/games/{id}", s.requireAdmin(s.handleDeleteGame))
	mux.Handle("GET /api/v1/admin/build-logs/{key}", s.requireAdmin(s.handleBuildLog))

	// The mux sets r.Pattern on the request it is handed, so the metrics
	// middleware has to wrap it directly.
	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := protocol.HealthResponse{Status: "ok"}
	if s.broadcaster != nil {
		resp.Subscribers = s.broadcaster.Count()
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// requireAdmin gates a handler behind the admin token. With no token
// configured the routes do not exist.
func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			s.sendError(w, http.StatusNotFound, "admin endpoints are disabled")
			return
		}
		token := r.Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.sendError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reconciler.Run(r.Context())
	if err != nil {
		logging.WithContext(r.Context()).Error("reconcile failed", logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "reconcile failed")
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.ReconcileResponse(rep))
}

func (s *Server) handleDeleteGame(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.pipeline.Remove(r.Context(), id); err != nil {
		s.sendCatalogError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBuildLog(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		s.sendError(w, http.StatusNotFound, "artifact retention is disabled")
		return
	}
	key := r.PathValue("key")
	if !storage.ValidKey(key) {
		s.sendError(w, http.StatusBadRequest, "invalid key")
		return
	}
	data, err := s.artifacts.BuildLog(r.Context(), key)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "no build log for "+key)
			return
		}
		logging.WithContext(r.Context()).Error("read build log failed", logging.Key(key), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "failed to read build log")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		s.sendError(w, http.StatusNotFound, "events are disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.sendError(w, http.StatusBadRequest, "invalid game id")
		return 0, false
	}
	return id, true
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendCatalogError maps catalog and storage errors to responses.
func (s *Server) sendCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "game not found")
	case errors.Is(err, catalog.ErrGuardMismatch):
		s.sendError(w, http.StatusForbidden, "edit password does not match")
	case errors.Is(err, catalog.ErrWrongMode):
		s.sendError(w, http.StatusConflict, "only single-file games can be edited")
	case errors.Is(err, ingest.ErrEmptyDocument):
		s.sendError(w, http.StatusBadRequest, "html_code is empty")
	default:
		logging.WithContext(r.Context()).Error("request failed", logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}
