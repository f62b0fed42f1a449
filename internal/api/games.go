package api

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/hujiangang/funAI/internal/catalog"
	"github.com/hujiangang/funAI/internal/content"
	"github.com/hujiangang/funAI/internal/ingest"
	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/pkg/protocol"
)

// handleCreateGame accepts a multipart upload with exactly one of
// html_code (single-file) or package (archive).
func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		if isTooLarge(err) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		s.sendError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	sub, err := submissionFromForm(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	html := r.FormValue("html_code")
	file, _, fileErr := r.FormFile("package")
	if fileErr != nil && !errors.Is(fileErr, http.ErrMissingFile) {
		s.sendError(w, http.StatusBadRequest, "invalid package upload")
		return
	}
	hasFile := fileErr == nil
	if hasFile {
		defer file.Close()
	}

	var g *catalog.Game
	switch {
	case hasFile && html != "":
		s.sendError(w, http.StatusBadRequest, "provide either html_code or package, not both")
		return
	case hasFile:
		g, err = s.pipeline.IngestArchive(r.Context(), sub, file)
	case html != "":
		g, err = s.pipeline.IngestDocument(r.Context(), sub, html)
	default:
		s.sendError(w, http.StatusBadRequest, "html_code or package is required")
		return
	}
	if err != nil {
		s.sendIngestError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, gameInfo(g))
}

func gameInfo(g *catalog.Game) protocol.Game {
	return protocol.Game{
		ID:          g.ID,
		Title:       g.Title,
		Description: g.Description,
		Filename:    g.Filename,
		ContentHash: g.ContentHash,
		Author:      g.Author,
		AIModel:     g.AIModel,
		Prompt:      g.Prompt,
		CategoryID:  g.CategoryID,
		Mode:        string(g.Mode),
		Directory:   g.Directory,
		Rating:      g.Rating,
		RatingCount: g.RatingCount,
		Views:       g.Views,
		CreatedAt:   g.CreatedAt,
	}
}

func submissionFromForm(r *http.Request) (ingest.Submission, error) {
	sub := ingest.Submission{
		Title:         r.FormValue("title"),
		Description:   r.FormValue("description"),
		Author:        r.FormValue("author"),
		AIModel:       r.FormValue("ai_model"),
		CustomAIModel: r.FormValue("custom_ai_model"),
		Prompt:        r.FormValue("prompt"),
		EditPassword:  r.FormValue("edit_password"),
	}
	if v := strings.TrimSpace(r.FormValue("category_id")); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 0 {
			return sub, errors.New("invalid category_id")
		}
		sub.CategoryID = id
	}
	return sub, nil
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || errors.Is(err, multipart.ErrMessageTooLarge)
}

// sendIngestError reports which stage failed, the attempted key, and for
// build failures the captured output.
func (s *Server) sendIngestError(w http.ResponseWriter, r *http.Request, err error) {
	resp := protocol.ErrorResponse{Error: err.Error(), Stage: ingest.StageOf(err)}
	var fail *ingest.Failure
	if errors.As(err, &fail) {
		resp.Key = fail.Key
		resp.Error = fail.Err.Error()
	}

	var (
		ee *ingest.ExtractionError
		bf *ingest.BuildFailure
		me *ingest.MissingEntryPoint
	)
	switch {
	case isTooLarge(err):
		resp.Code = http.StatusRequestEntityTooLarge
		resp.Error = "upload too large"
	case errors.Is(err, ingest.ErrEmptyDocument):
		resp.Code = http.StatusBadRequest
	case errors.As(err, &bf):
		resp.Code = http.StatusUnprocessableEntity
		resp.Details = string(bf.Output)
	case errors.As(err, &ee), errors.As(err, &me):
		resp.Code = http.StatusUnprocessableEntity
	default:
		logging.WithContext(r.Context()).Error("ingestion failed", logging.Err(err))
		resp.Code = http.StatusInternalServerError
		resp.Error = "ingestion failed"
	}
	s.sendJSON(w, resp.Code, resp)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	games, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.sendCatalogError(w, r, err)
		return
	}
	resp := protocol.GameListResponse{Games: make([]protocol.Game, 0, len(games))}
	for i := range games {
		resp.Games = append(resp.Games, gameInfo(&games[i]))
	}
	resp.Count = len(resp.Games)
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	g, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.sendCatalogError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, gameInfo(g))
}

func (s *Server) handleReplaceContent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if s.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}
	var req protocol.ReplaceContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isTooLarge(err) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	g, err := s.pipeline.ReplaceDocument(r.Context(), id, req.HTMLCode, r.Header.Get(EditPasswordHeader))
	if err != nil {
		s.sendCatalogError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, gameInfo(g))
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.IncrementViews(r.Context(), id); err != nil {
		s.sendCatalogError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleContent writes the playable document. Failures are plain text so
// an embedding frame shows something readable.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	doc, err := s.content.Render(r.Context(), id)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}
		logging.WithContext(r.Context()).Error("render content failed", logging.Int64("game_id", id), logging.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Body)))
	w.Write(doc.Body)
}
