// Package protocol defines the API request/response types.
package protocol

import "time"

// Game is the public view of a catalog record. The cached document body
// and the edit guard are never exposed.
type Game struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Filename    string    `json:"filename,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Author      string    `json:"author"`
	AIModel     string    `json:"ai_model"`
	Prompt      string    `json:"prompt,omitempty"`
	CategoryID  int       `json:"category_id"`
	Mode        string    `json:"mode"` // "single-file" or "multi-file"
	Directory   string    `json:"directory_name,omitempty"`
	Rating      float64   `json:"rating"`
	RatingCount int       `json:"rating_count"`
	Views       int64     `json:"views"`
	CreatedAt   time.Time `json:"created_at"`
}

// ErrorResponse is returned on API errors. Ingestion failures also carry
// the attempted key and the stage that stopped them; build failures put
// the captured build output in Details.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Stage   string `json:"stage,omitempty"`
	Key     string `json:"key,omitempty"`
	Details string `json:"details,omitempty"`
}

// GameListResponse is returned by GET /api/v1/games
type GameListResponse struct {
	Games []Game `json:"games"`
	Count int    `json:"count"`
}

// ReplaceContentRequest is the body for PUT /api/v1/games/{id}/content
type ReplaceContentRequest struct {
	HTMLCode string `json:"html_code"`
}

// ReconcileResponse is returned by POST /api/v1/admin/reconcile
type ReconcileResponse struct {
	Scanned   int `json:"scanned"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}
