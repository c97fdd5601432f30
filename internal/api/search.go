package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/search"
)

// DatasetSearcher ranks the pipeline catalog against a text query and
// suggests join keys between two datasets. Implemented by search.Searcher.
type DatasetSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]search.Match, error)
	JoinSuggestions(ctx context.Context, leftID, rightID string) ([]search.JoinSuggestion, error)
}

// MountDatasetRoutes registers dataset discovery routes.
func MountDatasetRoutes(r chi.Router, srv *Server) {
	read := r.With(srv.requireRole(domain.RoleReader))

	read.Get("/datasets/search", srv.HandleDatasetSearch)
	read.Get("/datasets/join-suggestions", srv.HandleJoinSuggestions)
}

// HandleDatasetSearch ranks pipelines by relevance to the query text.
// GET /api/v1/datasets/search?q=&top_k=
func (s *Server) HandleDatasetSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		errorJSON(w, "q is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	topK := search.DefaultTopK
	if v := r.URL.Query().Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errorJSON(w, "top_k must be a positive integer", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		topK = n
	}

	results, err := s.Search.Search(r.Context(), query, topK)
	if err != nil {
		internalError(w, "dataset search failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"query":         query,
		"results_count": len(results),
		"results":       results,
		"next_steps":    "Use pipeline_id to get metadata or create transformation",
	})
}

// HandleJoinSuggestions proposes join keys between two datasets based on
// their column profiles.
// GET /api/v1/datasets/join-suggestions?dataset1=&dataset2=
func (s *Server) HandleJoinSuggestions(w http.ResponseWriter, r *http.Request) {
	left := r.URL.Query().Get("dataset1")
	right := r.URL.Query().Get("dataset2")
	if left == "" || right == "" {
		errorJSON(w, "dataset1 and dataset2 are required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	suggestions, err := s.Search.JoinSuggestions(r.Context(), left, right)
	if err != nil {
		domainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "success",
		"dataset1":          left,
		"dataset2":          right,
		"suggestions_count": len(suggestions),
		"suggestions":       suggestions,
		"next_steps":        "Use suggested join keys in transformation pipeline",
	})
}
