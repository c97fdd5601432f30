package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdencbrown/relay/internal/api"
	"github.com/camdencbrown/relay/internal/search"
)

func TestDatasetSearch_RequiresQuery(t *testing.T) {
	srv, _ := newTestDeps()
	router := api.NewRouter(srv)

	rec, _ := doJSON(t, router, http.MethodGet, "/api/v1/datasets/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDatasetSearch_ReturnsRankedResults(t *testing.T) {
	srv, deps := newTestDeps()
	deps.search.matches = []search.Match{
		{PipelineID: "pipe-1", Name: "customer orders", Confidence: 0.9, Reason: "name match"},
		{PipelineID: "pipe-2", Name: "order items", Confidence: 0.4, Reason: "column match"},
	}
	router := api.NewRouter(srv)

	rec, body := doJSON(t, router, http.MethodGet, "/api/v1/datasets/search?q=orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "orders", body["query"])
	assert.Equal(t, float64(2), body["results_count"])
	assert.Contains(t, body["next_steps"], "pipeline_id")
}

func TestDatasetSearch_TopKCapsResults(t *testing.T) {
	srv, deps := newTestDeps()
	deps.search.matches = []search.Match{
		{PipelineID: "pipe-1"}, {PipelineID: "pipe-2"}, {PipelineID: "pipe-3"},
	}
	router := api.NewRouter(srv)

	rec, body := doJSON(t, router, http.MethodGet, "/api/v1/datasets/search?q=orders&top_k=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["results_count"])
}

func TestDatasetSearch_RejectsBadTopK(t *testing.T) {
	srv, _ := newTestDeps()
	router := api.NewRouter(srv)

	rec, _ := doJSON(t, router, http.MethodGet, "/api/v1/datasets/search?q=x&top_k=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinSuggestions_RequiresBothDatasets(t *testing.T) {
	srv, _ := newTestDeps()
	router := api.NewRouter(srv)

	rec, _ := doJSON(t, router, http.MethodGet, "/api/v1/datasets/join-suggestions?dataset1=pipe-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinSuggestions_ReturnsCandidateKeys(t *testing.T) {
	srv, deps := newTestDeps()
	deps.search.suggestions = []search.JoinSuggestion{
		{LeftColumn: "user_id", RightColumn: "id", Confidence: 0.95, Reason: "id suffix match"},
	}
	router := api.NewRouter(srv)

	rec, body := doJSON(t, router, http.MethodGet, "/api/v1/datasets/join-suggestions?dataset1=pipe-1&dataset2=pipe-2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "pipe-1", body["dataset1"])
	assert.Equal(t, float64(1), body["suggestions_count"])
	assert.Contains(t, body["next_steps"], "join keys")
}
