package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdencbrown/relay/internal/api"
)

func TestLineage_EntityNotFound(t *testing.T) {
	srv, _ := newTestDeps()
	router := api.NewRouter(srv)

	rec, _ := doJSON(t, router, http.MethodGet, "/api/v1/ontology/lineage/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLineage_TracesPipelineMetricsAndNeighbors(t *testing.T) {
	srv, _ := newTestDeps()
	router := api.NewRouter(srv)
	pid := createTestPipeline(t, router)
	createTestEntity(t, router, pid, "orders")
	createTestEntity(t, router, pid, "users")

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/ontology/metric", `{
		"name": "total_revenue", "display_name": "Total Revenue",
		"entity_name": "orders", "expression": "SUM(orders.amount) / COUNT(orders.id)"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/api/v1/ontology/dimension", `{
		"name": "region", "display_name": "Region",
		"entity_name": "orders", "expression": "orders.region"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/api/v1/ontology/relationship", `{
		"name": "orders_to_users",
		"from_entity": "orders", "to_entity": "users",
		"from_column": "user_id", "to_column": "id",
		"relationship_type": "many_to_one"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := doJSON(t, router, http.MethodGet, "/api/v1/ontology/lineage/orders", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	pipeline := body["pipeline"].(map[string]any)
	assert.Equal(t, pid, pipeline["id"])

	metrics := body["metrics"].([]any)
	require.Len(t, metrics, 1)
	refs := metrics[0].(map[string]any)["column_references"].([]any)
	assert.ElementsMatch(t, []any{"orders.amount", "orders.id"}, refs)

	dims := body["dimensions"].([]any)
	require.Len(t, dims, 1)

	rels := body["relationships"].(map[string]any)
	assert.Len(t, rels["outgoing"], 1)
	assert.Empty(t, rels["incoming"])

	assert.Equal(t, []any{"users"}, body["downstream_entities"])
	assert.Empty(t, body["upstream_entities"])
}

func TestLineage_IncomingSideListsUpstream(t *testing.T) {
	srv, _ := newTestDeps()
	router := api.NewRouter(srv)
	pid := createTestPipeline(t, router)
	createTestEntity(t, router, pid, "orders")
	createTestEntity(t, router, pid, "users")

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/ontology/relationship", `{
		"name": "orders_to_users",
		"from_entity": "orders", "to_entity": "users",
		"from_column": "user_id", "to_column": "id",
		"relationship_type": "many_to_one"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := doJSON(t, router, http.MethodGet, "/api/v1/ontology/lineage/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"orders"}, body["upstream_entities"])
	assert.Empty(t, body["downstream_entities"])
}
