package api_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdencbrown/relay/internal/api"
)

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealth_AllComponentsUp(t *testing.T) {
	srv := newTestServer()
	srv.DBHealth = healthFunc(func(context.Context) error { return nil })
	router := api.NewRouter(srv)

	rec, body := doJSON(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "relay", body["service"])

	components := body["components"].(map[string]any)
	assert.Equal(t, "up", components["database"])
	assert.Equal(t, "duckdb", components["query_engine"])
	assert.Equal(t, "local", components["storage"])
}

func TestHealth_DatabaseDownIs503(t *testing.T) {
	srv := newTestServer()
	srv.DBHealth = healthFunc(func(context.Context) error { return errors.New("no route") })
	router := api.NewRouter(srv)

	rec, body := doJSON(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestHealthLive(t *testing.T) {
	router := api.NewRouter(newTestServer())

	rec, body := doJSON(t, router, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", body["status"])
}

func TestHealthReady_TracksDatabase(t *testing.T) {
	srv := newTestServer()
	srv.DBHealth = healthFunc(func(context.Context) error { return nil })
	router := api.NewRouter(srv)

	rec, body := doJSON(t, router, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])

	srv.DBHealth = healthFunc(func(context.Context) error { return errors.New("down") })
	rec, body = doJSON(t, router, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body["status"])
}

func TestCapabilities_DescribesPlatform(t *testing.T) {
	router := api.NewRouter(newTestServer())

	rec, body := doJSON(t, router, http.MethodGet, "/api/v1/capabilities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Relay - Agent-Native Data Movement", body["name"])
	assert.Equal(t, "test", body["version"])

	qe := body["query_engine"].(map[string]any)
	assert.Equal(t, "DuckDB", qe["engine"])

	authInfo := body["auth"].(map[string]any)
	assert.Equal(t, "X-API-Key", authInfo["header"])
	assert.NotEmpty(t, body["getting_started"])
}
