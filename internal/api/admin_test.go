package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdencbrown/relay/internal/api"
	"github.com/camdencbrown/relay/internal/auth"
)

func TestCreateAPIKey_ReturnsRawKeyOnce(t *testing.T) {
	srv, deps := newTestDeps()
	router := api.NewRouter(srv)

	rec, body := doJSON(t, router, http.MethodPost, "/api/v1/admin/api-keys", `{"name": "ci-bot", "role": "writer"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "created", body["status"])
	assert.Contains(t, body["message"], "not be shown again")

	raw := body["key"].(string)
	require.NotEmpty(t, raw)

	// Only the hash is stored, and it matches the raw key.
	stored, err := deps.keys.GetAPIKeyByHash(t.Context(), auth.HashKey(raw))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "ci-bot", stored.Name)
	assert.NotEqual(t, raw, stored.KeyHash)
}

func TestCreateAPIKey_RejectsUnknownRole(t *testing.T) {
	srv, _ := newTestDeps()
	router := api.NewRouter(srv)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/admin/api-keys", `{"name": "x", "role": "superuser"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAPIKeys_OmitsHashes(t *testing.T) {
	srv, _ := newTestDeps()
	router := api.NewRouter(srv)
	doJSON(t, router, http.MethodPost, "/api/v1/admin/api-keys", `{"name": "ci-bot", "role": "reader"}`)

	rec, body := doJSON(t, router, http.MethodGet, "/api/v1/admin/api-keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
	assert.NotContains(t, rec.Body.String(), "key_hash")
}

func TestDeactivateAPIKey(t *testing.T) {
	srv, deps := newTestDeps()
	router := api.NewRouter(srv)
	_, created := doJSON(t, router, http.MethodPost, "/api/v1/admin/api-keys", `{"name": "ci-bot", "role": "reader"}`)
	raw := created["key"].(string)

	rec, body := doJSON(t, router, http.MethodDelete, "/api/v1/admin/api-keys/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deactivated", body["status"])

	// Deactivated keys no longer resolve by hash.
	stored, err := deps.keys.GetAPIKeyByHash(t.Context(), auth.HashKey(raw))
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestDeactivateAPIKey_NotFound(t *testing.T) {
	srv, _ := newTestDeps()
	router := api.NewRouter(srv)

	rec, _ := doJSON(t, router, http.MethodDelete, "/api/v1/admin/api-keys/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeactivateAPIKey_NonNumericID(t *testing.T) {
	srv, _ := newTestDeps()
	router := api.NewRouter(srv)

	rec, _ := doJSON(t, router, http.MethodDelete, "/api/v1/admin/api-keys/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
