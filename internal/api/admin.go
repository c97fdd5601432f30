package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/camdencbrown/relay/internal/auth"
	"github.com/camdencbrown/relay/internal/domain"
)

// APIKeyStore manages hashed API keys. Implemented by postgres.APIKeyStore.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, k *domain.APIKey) error
	ListAPIKeys(ctx context.Context) ([]domain.APIKey, error)
	DeactivateAPIKey(ctx context.Context, id int64) error
}

// MountAdminRoutes registers API key management. Everything here is
// admin-only.
func MountAdminRoutes(r chi.Router, srv *Server) {
	admin := r.With(srv.requireRole(domain.RoleAdmin))

	admin.Post("/admin/api-keys", srv.HandleCreateAPIKey)
	admin.Get("/admin/api-keys", srv.HandleListAPIKeys)
	admin.Delete("/admin/api-keys/{id}", srv.HandleDeactivateAPIKey)
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// HandleCreateAPIKey mints a new key. The raw key appears once in this
// response; only its hash is stored.
// POST /api/v1/admin/api-keys
func (s *Server) HandleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		errorJSON(w, "name is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if !domain.ValidRole(req.Role) {
		errorJSON(w, fmt.Sprintf("unknown role %q (reader, writer, or admin)", req.Role), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	raw, err := auth.GenerateKey()
	if err != nil {
		internalError(w, "generate api key failed", err)
		return
	}

	key := &domain.APIKey{
		KeyHash:   auth.HashKey(raw),
		KeyPrefix: auth.Prefix(raw),
		Name:      req.Name,
		Role:      domain.Role(req.Role),
		Active:    true,
	}
	if err := s.Keys.CreateAPIKey(r.Context(), key); err != nil {
		domainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "created",
		"key":     raw,
		"name":    key.Name,
		"role":    key.Role,
		"message": "Store this key securely - it will not be shown again.",
	})
}

// HandleListAPIKeys lists keys by prefix. Hashes never leave the store.
// GET /api/v1/admin/api-keys
func (s *Server) HandleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.Keys.ListAPIKeys(r.Context())
	if err != nil {
		internalError(w, "list api keys failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"api_keys": keys,
		"count":    len(keys),
	})
}

// HandleDeactivateAPIKey revokes a key. Rows are kept for audit.
// DELETE /api/v1/admin/api-keys/{id}
func (s *Server) HandleDeactivateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		errorJSON(w, "id must be an integer", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	if err := s.Keys.DeactivateAPIKey(r.Context(), id); err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated", "id": id})
}
