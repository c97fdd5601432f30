package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/camdencbrown/relay/internal/domain"
)

// HeaderName carries the raw API key on requests.
const HeaderName = "X-API-Key"

// KeySource resolves stored API keys. Implemented by postgres.APIKeyStore.
type KeySource interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	TouchAPIKey(ctx context.Context, id int64) error
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	Name string
	Role domain.Role
}

type contextKey struct{}

// IdentityFrom returns the caller identity set by the middleware, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Authenticator gates routes by minimum role. With RequireAuth disabled
// every request acts as the dev_mode admin, matching the auto-approve
// development workflow.
type Authenticator struct {
	keys        KeySource
	requireAuth bool
	logger      *slog.Logger
}

// New creates an Authenticator.
func New(keys KeySource, requireAuth bool, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		keys:        keys,
		requireAuth: requireAuth,
		logger:      logger.With("component", "auth"),
	}
}

// Require returns middleware enforcing at least the given role.
func (a *Authenticator) Require(minRole domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.requireAuth {
				ctx := context.WithValue(r.Context(), contextKey{}, Identity{Name: "dev_mode", Role: domain.RoleAdmin})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			raw := r.Header.Get(HeaderName)
			if raw == "" {
				denyJSON(w, http.StatusUnauthorized, "missing_api_key", "Missing API key. Provide "+HeaderName+" header.")
				return
			}

			key, err := a.keys.GetAPIKeyByHash(r.Context(), HashKey(raw))
			if err != nil {
				a.logger.Error("api key lookup failed", "error", err)
				denyJSON(w, http.StatusInternalServerError, "internal_error", "Authentication backend unavailable")
				return
			}
			if key == nil || !key.Active {
				denyJSON(w, http.StatusForbidden, "invalid_api_key", "Invalid or revoked API key")
				return
			}
			if !key.Role.AtLeast(minRole) {
				denyJSON(w, http.StatusForbidden, "insufficient_role", "Insufficient permissions")
				return
			}

			if err := a.keys.TouchAPIKey(r.Context(), key.ID); err != nil {
				a.logger.Warn("touch api key failed", "key_id", key.ID, "error", err)
			}

			ctx := context.WithValue(r.Context(), contextKey{}, Identity{Name: key.Name, Role: key.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func denyJSON(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
