// Package api provides the HTTP handlers for relayd. All resource routes
// are mounted under /api/v1; /health stays outside it for orchestrators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/camdencbrown/relay/internal/domain"
)

// maxJSONBodySize is the maximum size for JSON request bodies (1MB).
const maxJSONBodySize = 1 << 20

// validNameRe matches lowercase slug resource names: starts with a lowercase
// letter, then lowercase + digits + hyphens + underscores.
var validNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// validName returns true if s is a valid lowercase slug (1-128 chars).
func validName(s string) bool {
	return len(s) <= 128 && validNameRe.MatchString(s)
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parsePagination reads limit and offset from query params with defaults and bounds.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// Structured error type codes for machine-readable error categorization.
// These classify errors into broad categories independent of the HTTP status code.
const (
	ErrorTypeValidation     = "VALIDATION"     // request data failed validation
	ErrorTypeAuthentication = "AUTHENTICATION" // missing or invalid credentials
	ErrorTypeAuthorization  = "AUTHORIZATION"  // valid credentials but insufficient permissions
	ErrorTypeNotFound       = "NOT_FOUND"      // requested resource does not exist
	ErrorTypeConflict       = "CONFLICT"       // request conflicts with current resource state
	ErrorTypeRateLimit      = "RATE_LIMIT"     // too many requests
	ErrorTypeInternal       = "INTERNAL"       // unexpected server error
	ErrorTypeUnavailable    = "UNAVAILABLE"    // dependency or feature not available
)

// APIError is the structured JSON error envelope returned by all API error responses.
// Format: {"error": {"code": "ERROR_CODE", "type": "ERROR_TYPE", "message": "human-readable message"}}
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail holds the code, type, and message inside the error envelope.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// errorTypeFromStatus maps HTTP status codes to broad error type categories.
func errorTypeFromStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return ErrorTypeValidation
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusForbidden:
		return ErrorTypeAuthorization
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusConflict:
		return ErrorTypeConflict
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusServiceUnavailable:
		return ErrorTypeUnavailable
	case status >= 500:
		return ErrorTypeInternal
	default:
		return ""
	}
}

// errorJSON writes a structured JSON error response. All API errors use this
// format so agent SDKs only need to handle one shape.
func errorJSON(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Error: APIErrorDetail{Code: code, Type: errorTypeFromStatus(status), Message: message},
	}); err != nil {
		slog.Error("failed to encode JSON error response", "error", err)
	}
}

// internalError logs the full error server-side and returns a generic JSON error to clients.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	errorJSON(w, msg, "INTERNAL", http.StatusInternalServerError)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// domainError translates a sentinel-wrapped domain error into the envelope.
// Unrecognized errors become a generic 500 with the detail kept server-side.
func domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		errorJSON(w, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, domain.ErrAlreadyExists):
		errorJSON(w, err.Error(), "ALREADY_EXISTS", http.StatusConflict)
	case errors.Is(err, domain.ErrConnectionInUse):
		errorJSON(w, err.Error(), "CONNECTION_IN_USE", http.StatusConflict)
	case errors.Is(err, domain.ErrConnectionTypeMismatch):
		errorJSON(w, err.Error(), "CONNECTION_TYPE_MISMATCH", http.StatusBadRequest)
	case errors.Is(err, domain.ErrNoData):
		errorJSON(w, err.Error(), "NO_DATA", http.StatusBadRequest)
	case errors.Is(err, domain.ErrQueryFailed):
		errorJSON(w, err.Error(), "QUERY_FAILED", http.StatusBadRequest)
	case errors.Is(err, domain.ErrUnknownMetric):
		errorJSON(w, err.Error(), "UNKNOWN_METRIC", http.StatusBadRequest)
	case errors.Is(err, domain.ErrUnknownDimension):
		errorJSON(w, err.Error(), "UNKNOWN_DIMENSION", http.StatusBadRequest)
	case errors.Is(err, domain.ErrCircularMetric):
		errorJSON(w, err.Error(), "CIRCULAR_METRIC", http.StatusBadRequest)
	case errors.Is(err, domain.ErrDisconnectedOntology):
		errorJSON(w, err.Error(), "DISCONNECTED_ONTOLOGY", http.StatusBadRequest)
	case errors.Is(err, domain.ErrEmptyQuery):
		errorJSON(w, err.Error(), "EMPTY_QUERY", http.StatusBadRequest)
	case errors.Is(err, domain.ErrInvalidTransition):
		errorJSON(w, err.Error(), "INVALID_TRANSITION", http.StatusBadRequest)
	case errors.Is(err, domain.ErrNLUnavailable):
		errorJSON(w, err.Error(), "NL_UNAVAILABLE", http.StatusBadRequest)
	case errors.Is(err, domain.ErrUnsupportedSource):
		errorJSON(w, err.Error(), "UNSUPPORTED_SOURCE", http.StatusBadRequest)
	case errors.Is(err, domain.ErrEncryptionKey), errors.Is(err, domain.ErrDecryptFailed):
		internalError(w, "credential encryption failed", err)
	default:
		internalError(w, "internal error", err)
	}
}

// limitJSONBody caps request body size.
func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// decodeJSON parses the request body into v, translating failures into a
// 400 envelope. Returns false when the handler should stop.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errorJSON(w, "invalid JSON body: "+err.Error(), "INVALID_BODY", http.StatusBadRequest)
		return false
	}
	return true
}

// securityHeaders adds standard HTTP security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// RoleGate enforces a minimum role on a route group. Implemented by
// auth.Authenticator.
type RoleGate interface {
	Require(minRole domain.Role) func(http.Handler) http.Handler
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server holds dependencies for all API handlers.
type Server struct {
	Pipelines     PipelineStore
	Runs          RunStore
	Connections   ConnectionStore
	Metadata      MetadataStore
	Knowledge     KnowledgeStore
	Entities      EntityStore
	Relationships RelationshipStore
	Metrics       MetricStore
	Dimensions    DimensionStore
	Snapshots     SnapshotStore
	Proposals     ProposalStore
	Keys          APIKeyStore
	Events        EventStore

	Engine    SourceTester
	Dispatch  RunDispatcher
	Query     QueryRunner
	Semantic  SemanticRunner
	Ontology  ProposalManager
	Search    DatasetSearcher
	Transform TransformRunner
	Writer    ArtifactWriter
	Registry  ConnectionTester
	Box       CredentialBox

	Auth RoleGate // nil disables role gating (tests only)

	Version     string
	StorageMode string

	CORSOrigins     []string         // Allowed CORS origins. Defaults to ["*"].
	RateLimit       *RateLimitConfig // Per-IP rate limiting config. Nil disables rate limiting.
	RateLimiterStop func()           // Populated by NewRouter when rate limiting is enabled.

	DBHealth      HealthChecker // Postgres health check (pool.Ping). Nil = skip.
	StorageHealth HealthChecker // Object store health check. Nil = skip.
}

// requireRole wraps the configured gate, passing through when none is set.
func (s *Server) requireRole(minRole domain.Role) func(http.Handler) http.Handler {
	if s.Auth == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.Auth.Require(minRole)
}

// NewRouter creates a configured chi router with all API routes mounted.
func NewRouter(srv *Server) chi.Router {
	r := chi.NewRouter()

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	// When AllowCredentials is true, Access-Control-Allow-Origin must not be
	// "*". A configured wildcard switches to dynamic origin reflection.
	hasWildcard := false
	for _, o := range corsOrigins {
		if o == "*" {
			hasWildcard = true
			break
		}
	}

	corsOpts := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "X-Row-Count", "X-Execution-Time-Ms", "RateLimit-Limit", "RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	if hasWildcard {
		slog.Warn("CORS: wildcard origin '*' with AllowCredentials, using dynamic origin reflection")
		corsOpts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		corsOpts.AllowedOrigins = corsOrigins
	}

	r.Use(cors.Handler(corsOpts))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Health (unauthenticated, outside /api/v1)
	r.Get("/health", srv.HandleHealth)
	r.Get("/health/live", srv.HandleHealthLive)
	r.Get("/health/ready", srv.HandleHealthReady)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limitJSONBody)
		if srv.RateLimit != nil {
			rl, mw := RateLimit(*srv.RateLimit)
			srv.RateLimiterStop = rl.Stop
			r.Use(mw)
		}

		r.Get("/capabilities", srv.HandleCapabilities)

		MountPipelineRoutes(r, srv)
		MountQueryRoutes(r, srv)
		MountMetadataRoutes(r, srv)
		MountDatasetRoutes(r, srv)
		MountConnectionRoutes(r, srv)
		MountOntologyRoutes(r, srv)
		MountAnalyticsRoutes(r, srv)
		MountAdminRoutes(r, srv)
	})

	return r
}

// joinSteps renders agent-facing next_steps, filtering empty entries.
func joinSteps(steps ...string) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
