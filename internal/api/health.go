package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 2 * time.Second

// HandleHealth reports overall service health with per-component status.
// GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	db := s.componentStatus(ctx, s.DBHealth)
	components := map[string]string{
		"database":     db,
		"query_engine": "duckdb",
		"storage":      s.StorageMode,
	}
	if db == "down" {
		status = "degraded"
	}
	if s.StorageHealth != nil {
		if err := s.StorageHealth.HealthCheck(ctx); err != nil {
			components["storage"] = "down"
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"service":    "relay",
		"version":    s.Version,
		"components": components,
	})
}

func (s *Server) componentStatus(ctx context.Context, hc HealthChecker) string {
	if hc == nil {
		return "unknown"
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return "down"
	}
	return "up"
}

// HandleHealthLive is a trivial liveness probe.
// GET /health/live
func (s *Server) HandleHealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleHealthReady reports readiness: the service can take traffic only
// when the database answers.
// GET /health/ready
func (s *Server) HandleHealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if s.DBHealth != nil {
		if err := s.DBHealth.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": "database unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
