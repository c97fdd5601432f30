package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camdencbrown/relay/internal/domain"
)

// recentEventsLimit caps the recent_events slice in the summary.
const recentEventsLimit = 50

// MountAnalyticsRoutes registers usage-event read routes.
func MountAnalyticsRoutes(r chi.Router, srv *Server) {
	read := r.With(srv.requireRole(domain.RoleReader))

	read.Get("/analytics/summary", srv.HandleAnalyticsSummary)
	read.Get("/analytics/events", srv.HandleAnalyticsEvents)
}

// HandleAnalyticsSummary returns per-type event counts plus the newest
// events.
// GET /api/v1/analytics/summary
func (s *Server) HandleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Events.CountEventsByType(r.Context(), time.Time{})
	if err != nil {
		internalError(w, "count events failed", err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}

	recent, err := s.Events.ListEvents(r.Context(), "", recentEventsLimit)
	if err != nil {
		internalError(w, "list events failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_counts":  counts,
		"total_events":  total,
		"recent_events": recent,
	})
}

// HandleAnalyticsEvents lists raw events, newest first, filtered by type
// and pipeline.
// GET /api/v1/analytics/events?event_type=&pipeline_id=&limit=
func (s *Server) HandleAnalyticsEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := parsePagination(r)

	events, err := s.Events.ListEvents(r.Context(), q.Get("event_type"), limit)
	if err != nil {
		internalError(w, "list events failed", err)
		return
	}

	if pid := q.Get("pipeline_id"); pid != "" {
		filtered := []domain.Event{}
		for _, ev := range events {
			if ev.PipelineID == pid {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
