package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/camdencbrown/relay/internal/domain"
)

// EventStore appends and reads platform analytics events. Implemented by
// postgres.EventStore.
type EventStore interface {
	InsertEvent(ctx context.Context, e *domain.Event) error
	ListEvents(ctx context.Context, eventType string, limit int) ([]domain.Event, error)
	CountEventsByType(ctx context.Context, since time.Time) (map[string]int64, error)
}

// recordEvent appends an analytics event. Best-effort: a failed insert is
// logged and never fails the operation that produced it.
func (s *Server) recordEvent(ctx context.Context, eventType, pipelineID string, meta map[string]any) {
	if s.Events == nil {
		return
	}
	var payload json.RawMessage
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	if err := s.Events.InsertEvent(ctx, &domain.Event{
		EventType:  eventType,
		PipelineID: pipelineID,
		Metadata:   payload,
	}); err != nil {
		slog.WarnContext(ctx, "record event failed", "event_type", eventType, "error", err)
	}
}
