package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camdencbrown/relay/internal/domain"
)

// EventStore appends platform analytics events. Inserts are best-effort
// from the callers' perspective; a lost event never fails the operation
// that produced it.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// InsertEvent appends one analytics record.
func (s *EventStore) InsertEvent(ctx context.Context, e *domain.Event) error {
	metadata := []byte(e.Metadata)
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}

	query := `INSERT INTO platform_events (event_type, pipeline_id, metadata)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := s.pool.QueryRow(ctx, query, e.EventType, e.PipelineID, metadata).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns events newest first, filtered by type when non-empty.
func (s *EventStore) ListEvents(ctx context.Context, eventType string, limit int) ([]domain.Event, error) {
	query := `SELECT id, event_type, pipeline_id, metadata, created_at FROM platform_events`
	args := []any{}
	argN := 1

	if eventType != "" {
		query += fmt.Sprintf(" WHERE event_type = $%d", argN)
		args = append(args, eventType)
		argN++
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	result := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.EventType, &e.PipelineID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// CountEventsByType returns event counts per type since the given time.
func (s *EventStore) CountEventsByType(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_type, COUNT(*) FROM platform_events
		 WHERE created_at >= $1 GROUP BY event_type`,
		since)
	if err != nil {
		return nil, fmt.Errorf("count events by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			eventType string
			count     int64
		)
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}
