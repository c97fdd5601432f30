package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camdencbrown/relay/internal/domain"
)

// pipelineColumns is the full column list for pipeline queries.
const pipelineColumns = `id, name, kind, status, description, source, destination,
	options, schedule, transform, created_at, updated_at`

// PipelineStore persists pipelines backed by Postgres.
type PipelineStore struct {
	pool *pgxpool.Pool
}

// NewPipelineStore creates a PipelineStore backed by the given pool.
func NewPipelineStore(pool *pgxpool.Pool) *PipelineStore {
	return &PipelineStore{pool: pool}
}

// scanPipeline scans a single pipeline row into domain.Pipeline.
func scanPipeline(row pgx.Row) (*domain.Pipeline, error) {
	var (
		p                                      domain.Pipeline
		source, destination, options, schedule []byte
		transform                              []byte
	)

	err := row.Scan(&p.ID, &p.Name, &p.Kind, &p.Status, &p.Description,
		&source, &destination, &options, &schedule, &transform,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB("source", source, &p.Source); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB("destination", destination, &p.Destination); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB("options", options, &p.Options); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB("schedule", schedule, &p.Schedule); err != nil {
		return nil, err
	}
	if len(transform) > 0 {
		p.Transform = &domain.TransformConfig{}
		if err := unmarshalJSONB("transform", transform, p.Transform); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// CreatePipeline inserts a new pipeline. A name collision maps to
// domain.ErrAlreadyExists.
func (s *PipelineStore) CreatePipeline(ctx context.Context, p *domain.Pipeline) error {
	source, err := marshalJSONB("source", p.Source)
	if err != nil {
		return err
	}
	destination, err := marshalJSONB("destination", p.Destination)
	if err != nil {
		return err
	}
	options, err := marshalJSONB("options", p.Options)
	if err != nil {
		return err
	}
	schedule, err := marshalJSONB("schedule", p.Schedule)
	if err != nil {
		return err
	}
	var transform []byte
	if p.Transform != nil {
		if transform, err = marshalJSONB("transform", p.Transform); err != nil {
			return err
		}
	}

	query := `INSERT INTO pipelines (id, name, kind, status, description, source, destination, options, schedule, transform)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err = s.pool.QueryRow(ctx, query,
		p.ID, p.Name, p.Kind, p.Status, p.Description,
		source, destination, options, schedule, transform,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("pipeline %q: %w", p.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("create pipeline: %w", err)
	}
	return nil
}

// ListPipelines returns all pipelines, newest first.
func (s *PipelineStore) ListPipelines(ctx context.Context) ([]domain.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	return collectPipelines(rows)
}

// ListScheduledPipelines returns pipelines whose schedule is enabled.
func (s *PipelineStore) ListScheduledPipelines(ctx context.Context) ([]domain.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines
		WHERE (schedule->>'enabled')::boolean = true
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list scheduled pipelines: %w", err)
	}
	defer rows.Close()

	return collectPipelines(rows)
}

// ListPipelinesUsingConnection returns pipelines whose source references the
// given connection by id or name.
func (s *PipelineStore) ListPipelinesUsingConnection(ctx context.Context, idOrName ...string) ([]domain.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines
		WHERE source->>'connection' = ANY($1)
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, idOrName)
	if err != nil {
		return nil, fmt.Errorf("list pipelines using connection: %w", err)
	}
	defer rows.Close()

	return collectPipelines(rows)
}

func collectPipelines(rows pgx.Rows) ([]domain.Pipeline, error) {
	result := []domain.Pipeline{}
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// GetPipeline returns a pipeline by id, or nil if it doesn't exist.
func (s *PipelineStore) GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE id = $1`

	p, err := scanPipeline(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	return p, nil
}

// UpdatePipelineStatus sets the pipeline lifecycle status.
func (s *PipelineStore) UpdatePipelineStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pipelines SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("update pipeline status: %w", err)
	}
	return nil
}

// UpdateSchedule replaces the pipeline's schedule config.
func (s *PipelineStore) UpdateSchedule(ctx context.Context, id string, schedule domain.ScheduleConfig) error {
	data, err := marshalJSONB("schedule", schedule)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipelines SET schedule = $2, updated_at = NOW() WHERE id = $1`,
		id, data)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pipeline %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SetLastScheduledRun records the tick a schedule last dispatched at. Only
// called after a successful dispatch, so a failed dispatch retries next tick.
func (s *PipelineStore) SetLastScheduledRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pipelines
		 SET schedule = jsonb_set(schedule, '{last_scheduled_run}', to_jsonb($2::timestamptz), true),
		     updated_at = NOW()
		 WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("set last scheduled run: %w", err)
	}
	return nil
}

// DeletePipeline removes a pipeline. Runs and dataset metadata cascade via
// foreign keys.
func (s *PipelineStore) DeletePipeline(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pipeline %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
