package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camdencbrown/relay/internal/domain"
)

const metricColumns = `id, name, display_name, description, entity_name,
	expression, format_type, created_at, updated_at`

// MetricStore persists named aggregate expressions.
type MetricStore struct {
	pool *pgxpool.Pool
}

// NewMetricStore creates a MetricStore backed by the given pool.
func NewMetricStore(pool *pgxpool.Pool) *MetricStore {
	return &MetricStore{pool: pool}
}

func scanMetric(row pgx.Row) (*domain.Metric, error) {
	var m domain.Metric
	err := row.Scan(&m.ID, &m.Name, &m.DisplayName, &m.Description, &m.EntityName,
		&m.Expression, &m.FormatType, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMetric inserts a metric. A name collision maps to domain.ErrAlreadyExists.
func (s *MetricStore) CreateMetric(ctx context.Context, m *domain.Metric) error {
	query := `INSERT INTO metrics (id, name, display_name, description, entity_name, expression, format_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		m.ID, m.Name, m.DisplayName, m.Description, m.EntityName, m.Expression, m.FormatType,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("metric %q: %w", m.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("create metric: %w", err)
	}
	return nil
}

// ListMetrics returns all metrics ordered by name.
func (s *MetricStore) ListMetrics(ctx context.Context) ([]domain.Metric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	result := []domain.Metric{}
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

// GetMetric returns a metric by id, or nil if it doesn't exist.
func (s *MetricStore) GetMetric(ctx context.Context, id string) (*domain.Metric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics WHERE id = $1`

	m, err := scanMetric(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get metric: %w", err)
	}
	return m, nil
}

// UpdateMetric writes the metric's mutable fields.
func (s *MetricStore) UpdateMetric(ctx context.Context, m *domain.Metric) error {
	query := `UPDATE metrics SET
		display_name = $2, description = $3, entity_name = $4,
		expression = $5, format_type = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := s.pool.QueryRow(ctx, query,
		m.ID, m.DisplayName, m.Description, m.EntityName, m.Expression, m.FormatType,
	).Scan(&m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("metric %s: %w", m.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("update metric: %w", err)
	}
	return nil
}

// DeleteMetric removes a metric.
func (s *MetricStore) DeleteMetric(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM metrics WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete metric: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("metric %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
