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

const dimensionColumns = `id, name, display_name, description, entity_name,
	expression, dimension_type, created_at, updated_at`

// DimensionStore persists named grouping expressions.
type DimensionStore struct {
	pool *pgxpool.Pool
}

// NewDimensionStore creates a DimensionStore backed by the given pool.
func NewDimensionStore(pool *pgxpool.Pool) *DimensionStore {
	return &DimensionStore{pool: pool}
}

func scanDimension(row pgx.Row) (*domain.Dimension, error) {
	var d domain.Dimension
	err := row.Scan(&d.ID, &d.Name, &d.DisplayName, &d.Description, &d.EntityName,
		&d.Expression, &d.Type, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDimension inserts a dimension. A name collision maps to domain.ErrAlreadyExists.
func (s *DimensionStore) CreateDimension(ctx context.Context, d *domain.Dimension) error {
	query := `INSERT INTO dimensions (id, name, display_name, description, entity_name, expression, dimension_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		d.ID, d.Name, d.DisplayName, d.Description, d.EntityName, d.Expression, d.Type,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("dimension %q: %w", d.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("create dimension: %w", err)
	}
	return nil
}

// ListDimensions returns all dimensions ordered by name.
func (s *DimensionStore) ListDimensions(ctx context.Context) ([]domain.Dimension, error) {
	query := `SELECT ` + dimensionColumns + ` FROM dimensions ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list dimensions: %w", err)
	}
	defer rows.Close()

	result := []domain.Dimension{}
	for rows.Next() {
		d, err := scanDimension(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dimension: %w", err)
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

// GetDimension returns a dimension by id, or nil if it doesn't exist.
func (s *DimensionStore) GetDimension(ctx context.Context, id string) (*domain.Dimension, error) {
	query := `SELECT ` + dimensionColumns + ` FROM dimensions WHERE id = $1`

	d, err := scanDimension(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dimension: %w", err)
	}
	return d, nil
}

// UpdateDimension writes the dimension's mutable fields.
func (s *DimensionStore) UpdateDimension(ctx context.Context, d *domain.Dimension) error {
	query := `UPDATE dimensions SET
		display_name = $2, description = $3, entity_name = $4,
		expression = $5, dimension_type = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := s.pool.QueryRow(ctx, query,
		d.ID, d.DisplayName, d.Description, d.EntityName, d.Expression, d.Type,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("dimension %s: %w", d.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("update dimension: %w", err)
	}
	return nil
}

// DeleteDimension removes a dimension.
func (s *DimensionStore) DeleteDimension(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dimensions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dimension: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dimension %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
