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

const entityColumns = `id, name, display_name, description, pipeline_id,
	column_annotations, status, created_at, updated_at`

// EntityStore persists semantic entities.
type EntityStore struct {
	pool *pgxpool.Pool
}

// NewEntityStore creates an EntityStore backed by the given pool.
func NewEntityStore(pool *pgxpool.Pool) *EntityStore {
	return &EntityStore{pool: pool}
}

func scanEntity(row pgx.Row) (*domain.Entity, error) {
	var (
		e           domain.Entity
		annotations []byte
	)
	err := row.Scan(&e.ID, &e.Name, &e.DisplayName, &e.Description, &e.PipelineID,
		&annotations, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB("column_annotations", annotations, &e.ColumnAnnotations); err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEntity inserts an entity. A name collision maps to domain.ErrAlreadyExists.
func (s *EntityStore) CreateEntity(ctx context.Context, e *domain.Entity) error {
	annotations, err := marshalJSONB("column_annotations", annotationsOrEmpty(e.ColumnAnnotations))
	if err != nil {
		return err
	}

	query := `INSERT INTO entities (id, name, display_name, description, pipeline_id, column_annotations, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err = s.pool.QueryRow(ctx, query,
		e.ID, e.Name, e.DisplayName, e.Description, e.PipelineID, annotations, e.Status,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("entity %q: %w", e.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("create entity: %w", err)
	}
	return nil
}

func annotationsOrEmpty(a map[string]domain.ColumnAnnotation) map[string]domain.ColumnAnnotation {
	if a == nil {
		return map[string]domain.ColumnAnnotation{}
	}
	return a
}

// ListEntities returns entities, filtered by status when non-empty.
func (s *EntityStore) ListEntities(ctx context.Context, status domain.ObjectStatus) ([]domain.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	result := []domain.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

// GetEntity returns an entity by id, or nil if it doesn't exist.
func (s *EntityStore) GetEntity(ctx context.Context, id string) (*domain.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1`

	e, err := scanEntity(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// GetEntityByName returns an entity by its unique name, or nil.
func (s *EntityStore) GetEntityByName(ctx context.Context, name string) (*domain.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE name = $1`

	e, err := scanEntity(s.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entity by name: %w", err)
	}
	return e, nil
}

// UpdateEntity writes the entity's mutable fields.
func (s *EntityStore) UpdateEntity(ctx context.Context, e *domain.Entity) error {
	annotations, err := marshalJSONB("column_annotations", annotationsOrEmpty(e.ColumnAnnotations))
	if err != nil {
		return err
	}

	query := `UPDATE entities SET
		display_name = $2, description = $3, pipeline_id = $4,
		column_annotations = $5, status = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err = s.pool.QueryRow(ctx, query,
		e.ID, e.DisplayName, e.Description, e.PipelineID, annotations, e.Status,
	).Scan(&e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("entity %s: %w", e.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("update entity: %w", err)
	}
	return nil
}

// DeleteEntity removes an entity.
func (s *EntityStore) DeleteEntity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
