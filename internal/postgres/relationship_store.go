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

const relationshipColumns = `id, name, from_entity, to_entity, from_column, to_column,
	relationship_type, description, created_at`

// RelationshipStore persists the join edges between entities.
type RelationshipStore struct {
	pool *pgxpool.Pool
}

// NewRelationshipStore creates a RelationshipStore backed by the given pool.
func NewRelationshipStore(pool *pgxpool.Pool) *RelationshipStore {
	return &RelationshipStore{pool: pool}
}

func scanRelationship(row pgx.Row) (*domain.Relationship, error) {
	var r domain.Relationship
	err := row.Scan(&r.ID, &r.Name, &r.FromEntity, &r.ToEntity, &r.FromColumn, &r.ToColumn,
		&r.Type, &r.Description, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRelationship inserts a relationship. A duplicate edge (same
// endpoints and columns) maps to domain.ErrAlreadyExists.
func (s *RelationshipStore) CreateRelationship(ctx context.Context, r *domain.Relationship) error {
	query := `INSERT INTO relationships (id, name, from_entity, to_entity, from_column, to_column, relationship_type, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := s.pool.QueryRow(ctx, query,
		r.ID, r.Name, r.FromEntity, r.ToEntity, r.FromColumn, r.ToColumn, r.Type, r.Description,
	).Scan(&r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("relationship %s→%s on %s: %w", r.FromEntity, r.ToEntity, r.FromColumn, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("create relationship: %w", err)
	}
	return nil
}

// ListRelationships returns all relationships.
func (s *RelationshipStore) ListRelationships(ctx context.Context) ([]domain.Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM relationships ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	result := []domain.Relationship{}
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// GetRelationship returns a relationship by id, or nil if it doesn't exist.
func (s *RelationshipStore) GetRelationship(ctx context.Context, id string) (*domain.Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM relationships WHERE id = $1`

	r, err := scanRelationship(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	return r, nil
}

// DeleteRelationship removes a relationship.
func (s *RelationshipStore) DeleteRelationship(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM relationships WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("relationship %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
