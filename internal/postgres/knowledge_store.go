package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camdencbrown/relay/internal/domain"
)

// KnowledgeStore persists human-verified column descriptions, keyed by the
// normalized column name so knowledge carries across pipelines.
type KnowledgeStore struct {
	pool *pgxpool.Pool
}

// NewKnowledgeStore creates a KnowledgeStore backed by the given pool.
func NewKnowledgeStore(pool *pgxpool.Pool) *KnowledgeStore {
	return &KnowledgeStore{pool: pool}
}

// UpsertColumnKnowledge records or updates a verified column description.
func (s *KnowledgeStore) UpsertColumnKnowledge(ctx context.Context, k *domain.ColumnKnowledge) error {
	query := `INSERT INTO column_knowledge (key, column_name, description, business_meaning, verified_by, verified_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (key) DO UPDATE SET
			column_name = EXCLUDED.column_name,
			description = EXCLUDED.description,
			business_meaning = EXCLUDED.business_meaning,
			verified_by = EXCLUDED.verified_by,
			verified_at = NOW()
		RETURNING verified_at`

	err := s.pool.QueryRow(ctx, query,
		k.Key, k.ColumnName, k.Description, k.BusinessMeaning, k.VerifiedBy,
	).Scan(&k.VerifiedAt)
	if err != nil {
		return fmt.Errorf("upsert column knowledge: %w", err)
	}
	return nil
}

// GetColumnKnowledge returns knowledge for a normalized column key, or nil.
func (s *KnowledgeStore) GetColumnKnowledge(ctx context.Context, key string) (*domain.ColumnKnowledge, error) {
	query := `SELECT key, column_name, description, business_meaning, verified_by, verified_at
		FROM column_knowledge WHERE key = $1`

	var k domain.ColumnKnowledge
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&k.Key, &k.ColumnName, &k.Description, &k.BusinessMeaning, &k.VerifiedBy, &k.VerifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get column knowledge: %w", err)
	}
	return &k, nil
}

// ListColumnKnowledge returns all verified column descriptions.
func (s *KnowledgeStore) ListColumnKnowledge(ctx context.Context) ([]domain.ColumnKnowledge, error) {
	query := `SELECT key, column_name, description, business_meaning, verified_by, verified_at
		FROM column_knowledge ORDER BY key`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list column knowledge: %w", err)
	}
	defer rows.Close()

	result := []domain.ColumnKnowledge{}
	for rows.Next() {
		var k domain.ColumnKnowledge
		if err := rows.Scan(&k.Key, &k.ColumnName, &k.Description, &k.BusinessMeaning,
			&k.VerifiedBy, &k.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan column knowledge: %w", err)
		}
		result = append(result, k)
	}
	return result, rows.Err()
}
