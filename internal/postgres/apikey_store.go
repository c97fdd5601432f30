package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camdencbrown/relay/internal/domain"
)

const apiKeyColumns = `id, key_hash, key_prefix, name, role, active, created_at, last_used_at`

// APIKeyStore persists hashed API credentials.
type APIKeyStore struct {
	pool *pgxpool.Pool
}

// NewAPIKeyStore creates an APIKeyStore backed by the given pool.
func NewAPIKeyStore(pool *pgxpool.Pool) *APIKeyStore {
	return &APIKeyStore{pool: pool}
}

func scanAPIKey(row pgx.Row) (*domain.APIKey, error) {
	var k domain.APIKey
	err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.Role,
		&k.Active, &k.CreatedAt, &k.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// CreateAPIKey inserts a key record and fills in its generated id.
func (s *APIKeyStore) CreateAPIKey(ctx context.Context, k *domain.APIKey) error {
	query := `INSERT INTO api_keys (key_hash, key_prefix, name, role, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := s.pool.QueryRow(ctx, query,
		k.KeyHash, k.KeyPrefix, k.Name, k.Role, k.Active,
	).Scan(&k.ID, &k.CreatedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// ListAPIKeys returns all keys, newest first. Hashes are included; the API
// layer never serializes them.
func (s *APIKeyStore) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	result := []domain.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		result = append(result, *k)
	}
	return result, rows.Err()
}

// GetAPIKeyByHash returns the active key matching the given hash, or nil.
// Deactivated keys never match.
func (s *APIKeyStore) GetAPIKeyByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 AND active = true`

	k, err := scanAPIKey(s.pool.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return k, nil
}

// DeactivateAPIKey revokes a key. Revoked keys stay listed for audit.
func (s *APIKeyStore) DeactivateAPIKey(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// TouchAPIKey updates last_used_at. Called on authenticated requests;
// failures are the caller's to ignore.
func (s *APIKeyStore) TouchAPIKey(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}
