package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camdencbrown/relay/internal/domain"
)

const connectionColumns = `id, name, type, description, credentials_encrypted,
	last_tested_at, last_test_status, created_at, updated_at`

// ConnectionStore persists the encrypted connection registry.
type ConnectionStore struct {
	pool *pgxpool.Pool
}

// NewConnectionStore creates a ConnectionStore backed by the given pool.
func NewConnectionStore(pool *pgxpool.Pool) *ConnectionStore {
	return &ConnectionStore{pool: pool}
}

func scanConnection(row pgx.Row) (*domain.Connection, error) {
	var (
		c          domain.Connection
		testStatus pgtype.Text
	)
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Description, &c.CredentialsEncrypted,
		&c.LastTestedAt, &testStatus, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if testStatus.Valid {
		c.LastTestStatus = testStatus.String
	}
	return &c, nil
}

// CreateConnection inserts a connection. A name collision maps to
// domain.ErrAlreadyExists.
func (s *ConnectionStore) CreateConnection(ctx context.Context, c *domain.Connection) error {
	query := `INSERT INTO connections (id, name, type, description, credentials_encrypted)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		c.ID, c.Name, c.Type, c.Description, c.CredentialsEncrypted,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("connection %q: %w", c.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

// ListConnections returns all connections, newest first.
func (s *ConnectionStore) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	result := []domain.Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// GetConnection returns a connection by id, or nil if it doesn't exist.
func (s *ConnectionStore) GetConnection(ctx context.Context, id string) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	c, err := scanConnection(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// GetConnectionByName returns a connection by its unique name, or nil.
func (s *ConnectionStore) GetConnectionByName(ctx context.Context, name string) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE name = $1`

	c, err := scanConnection(s.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get connection by name: %w", err)
	}
	return c, nil
}

// UpdateConnection overwrites the description and encrypted credential
// blob of an existing connection.
func (s *ConnectionStore) UpdateConnection(ctx context.Context, c *domain.Connection) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE connections SET description = $2, credentials_encrypted = $3, updated_at = NOW() WHERE id = $1`,
		c.ID, c.Description, c.CredentialsEncrypted)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

// RecordConnectionTest stores the outcome of a test_connection call.
func (s *ConnectionStore) RecordConnectionTest(ctx context.Context, id, status string, testedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE connections SET last_tested_at = $2, last_test_status = $3, updated_at = NOW() WHERE id = $1`,
		id, testedAt, status)
	if err != nil {
		return fmt.Errorf("record connection test: %w", err)
	}
	return nil
}

// DeleteConnection removes a connection. The caller checks for referencing
// pipelines first.
func (s *ConnectionStore) DeleteConnection(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
