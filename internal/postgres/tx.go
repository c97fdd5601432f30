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

// ProposalStore persists generated ontology proposals and their review
// lifecycle. Approval materializes the payload into the target ontology
// table and flips the proposal status inside one transaction, so the two
// either land together or not at all.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a ProposalStore backed by the given pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

const proposalColumns = `id, proposal_type, payload, source_pipeline_id, proposed_by,
	status, reviewed_by, review_notes, created_at, reviewed_at`

func scanProposal(row pgx.Row) (*domain.Proposal, error) {
	var p domain.Proposal
	err := row.Scan(&p.ID, &p.Type, &p.Payload, &p.SourcePipelineID, &p.ProposedBy,
		&p.Status, &p.ReviewedBy, &p.ReviewNotes, &p.CreatedAt, &p.ReviewedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProposal inserts a pending proposal.
func (s *ProposalStore) CreateProposal(ctx context.Context, p *domain.Proposal) error {
	query := `INSERT INTO proposals (id, proposal_type, payload, source_pipeline_id, proposed_by, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := s.pool.QueryRow(ctx, query,
		p.ID, p.Type, []byte(p.Payload), p.SourcePipelineID, p.ProposedBy, p.Status,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

// ListProposals returns proposals newest first, filtered by status when
// non-empty.
func (s *ProposalStore) ListProposals(ctx context.Context, status domain.ProposalStatus) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	result := []domain.Proposal{}
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// GetProposal returns a proposal by id, or nil if it doesn't exist.
func (s *ProposalStore) GetProposal(ctx context.Context, id string) (*domain.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`

	p, err := scanProposal(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// ApproveProposalTx atomically materializes a pending proposal into its
// ontology table and marks it approved. The materialized object gets the
// given fresh id, never one carried in the payload. Non-pending proposals
// return domain.ErrInvalidTransition; a payload that collides with an
// existing object (e.g. duplicate entity name) rolls the whole approval
// back with domain.ErrAlreadyExists so the proposal stays pending.
func (s *ProposalStore) ApproveProposalTx(ctx context.Context, proposalID, objectID, reviewedBy, notes string) (*domain.Proposal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin approve tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Step 1: lock the proposal row and check it is still pending.
	p, err := scanProposal(tx.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1 FOR UPDATE`, proposalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("proposal %s: %w", proposalID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("lock proposal: %w", err)
	}
	if p.Status != domain.ProposalPending {
		return nil, fmt.Errorf("proposal %s is %s: %w", proposalID, p.Status, domain.ErrInvalidTransition)
	}

	// Step 2: materialize the payload into the target table.
	if err := materializeProposal(ctx, tx, p, objectID); err != nil {
		return nil, err
	}

	// Step 3: flip the proposal to approved.
	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE proposals SET status = $2, reviewed_by = $3, review_notes = $4, reviewed_at = $5 WHERE id = $1`,
		proposalID, domain.ProposalApproved, reviewedBy, notes, now)
	if err != nil {
		return nil, fmt.Errorf("mark proposal approved: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit approve tx: %w", err)
	}

	p.Status = domain.ProposalApproved
	p.ReviewedBy = reviewedBy
	p.ReviewNotes = notes
	p.ReviewedAt = &now
	return p, nil
}

// materializeProposal inserts the proposal payload into its ontology table
// under a fresh id.
func materializeProposal(ctx context.Context, tx pgx.Tx, p *domain.Proposal, objectID string) error {
	wrapConflict := func(err error, name string) error {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%s %q: %w", p.Type, name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("materialize %s: %w", p.Type, err)
	}

	switch p.Type {
	case domain.ProposalEntity:
		var e domain.Entity
		if err := unmarshalJSONB("payload", p.Payload, &e); err != nil {
			return err
		}
		annotations, err := marshalJSONB("column_annotations", annotationsOrEmpty(e.ColumnAnnotations))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO entities (id, name, display_name, description, pipeline_id, column_annotations, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			objectID, e.Name, e.DisplayName, e.Description, e.PipelineID, annotations, domain.StatusActive)
		if err != nil {
			return wrapConflict(err, e.Name)
		}

	case domain.ProposalRelationship:
		var r domain.Relationship
		if err := unmarshalJSONB("payload", p.Payload, &r); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO relationships (id, name, from_entity, to_entity, from_column, to_column, relationship_type, description)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			objectID, r.Name, r.FromEntity, r.ToEntity, r.FromColumn, r.ToColumn, r.Type, r.Description)
		if err != nil {
			return wrapConflict(err, r.Name)
		}

	case domain.ProposalMetric:
		var m domain.Metric
		if err := unmarshalJSONB("payload", p.Payload, &m); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO metrics (id, name, display_name, description, entity_name, expression, format_type)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			objectID, m.Name, m.DisplayName, m.Description, m.EntityName, m.Expression, m.FormatType)
		if err != nil {
			return wrapConflict(err, m.Name)
		}

	case domain.ProposalDimension:
		var d domain.Dimension
		if err := unmarshalJSONB("payload", p.Payload, &d); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO dimensions (id, name, display_name, description, entity_name, expression, dimension_type)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			objectID, d.Name, d.DisplayName, d.Description, d.EntityName, d.Expression, d.Type)
		if err != nil {
			return wrapConflict(err, d.Name)
		}

	default:
		return fmt.Errorf("unknown proposal type %q", p.Type)
	}
	return nil
}

// RejectProposal marks a pending proposal rejected. Non-pending proposals
// return domain.ErrInvalidTransition.
func (s *ProposalStore) RejectProposal(ctx context.Context, id, reviewedBy, notes string) (*domain.Proposal, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE proposals SET status = $2, reviewed_by = $3, review_notes = $4, reviewed_at = $5
		 WHERE id = $1 AND status = 'pending'`,
		id, domain.ProposalRejected, reviewedBy, notes, now)
	if err != nil {
		return nil, fmt.Errorf("reject proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, getErr := s.GetProposal(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("proposal %s is %s: %w", id, existing.Status, domain.ErrInvalidTransition)
	}
	return s.GetProposal(ctx, id)
}
