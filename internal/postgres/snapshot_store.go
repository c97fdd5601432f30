package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camdencbrown/relay/internal/domain"
)

// SnapshotStore assembles the read-consistent ontology view the semantic
// engine works from. All reads happen inside one repeatable-read transaction
// so a concurrent approval cannot produce a snapshot that references an
// entity it does not contain.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// GetOntologySnapshot returns every active entity, relationship, metric and
// dimension plus the lineage summary derived from them.
func (s *SnapshotStore) GetOntologySnapshot(ctx context.Context) (*domain.OntologySnapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only tx

	snap := &domain.OntologySnapshot{
		Entities:      []domain.Entity{},
		Relationships: []domain.Relationship{},
		Metrics:       []domain.Metric{},
		Dimensions:    []domain.Dimension{},
	}

	rows, err := tx.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE status = $1 ORDER BY name`, domain.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("snapshot entities: %w", err)
	}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan snapshot entity: %w", err)
		}
		snap.Entities = append(snap.Entities, *e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT `+relationshipColumns+` FROM relationships ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("snapshot relationships: %w", err)
	}
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan snapshot relationship: %w", err)
		}
		snap.Relationships = append(snap.Relationships, *r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT `+metricColumns+` FROM metrics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("snapshot metrics: %w", err)
	}
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan snapshot metric: %w", err)
		}
		snap.Metrics = append(snap.Metrics, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT `+dimensionColumns+` FROM dimensions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("snapshot dimensions: %w", err)
	}
	for rows.Next() {
		d, err := scanDimension(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan snapshot dimension: %w", err)
		}
		snap.Dimensions = append(snap.Dimensions, *d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}

	snap.LineageSummary = buildLineageSummary(snap)
	return snap, nil
}

// buildLineageSummary collapses the snapshot into the compact graph view:
// the entity→pipeline map covers exactly the returned entities, and only
// edges between two returned entities appear in the relationship graph.
func buildLineageSummary(snap *domain.OntologySnapshot) domain.LineageSummary {
	summary := domain.LineageSummary{
		EntityPipelineMap: make(map[string]string, len(snap.Entities)),
		RelationshipGraph: []domain.LineageEdge{},
	}
	for _, e := range snap.Entities {
		summary.EntityPipelineMap[e.Name] = e.PipelineID
	}
	for _, r := range snap.Relationships {
		if _, ok := summary.EntityPipelineMap[r.FromEntity]; !ok {
			continue
		}
		if _, ok := summary.EntityPipelineMap[r.ToEntity]; !ok {
			continue
		}
		summary.RelationshipGraph = append(summary.RelationshipGraph, domain.LineageEdge{
			From: r.FromEntity,
			To:   r.ToEntity,
			Type: string(r.Type),
			Name: r.Name,
		})
	}
	return summary
}
