package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camdencbrown/relay/internal/domain"
)

const metadataColumns = `pipeline_id, pipeline_name, columns, row_count, sampled_rows, ai_enhanced, generated_at`

// MetadataStore persists per-pipeline dataset metadata. One row per
// pipeline, replaced on each profiling pass.
type MetadataStore struct {
	pool *pgxpool.Pool
}

// NewMetadataStore creates a MetadataStore backed by the given pool.
func NewMetadataStore(pool *pgxpool.Pool) *MetadataStore {
	return &MetadataStore{pool: pool}
}

func scanDatasetMetadata(row pgx.Row) (*domain.DatasetMetadata, error) {
	var (
		m       domain.DatasetMetadata
		columns []byte
	)
	err := row.Scan(&m.PipelineID, &m.PipelineName, &columns,
		&m.RowCount, &m.SampledRows, &m.AIEnhanced, &m.GeneratedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB("columns", columns, &m.Columns); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertDatasetMetadata replaces the pipeline's metadata document.
func (s *MetadataStore) UpsertDatasetMetadata(ctx context.Context, m *domain.DatasetMetadata) error {
	columns, err := marshalJSONB("columns", m.Columns)
	if err != nil {
		return err
	}

	query := `INSERT INTO dataset_metadata (pipeline_id, pipeline_name, columns, row_count, sampled_rows, ai_enhanced, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pipeline_id) DO UPDATE SET
			pipeline_name = EXCLUDED.pipeline_name,
			columns = EXCLUDED.columns,
			row_count = EXCLUDED.row_count,
			sampled_rows = EXCLUDED.sampled_rows,
			ai_enhanced = EXCLUDED.ai_enhanced,
			generated_at = EXCLUDED.generated_at`

	_, err = s.pool.Exec(ctx, query,
		m.PipelineID, m.PipelineName, columns, m.RowCount, m.SampledRows, m.AIEnhanced, m.GeneratedAt)
	if err != nil {
		return fmt.Errorf("upsert dataset metadata: %w", err)
	}
	return nil
}

// GetDatasetMetadata returns the pipeline's metadata document, or nil.
func (s *MetadataStore) GetDatasetMetadata(ctx context.Context, pipelineID string) (*domain.DatasetMetadata, error) {
	query := `SELECT ` + metadataColumns + ` FROM dataset_metadata WHERE pipeline_id = $1`

	m, err := scanDatasetMetadata(s.pool.QueryRow(ctx, query, pipelineID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dataset metadata: %w", err)
	}
	return m, nil
}

// ListDatasetMetadata returns every pipeline's metadata document, newest first.
func (s *MetadataStore) ListDatasetMetadata(ctx context.Context) ([]domain.DatasetMetadata, error) {
	query := `SELECT ` + metadataColumns + ` FROM dataset_metadata ORDER BY generated_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list dataset metadata: %w", err)
	}
	defer rows.Close()

	result := []domain.DatasetMetadata{}
	for rows.Next() {
		m, err := scanDatasetMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset metadata: %w", err)
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

// UpdateColumnReview applies a human review to a single profiled column,
// updating the JSONB columns array in place.
func (s *MetadataStore) UpdateColumnReview(ctx context.Context, pipelineID, columnName, description, businessMeaning string) error {
	m, err := s.GetDatasetMetadata(ctx, pipelineID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("dataset metadata for %s: %w", pipelineID, domain.ErrNotFound)
	}

	found := false
	for i := range m.Columns {
		if m.Columns[i].Name == columnName {
			m.Columns[i].Description = description
			if businessMeaning != "" {
				m.Columns[i].BusinessMeaning = businessMeaning
			}
			m.Columns[i].NeedsReview = false
			m.Columns[i].HumanVerified = true
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("column %s: %w", columnName, domain.ErrNotFound)
	}

	columns, err := marshalJSONB("columns", m.Columns)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE dataset_metadata SET columns = $2 WHERE pipeline_id = $1`,
		pipelineID, columns)
	if err != nil {
		return fmt.Errorf("update column review: %w", err)
	}
	return nil
}
