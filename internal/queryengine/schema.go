package queryengine

import (
	"context"
	"fmt"

	"github.com/camdencbrown/relay/internal/domain"
)

// ColumnSchema is one column of a queryable pipeline table.
type ColumnSchema struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	SemanticType string   `json:"semantic_type,omitempty"`
	Description  string   `json:"description,omitempty"`
	SampleValues []string `json:"sample_values,omitempty"`
	NullFraction float64  `json:"null_fraction"`
}

// PipelineSchema describes how a pipeline surfaces in the query layer.
type PipelineSchema struct {
	PipelineID   string         `json:"pipeline_id"`
	PipelineName string         `json:"pipeline_name"`
	TableName    string         `json:"table_name"`
	RowCount     int64          `json:"row_count"`
	HasData      bool           `json:"has_data"`
	Columns      []ColumnSchema `json:"columns"`
}

// ListPipelineSchemas returns the queryable schema for each pipeline,
// merging stored column profiles with the derived table alias. Pipelines
// without metadata still appear, with HasData false.
func (e *Engine) ListPipelineSchemas(ctx context.Context, pipelineIDs []string) ([]PipelineSchema, error) {
	schemas := make([]PipelineSchema, 0, len(pipelineIDs))
	for _, id := range pipelineIDs {
		pipeline, err := e.pipelines.GetPipeline(ctx, id)
		if err != nil {
			return nil, err
		}
		if pipeline == nil {
			return nil, fmt.Errorf("pipeline %s: %w", id, domain.ErrNotFound)
		}

		schema := PipelineSchema{
			PipelineID:   pipeline.ID,
			PipelineName: pipeline.Name,
			TableName:    pipeline.TableName(),
			Columns:      []ColumnSchema{},
		}

		md, err := e.metadata.GetDatasetMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		if md != nil {
			schema.HasData = true
			schema.RowCount = md.RowCount
			for _, col := range md.Columns {
				desc := col.Description
				if desc == "" {
					desc = col.AutoDescription
				}
				schema.Columns = append(schema.Columns, ColumnSchema{
					Name:         col.Name,
					Type:         col.Type,
					SemanticType: col.SemanticType,
					Description:  desc,
					SampleValues: col.SampleValues,
					NullFraction: col.NullPercentage / 100,
				})
			}
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}
