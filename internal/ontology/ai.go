package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/llm"
)

const aiProposalMaxTokens = 2048

// aiDraft is the shape the model is asked to emit.
type aiDraft struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// aiPropose asks the model for proposals in the same payload shapes the
// heuristics produce. Returns nil on any failure so the caller falls back.
func (m *Manager) aiPropose(ctx context.Context, pipeline *domain.Pipeline, md *domain.DatasetMetadata, existing []domain.Entity, includeRelationships, includeMetrics bool) []draft {
	prompt := buildProposalPrompt(pipeline, md, existing, includeRelationships, includeMetrics)

	text, err := m.client.Complete(ctx, prompt, aiProposalMaxTokens)
	if err != nil {
		m.logger.Warn("ai proposal failed, using heuristics", "pipeline_id", pipeline.ID, "error", err)
		return nil
	}

	var raw []aiDraft
	if !llm.ParseJSONArray(text, &raw) || len(raw) == 0 {
		m.logger.Warn("ai proposal unparseable, using heuristics", "pipeline_id", pipeline.ID)
		return nil
	}

	drafts := make([]draft, 0, len(raw))
	for _, d := range raw {
		t := domain.ProposalType(d.Type)
		switch t {
		case domain.ProposalEntity, domain.ProposalRelationship, domain.ProposalMetric, domain.ProposalDimension:
		default:
			m.logger.Warn("ai proposal with unknown type dropped", "type", d.Type)
			continue
		}
		if len(d.Payload) == 0 || string(d.Payload) == "null" {
			continue
		}
		drafts = append(drafts, draft{Type: t, Payload: d.Payload})
	}
	if len(drafts) == 0 {
		return nil
	}
	return drafts
}

func buildProposalPrompt(pipeline *domain.Pipeline, md *domain.DatasetMetadata, existing []domain.Entity, includeRelationships, includeMetrics bool) string {
	type columnInfo struct {
		Name           string   `json:"name"`
		Type           string   `json:"type"`
		SemanticType   string   `json:"semantic_type"`
		SampleValues   []string `json:"sample_values"`
		NullPercentage float64  `json:"null_percentage"`
		UniqueValues   int64    `json:"unique_values"`
	}
	var columns []columnInfo
	if md != nil {
		for _, col := range md.Columns {
			samples := col.SampleValues
			if len(samples) > 5 {
				samples = samples[:5]
			}
			columns = append(columns, columnInfo{
				Name:           col.Name,
				Type:           col.Type,
				SemanticType:   col.SemanticType,
				SampleValues:   samples,
				NullPercentage: col.NullPercentage,
				UniqueValues:   col.UniqueValues,
			})
		}
	}

	type entityRef struct {
		Name       string `json:"name"`
		PipelineID string `json:"pipeline_id"`
	}
	refs := make([]entityRef, 0, len(existing))
	for _, e := range existing {
		refs = append(refs, entityRef{Name: e.Name, PipelineID: e.PipelineID})
	}

	columnsJSON, _ := json.MarshalIndent(columns, "", "  ")
	existingJSON, _ := json.Marshal(refs)

	requested := []string{"entity (name, display_name, description, column_annotations)"}
	if includeRelationships {
		requested = append(requested, "relationships (name, from_entity, to_entity, from_column, to_column, relationship_type)")
	}
	if includeMetrics {
		requested = append(requested, "metrics (name, display_name, expression using entity_name.column, format_type)")
		requested = append(requested, "dimensions (name, display_name, expression using entity_name.column, dimension_type: direct|derived)")
	}

	var b strings.Builder
	b.WriteString("Analyze this pipeline data and propose ontology elements.\n\n")
	fmt.Fprintf(&b, "Pipeline: %s (id: %s)\n", pipeline.Name, pipeline.ID)
	fmt.Fprintf(&b, "Columns: %s\n", columnsJSON)
	fmt.Fprintf(&b, "Existing entities: %s\n\n", existingJSON)
	fmt.Fprintf(&b, "Propose: %s\n\n", strings.Join(requested, ", "))
	b.WriteString("Respond ONLY with a JSON array of objects, each with 'type' (entity/relationship/metric/dimension) ")
	b.WriteString("and 'payload' containing the fields for that type. ")
	b.WriteString("Use the pipeline name (normalized to lowercase/underscores) as the entity name. ")
	b.WriteString("Metric/dimension expressions should use entity_name.column_name format.")
	return b.String()
}
