package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/llm"
	"github.com/camdencbrown/relay/internal/tabular"
)

type aiColumnInfo struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	SemanticType   string   `json:"semantic_type"`
	SampleValues   []string `json:"sample_values"`
	NullPercentage float64  `json:"null_percentage"`
	UniqueValues   int64    `json:"unique_values"`
}

type aiDescription struct {
	Description     string `json:"description"`
	BusinessMeaning string `json:"business_meaning"`
}

// enhance asks the LLM for descriptions of the columns still needing review
// and applies whatever parses. Any failure leaves the heuristic output
// untouched.
func (g *Generator) enhance(ctx context.Context, md *domain.DatasetMetadata, sample *tabular.Table) {
	var pending []aiColumnInfo
	for _, col := range md.Columns {
		if !col.NeedsReview {
			continue
		}
		info := aiColumnInfo{
			Name:           col.Name,
			Type:           col.Type,
			SemanticType:   col.SemanticType,
			SampleValues:   col.SampleValues,
			NullPercentage: col.NullPercentage,
			UniqueValues:   col.UniqueValues,
		}
		for _, v := range sample.Column(col.Name) {
			if v == nil {
				continue
			}
			if len(info.SampleValues) >= 10 {
				break
			}
			info.SampleValues = append(info.SampleValues, tabular.FormatValue(v))
		}
		pending = append(pending, info)
	}
	if len(pending) == 0 {
		return
	}

	encoded, err := json.MarshalIndent(pending, "", "  ")
	if err != nil {
		return
	}
	prompt := fmt.Sprintf(`Analyze this dataset and provide semantic descriptions for each column.

Dataset context: %s

Columns to analyze:
%s

For each column, provide:
1. description: Clear, concise description
2. business_meaning: What this represents in business terms

Respond ONLY with valid JSON mapping column names to their analysis objects.`,
		md.PipelineName, encoded)

	text, err := g.llm.Complete(ctx, prompt, 2048)
	if err != nil {
		g.logger.Warn("ai enhancement skipped", "error", err)
		return
	}
	var described map[string]aiDescription
	if !llm.ParseJSONObject(text, &described) {
		g.logger.Warn("ai enhancement skipped", "error", "unparseable response")
		return
	}

	applied := false
	for i := range md.Columns {
		col := &md.Columns[i]
		if !col.NeedsReview {
			continue
		}
		if d, ok := described[col.Name]; ok && d.Description != "" {
			col.Description = d.Description
			col.BusinessMeaning = d.BusinessMeaning
			applied = true
		}
	}
	md.AIEnhanced = applied
}
