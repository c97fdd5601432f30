package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/llm"
)

const nlMaxTokens = 1024

// nlQuery is the structured request the model is asked to produce.
type nlQuery struct {
	Metrics     []string `json:"metrics"`
	Dimensions  []string `json:"dimensions"`
	Filters     []string `json:"filters"`
	OrderBy     []string `json:"order_by"`
	Limit       int      `json:"limit"`
	Explanation string   `json:"explanation"`
}

// executeNaturalLanguage converts a question into a structured request via
// the LLM and runs it through the normal resolver.
func (e *Engine) executeNaturalLanguage(ctx context.Context, question string) (*Result, error) {
	if e.client == nil {
		return nil, domain.ErrNLUnavailable
	}

	snap, err := e.snapshots.GetOntologySnapshot(ctx)
	if err != nil {
		return nil, err
	}

	text, err := e.client.Complete(ctx, buildNLPrompt(question, snap), nlMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("natural language translation: %w", err)
	}

	var parsed nlQuery
	if !llm.ParseJSONObject(text, &parsed) {
		return nil, fmt.Errorf("%w: could not parse structured query from model response", domain.ErrQueryFailed)
	}

	result, err := e.executeStructured(ctx, Request{
		Metrics:    parsed.Metrics,
		Dimensions: parsed.Dimensions,
		Filters:    parsed.Filters,
		OrderBy:    parsed.OrderBy,
		Limit:      parsed.Limit,
	})
	if err != nil {
		return nil, err
	}
	result.NaturalLanguageQuery = question
	result.Explanation = parsed.Explanation
	return result, nil
}

func buildNLPrompt(question string, snap *domain.OntologySnapshot) string {
	type entityInfo struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	type exprInfo struct {
		Name       string `json:"name"`
		Expression string `json:"expression"`
		Entity     string `json:"entity"`
	}
	type relInfo struct {
		From string `json:"from"`
		To   string `json:"to"`
		On   string `json:"on"`
	}

	entities := make([]entityInfo, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		entities = append(entities, entityInfo{Name: e.Name, Description: e.Description})
	}
	metrics := make([]exprInfo, 0, len(snap.Metrics))
	for _, m := range snap.Metrics {
		metrics = append(metrics, exprInfo{Name: m.Name, Expression: m.Expression, Entity: m.EntityName})
	}
	dimensions := make([]exprInfo, 0, len(snap.Dimensions))
	for _, d := range snap.Dimensions {
		dimensions = append(dimensions, exprInfo{Name: d.Name, Expression: d.Expression, Entity: d.EntityName})
	}
	relationships := make([]relInfo, 0, len(snap.Relationships))
	for _, r := range snap.Relationships {
		relationships = append(relationships, relInfo{
			From: r.FromEntity,
			To:   r.ToEntity,
			On:   fmt.Sprintf("%s.%s = %s.%s", r.FromEntity, r.FromColumn, r.ToEntity, r.ToColumn),
		})
	}

	entitiesJSON, _ := json.Marshal(entities)
	metricsJSON, _ := json.Marshal(metrics)
	dimensionsJSON, _ := json.Marshal(dimensions)
	relationshipsJSON, _ := json.Marshal(relationships)

	var b strings.Builder
	b.WriteString("Convert this question into a structured semantic query.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	fmt.Fprintf(&b, "Available entities: %s\n", entitiesJSON)
	fmt.Fprintf(&b, "Available metrics: %s\n", metricsJSON)
	fmt.Fprintf(&b, "Available dimensions: %s\n", dimensionsJSON)
	fmt.Fprintf(&b, "Available relationships: %s\n\n", relationshipsJSON)
	b.WriteString("Respond ONLY with valid JSON:\n")
	b.WriteString(`{"metrics": [...], "dimensions": [...], "filters": [...], "order_by": [...], "limit": N, "explanation": "..."}` + "\n")
	b.WriteString("Use only metric/dimension names from the lists above.")
	return b.String()
}
