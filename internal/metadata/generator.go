// Package metadata profiles pipeline outputs into per-column documents:
// type, semantic type, null and uniqueness stats, samples, and an
// auto-generated description. Human-verified knowledge overrides the
// generated text; an optional LLM pass enriches whatever still needs review.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/llm"
	"github.com/camdencbrown/relay/internal/tabular"
)

// sampleSize caps the rows profiled for uniqueness, samples and stats.
const sampleSize = 1000

// KnowledgeSource supplies verified column descriptions. Implemented by
// postgres.KnowledgeStore.
type KnowledgeSource interface {
	ListColumnKnowledge(ctx context.Context) ([]domain.ColumnKnowledge, error)
}

// Generator builds DatasetMetadata documents from fetched tables.
type Generator struct {
	knowledge KnowledgeSource
	llm       llm.Client // nil disables AI enhancement
	logger    *slog.Logger
}

// NewGenerator wires a profiler over the knowledge base. client may be nil.
func NewGenerator(knowledge KnowledgeSource, client llm.Client, logger *slog.Logger) *Generator {
	return &Generator{
		knowledge: knowledge,
		llm:       client,
		logger:    logger.With("component", "metadata"),
	}
}

// Generate profiles the table and merges the verified knowledge base. When
// an LLM is configured, columns still needing review get AI descriptions;
// AI failures keep the heuristic output.
func (g *Generator) Generate(ctx context.Context, t *tabular.Table, pipelineID, pipelineName string) (*domain.DatasetMetadata, error) {
	sample := sampleRows(t, sampleSize)

	knowledge := map[string]domain.ColumnKnowledge{}
	if g.knowledge != nil {
		entries, err := g.knowledge.ListColumnKnowledge(ctx)
		if err != nil {
			return nil, fmt.Errorf("load column knowledge: %w", err)
		}
		for _, k := range entries {
			knowledge[k.Key] = k
		}
	}

	md := &domain.DatasetMetadata{
		PipelineID:   pipelineID,
		PipelineName: pipelineName,
		RowCount:     int64(t.NumRows()),
		SampledRows:  sample.NumRows(),
		GeneratedAt:  time.Now().UTC(),
	}

	for _, col := range t.Columns {
		profile := analyzeColumn(col, t.Column(col), sample.Column(col))
		if verified, ok := knowledge[domain.NormalizeColumnKey(col)]; ok {
			profile.Description = verified.Description
			profile.BusinessMeaning = verified.BusinessMeaning
			profile.HumanVerified = true
			profile.NeedsReview = false
		} else {
			profile.NeedsReview = true
		}
		md.Columns = append(md.Columns, profile)
	}

	if g.llm != nil {
		g.enhance(ctx, md, sample)
	}
	return md, nil
}

// sampleRows picks up to n random rows, preserving column order.
func sampleRows(t *tabular.Table, n int) *tabular.Table {
	if t.NumRows() <= n {
		return t
	}
	idx := rand.Perm(t.NumRows())[:n]
	rows := make([]map[string]any, n)
	for i, j := range idx {
		rows[i] = t.Rows[j]
	}
	return &tabular.Table{Columns: t.Columns, Rows: rows}
}

func analyzeColumn(name string, full, sample []any) domain.ColumnProfile {
	nullCount := int64(0)
	for _, v := range full {
		if v == nil {
			nullCount++
		}
	}
	nullPct := 0.0
	if len(full) > 0 {
		nullPct = math.Round(float64(nullCount)/float64(len(full))*100*100) / 100
	}

	unique := map[string]bool{}
	var samples []string
	var numerics []float64
	colType := "unknown"
	for _, v := range sample {
		if v == nil {
			continue
		}
		s := tabular.FormatValue(v)
		unique[s] = true
		if len(samples) < 5 {
			samples = append(samples, s)
		}
		if colType == "unknown" {
			colType = valueType(v)
		}
		if f, ok := asFloat(v); ok {
			numerics = append(numerics, f)
		}
	}
	if colType == "unknown" {
		colType = "string"
	}

	semantic := inferSemanticType(name, colType)
	profile := domain.ColumnProfile{
		Name:            name,
		Type:            colType,
		SemanticType:    semantic,
		NullCount:       nullCount,
		NullPercentage:  nullPct,
		UniqueValues:    int64(len(unique)),
		SampleValues:    samples,
		AutoDescription: autoDescription(name, colType, semantic),
	}
	if len(numerics) > 0 && (colType == "int64" || colType == "float64") {
		mn, mx, sum := numerics[0], numerics[0], 0.0
		for _, f := range numerics {
			if f < mn {
				mn = f
			}
			if f > mx {
				mx = f
			}
			sum += f
		}
		mean := sum / float64(len(numerics))
		profile.Min = &mn
		profile.Max = &mx
		profile.Mean = &mean
	}
	return profile
}

func valueType(v any) string {
	switch v.(type) {
	case int, int32, int64:
		return "int64"
	case float32, float64:
		return "float64"
	case bool:
		return "bool"
	case time.Time:
		return "timestamp"
	default:
		return "string"
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// inferSemanticType classifies by column name first, value shape second.
func inferSemanticType(name, colType string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "email"):
		return "email"
	case strings.Contains(n, "phone"), strings.Contains(n, "tel"):
		return "phone"
	case strings.Contains(n, "date"), strings.Contains(n, "time"):
		return "datetime"
	case strings.Contains(n, "id"):
		return "identifier"
	case strings.Contains(n, "name"):
		return "name"
	case strings.Contains(n, "address"), strings.Contains(n, "street"):
		return "address"
	case strings.Contains(n, "zip"), strings.Contains(n, "postal"):
		return "postal_code"
	case strings.Contains(n, "amount"), strings.Contains(n, "price"), strings.Contains(n, "cost"):
		return "currency"
	case strings.Contains(n, "percent"), strings.Contains(n, "rate"):
		return "percentage"
	}
	switch colType {
	case "int64", "float64":
		return "numeric"
	case "timestamp":
		return "datetime"
	case "bool":
		return "boolean"
	}
	return "text"
}

func autoDescription(name, colType, semantic string) string {
	readable := titleWords(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	switch semantic {
	case "email":
		return "Email address - " + readable
	case "phone":
		return "Phone number - " + readable
	case "identifier":
		return "Unique identifier - " + readable
	case "currency":
		return "Monetary amount - " + readable
	case "datetime":
		return "Date/time value - " + readable
	}
	return fmt.Sprintf("%s (%s)", readable, colType)
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
