// Package transform executes multi-source transformations: fetch aliased
// sources, hash-join two of them on a parsed equality condition, then
// optionally group and aggregate.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/camdencbrown/relay/internal/connector"
	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/storage"
	"github.com/camdencbrown/relay/internal/tabular"
)

// PipelineArtifacts resolves a pipeline id to its latest successful
// artifact.
type PipelineArtifacts interface {
	GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error)
	LatestSuccessfulRun(ctx context.Context, pipelineID string) (*domain.Run, error)
}

// Engine runs TransformConfig recipes.
type Engine struct {
	registry  *connector.Registry
	artifacts PipelineArtifacts
	store     storage.ObjectStore
	logger    *slog.Logger
}

// New wires a transformation engine over the connector registry and the
// artifact store.
func New(registry *connector.Registry, artifacts PipelineArtifacts, store storage.ObjectStore, logger *slog.Logger) *Engine {
	return &Engine{
		registry:  registry,
		artifacts: artifacts,
		store:     store,
		logger:    logger.With("component", "transform"),
	}
}

// Execute fetches every source, applies the join if present, then the
// aggregation if present. Without a join the first source passes through.
func (e *Engine) Execute(ctx context.Context, cfg *domain.TransformConfig) (*tabular.Table, error) {
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("transformation requires at least one source")
	}

	tables := make(map[string]*tabular.Table, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src.Alias == "" {
			return nil, fmt.Errorf("transformation source requires an alias")
		}
		t, err := e.fetchSource(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("fetch source %q: %w", src.Alias, err)
		}
		tables[src.Alias] = t
	}

	result := tables[cfg.Sources[0].Alias]
	if cfg.Join != nil {
		joined, err := performJoin(tables, cfg.Join)
		if err != nil {
			return nil, err
		}
		result = joined
	}
	if cfg.Aggregate != nil {
		aggregated, err := performAggregate(result, cfg.Aggregate)
		if err != nil {
			return nil, err
		}
		result = aggregated
	}
	return result, nil
}

func (e *Engine) fetchSource(ctx context.Context, src domain.TransformSource) (*tabular.Table, error) {
	if src.Type == "pipeline" || src.PipelineID != "" {
		return e.fetchPipelineArtifact(ctx, src.PipelineID)
	}
	switch domain.SourceType(src.Type) {
	case domain.SourceRESTAPI, domain.SourceJSONURL, domain.SourceCSVURL:
		return e.registry.Fetch(ctx, domain.SourceConfig{Type: src.Type, URL: src.URL})
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSource, src.Type)
}

// fetchPipelineArtifact loads another pipeline's latest successful parquet
// output.
func (e *Engine) fetchPipelineArtifact(ctx context.Context, pipelineID string) (*tabular.Table, error) {
	if pipelineID == "" {
		return nil, fmt.Errorf("pipeline source requires pipeline_id")
	}
	pipeline, err := e.artifacts.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline %s: %w", pipelineID, domain.ErrNotFound)
	}
	run, err := e.artifacts.LatestSuccessfulRun(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if run == nil || run.OutputFile == "" {
		return nil, fmt.Errorf("pipeline %s: %w", pipelineID, domain.ErrNoData)
	}
	data, err := e.store.Get(ctx, run.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", run.OutputFile, err)
	}
	return tabular.DecodeParquet(data)
}

// parseJoinOn splits "left.col = right.col" into the two bare column names.
func parseJoinOn(on string) (leftKey, rightKey string, err error) {
	parts := strings.SplitN(on, "=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("join condition %q: want \"left.col = right.col\"", on)
	}
	leftKey = lastSegment(parts[0])
	rightKey = lastSegment(parts[1])
	if leftKey == "" || rightKey == "" {
		return "", "", fmt.Errorf("join condition %q: empty column", on)
	}
	return leftKey, rightKey, nil
}

func lastSegment(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// performJoin hash-joins the two aliased tables. Columns the right side
// shares with the left get a "_right" suffix.
func performJoin(tables map[string]*tabular.Table, join *domain.TransformJoin) (*tabular.Table, error) {
	left, ok := tables[join.Left]
	if !ok {
		return nil, fmt.Errorf("join: unknown alias %q", join.Left)
	}
	right, ok := tables[join.Right]
	if !ok {
		return nil, fmt.Errorf("join: unknown alias %q", join.Right)
	}
	leftKey, rightKey, err := parseJoinOn(join.On)
	if err != nil {
		return nil, err
	}
	how := join.How
	if how == "" {
		how = "left"
	}
	switch how {
	case "left", "right", "inner", "outer":
	default:
		return nil, fmt.Errorf("join: unknown how %q", how)
	}

	leftCols := map[string]bool{}
	for _, c := range left.Columns {
		leftCols[c] = true
	}
	rightName := func(col string) string {
		if leftCols[col] {
			return col + "_right"
		}
		return col
	}

	out := tabular.New(left.Columns...)
	for _, c := range right.Columns {
		out.Columns = append(out.Columns, rightName(c))
	}

	rightIndex := map[string][]int{}
	for i, row := range right.Rows {
		k := tabular.FormatValue(row[rightKey])
		rightIndex[k] = append(rightIndex[k], i)
	}

	emit := func(l, r map[string]any) {
		row := make(map[string]any, len(out.Columns))
		for _, c := range left.Columns {
			if l != nil {
				row[c] = l[c]
			}
		}
		for _, c := range right.Columns {
			if r != nil {
				row[rightName(c)] = r[c]
			}
		}
		out.Rows = append(out.Rows, row)
	}

	matchedRight := make(map[int]bool)
	for _, l := range left.Rows {
		k := tabular.FormatValue(l[leftKey])
		matches := rightIndex[k]
		if len(matches) == 0 {
			if how == "left" || how == "outer" {
				emit(l, nil)
			}
			continue
		}
		for _, i := range matches {
			emit(l, right.Rows[i])
			matchedRight[i] = true
		}
	}
	if how == "right" || how == "outer" {
		for i, r := range right.Rows {
			if !matchedRight[i] {
				emit(nil, r)
			}
		}
	}
	return out, nil
}

// performAggregate groups rows by the group_by columns and computes
// COUNT/SUM/AVG/MIN/MAX metrics.
func performAggregate(t *tabular.Table, agg *domain.TransformAggregate) (*tabular.Table, error) {
	if len(agg.GroupBy) == 0 {
		return nil, fmt.Errorf("aggregate requires group_by columns")
	}
	type parsedMetric struct {
		name string
		fn   string
		col  string
	}
	var metrics []parsedMetric
	for name, expr := range agg.Metrics {
		fn, col, err := parseMetricExpr(expr)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", name, err)
		}
		metrics = append(metrics, parsedMetric{name: name, fn: fn, col: col})
	}
	// Deterministic metric column order.
	for i := 0; i < len(metrics); i++ {
		for j := i + 1; j < len(metrics); j++ {
			if metrics[j].name < metrics[i].name {
				metrics[i], metrics[j] = metrics[j], metrics[i]
			}
		}
	}

	groupCols := make([]string, len(agg.GroupBy))
	for i, g := range agg.GroupBy {
		groupCols[i] = lastSegment(g)
	}

	type groupState struct {
		key    map[string]any
		counts []int64
		sums   []float64
		mins   []float64
		maxs   []float64
	}
	groups := map[string]*groupState{}
	var order []string

	for _, row := range t.Rows {
		var keyParts []string
		keyVals := make(map[string]any, len(groupCols))
		for _, g := range groupCols {
			keyParts = append(keyParts, tabular.FormatValue(row[g]))
			keyVals[g] = row[g]
		}
		key := strings.Join(keyParts, "\x00")
		st, ok := groups[key]
		if !ok {
			st = &groupState{
				key:    keyVals,
				counts: make([]int64, len(metrics)),
				sums:   make([]float64, len(metrics)),
				mins:   make([]float64, len(metrics)),
				maxs:   make([]float64, len(metrics)),
			}
			groups[key] = st
			order = append(order, key)
		}
		for i, m := range metrics {
			v := row[m.col]
			if v == nil {
				continue
			}
			f, isNum := toFloat(v)
			if m.fn != "count" && !isNum {
				continue
			}
			if isNum {
				if st.counts[i] == 0 {
					st.mins[i] = f
					st.maxs[i] = f
				} else {
					if f < st.mins[i] {
						st.mins[i] = f
					}
					if f > st.maxs[i] {
						st.maxs[i] = f
					}
				}
				st.sums[i] += f
			}
			st.counts[i]++
		}
	}

	columns := append([]string{}, groupCols...)
	for _, m := range metrics {
		columns = append(columns, m.name)
	}
	out := tabular.New(columns...)
	for _, key := range order {
		st := groups[key]
		row := make(map[string]any, len(columns))
		for _, g := range groupCols {
			row[g] = st.key[g]
		}
		for i, m := range metrics {
			switch m.fn {
			case "count":
				row[m.name] = st.counts[i]
			case "sum":
				row[m.name] = st.sums[i]
			case "avg":
				if st.counts[i] > 0 {
					row[m.name] = st.sums[i] / float64(st.counts[i])
				}
			case "min":
				if st.counts[i] > 0 {
					row[m.name] = st.mins[i]
				}
			case "max":
				if st.counts[i] > 0 {
					row[m.name] = st.maxs[i]
				}
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// parseMetricExpr parses "SUM(col)" style expressions.
func parseMetricExpr(expr string) (fn, col string, err error) {
	open := strings.Index(expr, "(")
	end := strings.LastIndex(expr, ")")
	if open < 1 || end <= open {
		return "", "", fmt.Errorf("want FUNC(column), got %q", expr)
	}
	fn = strings.ToLower(strings.TrimSpace(expr[:open]))
	col = lastSegment(expr[open+1 : end])
	switch fn {
	case "count", "sum", "avg", "min", "max":
		return fn, col, nil
	}
	return "", "", fmt.Errorf("unsupported aggregate %q", fn)
}

func toFloat(v any) (float64, bool) {
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
