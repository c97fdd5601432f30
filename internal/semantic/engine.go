// Package semantic compiles ontology-level queries (metrics + dimensions)
// into SQL over pipeline tables and executes them through the query engine.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/llm"
	"github.com/camdencbrown/relay/internal/queryengine"
)

// SnapshotSource loads the read-consistent ontology view.
type SnapshotSource interface {
	GetOntologySnapshot(ctx context.Context) (*domain.OntologySnapshot, error)
}

// PipelineSource maps entity pipeline ids to pipelines for table aliasing.
type PipelineSource interface {
	GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error)
}

// QueryExecutor runs the composed SQL. Implemented by queryengine.Engine.
type QueryExecutor interface {
	Execute(ctx context.Context, pipelineIDs []string, sql string, limit int) (*queryengine.Result, error)
}

// Request is a semantic query: either structured (metrics/dimensions) or a
// natural-language question.
type Request struct {
	Metrics         []string `json:"metrics,omitempty"`
	Dimensions      []string `json:"dimensions,omitempty"`
	Filters         []string `json:"filters,omitempty"`
	OrderBy         []string `json:"order_by,omitempty"`
	Limit           int      `json:"limit,omitempty"`
	NaturalLanguage string   `json:"natural_language,omitempty"`
}

// Result is a query result enriched with how it was compiled.
type Result struct {
	queryengine.Result
	GeneratedSQL         string   `json:"generated_sql"`
	EntitiesUsed         []string `json:"entities_used"`
	NaturalLanguageQuery string   `json:"natural_language_query,omitempty"`
	Explanation          string   `json:"explanation,omitempty"`
}

// Engine resolves semantic queries against the ontology.
type Engine struct {
	snapshots SnapshotSource
	pipelines PipelineSource
	executor  QueryExecutor
	client    llm.Client
	logger    *slog.Logger
}

// New wires a semantic engine. client may be nil, which disables the
// natural-language path.
func New(snapshots SnapshotSource, pipelines PipelineSource, executor QueryExecutor, client llm.Client, logger *slog.Logger) *Engine {
	return &Engine{
		snapshots: snapshots,
		pipelines: pipelines,
		executor:  executor,
		client:    client,
		logger:    logger.With("component", "semantic"),
	}
}

// Execute routes to the structured or natural-language path.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.NaturalLanguage != "" {
		return e.executeNaturalLanguage(ctx, req.NaturalLanguage)
	}
	return e.executeStructured(ctx, req)
}

func (e *Engine) executeStructured(ctx context.Context, req Request) (*Result, error) {
	if len(req.Metrics) == 0 && len(req.Dimensions) == 0 {
		return nil, domain.ErrEmptyQuery
	}

	snap, err := e.snapshots.GetOntologySnapshot(ctx)
	if err != nil {
		return nil, err
	}

	entitiesByName := make(map[string]domain.Entity, len(snap.Entities))
	for _, ent := range snap.Entities {
		entitiesByName[ent.Name] = ent
	}
	metricsByName := make(map[string]domain.Metric, len(snap.Metrics))
	for _, m := range snap.Metrics {
		metricsByName[m.Name] = m
	}
	dimensionsByName := make(map[string]domain.Dimension, len(snap.Dimensions))
	for _, d := range snap.Dimensions {
		dimensionsByName[d.Name] = d
	}

	// Touched entities in first-reference order, metrics before dimensions,
	// so the entity owning the aggregates is the join root. Rooting at a
	// dimension entity would let the LEFT JOIN drop fact rows without a
	// matching dimension row.
	var touched []string
	touch := func(name string) {
		for _, t := range touched {
			if t == name {
				return
			}
		}
		touched = append(touched, name)
	}

	metricParts := make([]string, 0, len(req.Metrics))
	for _, name := range req.Metrics {
		expr, entity, err := resolveMetric(name, metricsByName, map[string]bool{})
		if err != nil {
			return nil, err
		}
		touch(entity)
		metricParts = append(metricParts, fmt.Sprintf("%s AS %s", expr, name))
	}

	var selectParts, groupByParts []string
	for _, name := range req.Dimensions {
		dim, ok := dimensionsByName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownDimension, name)
		}
		touch(dim.EntityName)
		selectParts = append(selectParts, fmt.Sprintf("%s AS %s", dim.Expression, name))
		groupByParts = append(groupByParts, dim.Expression)
	}
	selectParts = append(selectParts, metricParts...)

	tableMap, pipelineIDs, err := e.buildTableMap(ctx, touched, entitiesByName)
	if err != nil {
		return nil, err
	}

	fromClause, err := buildJoinGraph(touched, snap.Relationships, tableMap)
	if err != nil {
		return nil, err
	}

	sub := newAliasSubstituter(tableMap)
	var sql strings.Builder
	sql.WriteString("SELECT " + strings.Join(sub.all(selectParts), ", "))
	sql.WriteString(" FROM " + fromClause)
	if len(req.Filters) > 0 {
		sql.WriteString(" WHERE " + strings.Join(sub.all(req.Filters), " AND "))
	}
	if len(groupByParts) > 0 {
		sql.WriteString(" GROUP BY " + strings.Join(sub.all(groupByParts), ", "))
	}
	if len(req.OrderBy) > 0 {
		sql.WriteString(" ORDER BY " + strings.Join(sub.all(req.OrderBy), ", "))
	}
	if req.Limit > 0 {
		fmt.Fprintf(&sql, " LIMIT %d", req.Limit)
	}

	generated := sql.String()
	e.logger.Info("semantic query compiled", "entities", touched, "sql", generated)

	qr, err := e.executor.Execute(ctx, pipelineIDs, generated, req.Limit)
	if err != nil {
		return nil, err
	}
	return &Result{Result: *qr, GeneratedSQL: generated, EntitiesUsed: touched}, nil
}

// resolveMetric returns the metric's expression with every ${ref} expanded,
// plus its owning entity. seen guards against reference cycles.
func resolveMetric(name string, metrics map[string]domain.Metric, seen map[string]bool) (string, string, error) {
	if seen[name] {
		return "", "", fmt.Errorf("%w: %s", domain.ErrCircularMetric, name)
	}
	seen[name] = true

	metric, ok := metrics[name]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", domain.ErrUnknownMetric, name)
	}

	expr := metric.Expression
	for _, m := range metricRefPattern.FindAllStringSubmatch(expr, -1) {
		refExpr, _, err := resolveMetric(m[1], metrics, seen)
		if err != nil {
			return "", "", err
		}
		expr = strings.ReplaceAll(expr, m[0], "("+refExpr+")")
	}
	return expr, metric.EntityName, nil
}

var metricRefPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// buildTableMap maps each touched entity to its pipeline's derived table
// name and collects the distinct pipeline ids.
func (e *Engine) buildTableMap(ctx context.Context, touched []string, entities map[string]domain.Entity) (map[string]string, []string, error) {
	tableMap := make(map[string]string, len(touched))
	var pipelineIDs []string
	seen := map[string]bool{}
	for _, name := range touched {
		ent, ok := entities[name]
		if !ok {
			return nil, nil, fmt.Errorf("entity %s: %w", name, domain.ErrNotFound)
		}
		pipeline, err := e.pipelines.GetPipeline(ctx, ent.PipelineID)
		if err != nil {
			return nil, nil, err
		}
		if pipeline == nil {
			return nil, nil, fmt.Errorf("pipeline %s for entity %s: %w", ent.PipelineID, name, domain.ErrNotFound)
		}
		tableMap[name] = pipeline.TableName()
		if !seen[ent.PipelineID] {
			seen[ent.PipelineID] = true
			pipelineIDs = append(pipelineIDs, ent.PipelineID)
		}
	}
	return tableMap, pipelineIDs, nil
}

// buildJoinGraph BFS-walks relationships between touched entities starting
// at the first one and emits a FROM clause with LEFT JOINs. Relationships
// are traversed in both directions. An unreachable touched entity fails
// with ErrDisconnectedOntology.
func buildJoinGraph(touched []string, relationships []domain.Relationship, tableMap map[string]string) (string, error) {
	if len(touched) == 0 {
		return "", domain.ErrEmptyQuery
	}
	root := touched[0]
	if len(touched) == 1 {
		return tableMap[root], nil
	}

	inTouched := make(map[string]bool, len(touched))
	for _, name := range touched {
		inTouched[name] = true
	}
	adjacency := map[string][]domain.Relationship{}
	for _, rel := range relationships {
		if inTouched[rel.FromEntity] && inTouched[rel.ToEntity] {
			adjacency[rel.FromEntity] = append(adjacency[rel.FromEntity], rel)
			adjacency[rel.ToEntity] = append(adjacency[rel.ToEntity], rel)
		}
	}

	visited := map[string]bool{root: true}
	queue := []string{root}
	var joins []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, rel := range adjacency[current] {
			onClause := fmt.Sprintf("%s.%s = %s.%s",
				tableMap[rel.FromEntity], rel.FromColumn, tableMap[rel.ToEntity], rel.ToColumn)
			switch {
			case rel.FromEntity == current && !visited[rel.ToEntity]:
				joins = append(joins, fmt.Sprintf("LEFT JOIN %s ON %s", tableMap[rel.ToEntity], onClause))
				visited[rel.ToEntity] = true
				queue = append(queue, rel.ToEntity)
			case rel.ToEntity == current && !visited[rel.FromEntity]:
				joins = append(joins, fmt.Sprintf("LEFT JOIN %s ON %s", tableMap[rel.FromEntity], onClause))
				visited[rel.FromEntity] = true
				queue = append(queue, rel.FromEntity)
			}
		}
	}

	for _, name := range touched {
		if !visited[name] {
			return "", fmt.Errorf("%w: entity %s is unreachable from %s", domain.ErrDisconnectedOntology, name, root)
		}
	}

	from := tableMap[root]
	if len(joins) > 0 {
		from += " " + strings.Join(joins, " ")
	}
	return from, nil
}

// aliasSubstituter rewrites entity.column references to table.column.
type aliasSubstituter struct {
	patterns []*regexp.Regexp
	aliases  []string
}

func newAliasSubstituter(tableMap map[string]string) *aliasSubstituter {
	s := &aliasSubstituter{}
	for entity, table := range tableMap {
		s.patterns = append(s.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(entity)+`\.`))
		s.aliases = append(s.aliases, table+".")
	}
	return s
}

func (s *aliasSubstituter) apply(expr string) string {
	for i, p := range s.patterns {
		expr = p.ReplaceAllString(expr, s.aliases[i])
	}
	return expr
}

func (s *aliasSubstituter) all(exprs []string) []string {
	out := make([]string, len(exprs))
	for i, expr := range exprs {
		out[i] = s.apply(expr)
	}
	return out
}
