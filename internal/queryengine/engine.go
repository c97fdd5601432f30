// Package queryengine executes SQL over pipeline artifacts. Every query
// gets its own in-memory DuckDB session with one view per referenced
// pipeline, created over that pipeline's latest successful parquet output.
// Sessions are never shared or reused.
package queryengine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/storage"
)

const (
	// DefaultLimit caps interactive query results.
	DefaultLimit = 1000
	// ExportLimit caps export results.
	ExportLimit = 10000

	queryTimeout = 15 * time.Second
)

// PipelineSource loads pipeline definitions.
type PipelineSource interface {
	GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error)
}

// RunSource locates the artifact a pipeline's data lives in.
type RunSource interface {
	LatestSuccessfulRun(ctx context.Context, pipelineID string) (*domain.Run, error)
}

// MetadataSource supplies column profiles for schema listings.
type MetadataSource interface {
	GetDatasetMetadata(ctx context.Context, pipelineID string) (*domain.DatasetMetadata, error)
}

// Engine runs read queries over pipeline artifacts.
type Engine struct {
	pipelines PipelineSource
	runs      RunSource
	metadata  MetadataSource
	store     storage.ObjectStore
	logger    *slog.Logger
}

// New wires a query engine.
func New(pipelines PipelineSource, runs RunSource, metadata MetadataSource, store storage.ObjectStore, logger *slog.Logger) *Engine {
	return &Engine{
		pipelines: pipelines,
		runs:      runs,
		metadata:  metadata,
		store:     store,
		logger:    logger.With("component", "queryengine"),
	}
}

// Result is a completed query.
type Result struct {
	Rows            []map[string]any  `json:"rows"`
	Columns         []string          `json:"columns"`
	RowCount        int               `json:"row_count"`
	ExecutionTimeMS float64           `json:"execution_time_ms"`
	PipelinesUsed   map[string]string `json:"pipelines_used"`
	QueryExecuted   string            `json:"query_executed"`
}

// Execute validates the SQL, mounts each pipeline's latest artifact as a
// view named after the pipeline's derived table name, and runs the query.
// limit <= 0 means DefaultLimit.
func (e *Engine) Execute(ctx context.Context, pipelineIDs []string, query string, limit int) (*Result, error) {
	if err := validateSQL(query); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(pipelineIDs) == 0 {
		return nil, fmt.Errorf("%w: no pipelines named", domain.ErrQueryFailed)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open analytic session: %w", err)
	}
	defer db.Close()

	tableMap := make(map[string]string, len(pipelineIDs))
	var cleanups []func()
	defer func() {
		for _, fn := range cleanups {
			fn()
		}
	}()

	for _, id := range pipelineIDs {
		pipeline, path, cleanup, err := e.resolveArtifact(ctx, id)
		if cleanup != nil {
			cleanups = append(cleanups, cleanup)
		}
		if err != nil {
			return nil, err
		}
		table := pipeline.TableName()
		stmt := fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM read_parquet('%s')",
			table, strings.ReplaceAll(path, "'", "''"))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%w: mount %s: %v", domain.ErrQueryFailed, table, err)
		}
		tableMap[id] = table
	}

	executed := applyLimit(query, limit)
	rows, err := db.QueryContext(ctx, executed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQueryFailed, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQueryFailed, err)
	}

	result := &Result{
		Rows:          []map[string]any{},
		Columns:       columns,
		PipelinesUsed: tableMap,
		QueryExecuted: executed,
	}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrQueryFailed, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQueryFailed, err)
	}

	result.RowCount = len(result.Rows)
	result.ExecutionTimeMS = math.Round(float64(time.Since(start).Microseconds())/10) / 100
	e.logger.Info("query executed", "pipelines", len(pipelineIDs), "rows", result.RowCount, "ms", result.ExecutionTimeMS)
	return result, nil
}

// resolveArtifact maps a pipeline id to a local parquet path, downloading
// S3 artifacts to a temp file first. cleanup removes that temp file.
func (e *Engine) resolveArtifact(ctx context.Context, pipelineID string) (pipeline *domain.Pipeline, path string, cleanup func(), err error) {
	pipeline, err = e.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, "", nil, err
	}
	if pipeline == nil {
		return nil, "", nil, fmt.Errorf("pipeline %s: %w", pipelineID, domain.ErrNotFound)
	}
	run, err := e.runs.LatestSuccessfulRun(ctx, pipelineID)
	if err != nil {
		return nil, "", nil, err
	}
	if run == nil || run.OutputFile == "" {
		return nil, "", nil, fmt.Errorf("pipeline %q: %w", pipeline.Name, domain.ErrNoData)
	}

	uri := run.OutputFile
	if !storage.IsS3URI(uri) {
		return pipeline, uri, nil, nil
	}

	data, err := e.store.Get(ctx, uri)
	if err != nil {
		return nil, "", nil, fmt.Errorf("fetch artifact %s: %w", uri, err)
	}
	tmp, err := os.CreateTemp("", "relay-query-*.parquet")
	if err != nil {
		return nil, "", nil, fmt.Errorf("stage artifact: %w", err)
	}
	cleanup = func() { os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, "", cleanup, fmt.Errorf("stage artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, "", cleanup, fmt.Errorf("stage artifact: %w", err)
	}
	return pipeline, tmp.Name(), cleanup, nil
}

// normalizeValue maps driver values onto JSON-safe ones: byte slices become
// strings, NaN and infinities become null.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	}
	return v
}
