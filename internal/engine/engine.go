// Package engine executes pipelines: fetch from the source connector,
// encode, land artifacts in the object store, then profile the result. Run
// state lives in the run store; the engine reports every outcome there and
// never returns an error to its dispatcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/camdencbrown/relay/internal/connector"
	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/metadata"
	"github.com/camdencbrown/relay/internal/tabular"
)

// streamingSources fetch through the chunked path when streaming is auto.
var streamingSources = map[domain.SourceType]bool{
	domain.SourceMySQL:      true,
	domain.SourcePostgres:   true,
	domain.SourceMSSQL:      true,
	domain.SourceSalesforce: true,
	domain.SourceSynthetic:  true,
}

// PipelineSource loads pipeline definitions.
type PipelineSource interface {
	GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error)
}

// RunRecorder persists run progress and outcomes.
type RunRecorder interface {
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
}

// MetadataSink stores generated dataset profiles.
type MetadataSink interface {
	UpsertDatasetMetadata(ctx context.Context, m *domain.DatasetMetadata) error
}

// Engine runs pipelines end to end.
type Engine struct {
	pipelines PipelineSource
	runs      RunRecorder
	registry  *connector.Registry
	writer    *Writer
	metadata  *metadata.Generator
	metaSink  MetadataSink
	logger    *slog.Logger
}

// New wires an engine. metadata and metaSink may be nil to disable profiling.
func New(pipelines PipelineSource, runs RunRecorder, registry *connector.Registry, writer *Writer, gen *metadata.Generator, metaSink MetadataSink, logger *slog.Logger) *Engine {
	return &Engine{
		pipelines: pipelines,
		runs:      runs,
		registry:  registry,
		writer:    writer,
		metadata:  gen,
		metaSink:  metaSink,
		logger:    logger.With("component", "engine"),
	}
}

// useStreaming decides the fetch path for a pipeline.
func useStreaming(p *domain.Pipeline) bool {
	switch p.Options.Streaming {
	case domain.StreamingOn:
		return true
	case domain.StreamingOff:
		return false
	}
	return streamingSources[domain.SourceType(p.Source.Type)]
}

// Execute runs one pipeline attempt. The run row must already exist in
// running state. All failures, including panics, land on the run row; the
// dispatcher gets nothing back.
func (e *Engine) Execute(ctx context.Context, pipelineID, runID string) {
	logger := e.logger.With("pipeline_id", pipelineID, "run_id", runID)

	run, err := e.runs.GetRun(ctx, runID)
	if err != nil || run == nil {
		logger.Error("run lookup failed", "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			logger.Error("pipeline panicked", "panic", r)
			e.failRun(ctx, run, fmt.Errorf("panic: %v", r), &stack)
		}
	}()

	pipeline, err := e.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		e.failRun(ctx, run, fmt.Errorf("load pipeline: %w", err), nil)
		return
	}
	if pipeline == nil {
		e.failRun(ctx, run, fmt.Errorf("pipeline %s: %w", pipelineID, domain.ErrNotFound), nil)
		return
	}

	run.Streaming = useStreaming(pipeline)
	e.progress(ctx, run, "Starting...")

	var execErr error
	if run.Streaming {
		execErr = e.executeStreaming(ctx, pipeline, run)
	} else {
		execErr = e.executeInMemory(ctx, pipeline, run)
	}
	if execErr != nil {
		logger.Warn("pipeline failed", "error", execErr)
		e.failRun(ctx, run, execErr, nil)
		return
	}
	logger.Info("pipeline complete", "rows", run.RowsProcessed, "output", run.OutputFile)
}

func (e *Engine) executeInMemory(ctx context.Context, pipeline *domain.Pipeline, run *domain.Run) error {
	e.progress(ctx, run, "Fetching source data...")

	table, err := e.registry.Fetch(ctx, pipeline.Source)
	if err != nil {
		return err
	}

	e.progress(ctx, run, fmt.Sprintf("Writing %d rows to destination...", table.NumRows()))
	uri, err := e.writer.WriteTable(ctx, table, pipeline.Destination, pipeline.Options)
	if err != nil {
		return err
	}

	run.RowsProcessed = int64(table.NumRows())
	run.OutputFile = uri
	run.FilesWritten = []string{uri}

	// Profiling happens before the terminal transition because terminal
	// runs are immutable; its failure still completes the run.
	e.generateMetadata(ctx, pipeline, run, table)
	e.completeRun(ctx, run)
	return nil
}

func (e *Engine) executeStreaming(ctx context.Context, pipeline *domain.Pipeline, run *domain.Run) error {
	e.progress(ctx, run, "Fetching source data...")

	it, err := e.registry.FetchStream(ctx, pipeline.Source, pipeline.Options.ChunkSize)
	if err != nil {
		return err
	}

	e.progress(ctx, run, "Writing to destination...")
	result, err := e.writer.WriteStream(ctx, it, pipeline.Destination, pipeline.Options)
	if err != nil {
		return err
	}

	run.RowsProcessed = result.TotalRows
	run.ChunksProcessed = result.TotalChunks
	run.OutputFile = result.PrimaryFile
	run.FilesWritten = result.FilesWritten
	run.WorkersUsed = result.WorkersUsed
	e.completeRun(ctx, run)
	return nil
}

// generateMetadata profiles the fetched table once the artifacts are
// written. Its failure never fails the run.
func (e *Engine) generateMetadata(ctx context.Context, pipeline *domain.Pipeline, run *domain.Run, table *tabular.Table) {
	if e.metadata == nil || e.metaSink == nil || !pipeline.Options.MetadataEnabled() {
		return
	}
	e.progress(ctx, run, "Generating metadata...")

	md, err := e.metadata.Generate(ctx, table, pipeline.ID, pipeline.Name)
	if err == nil {
		err = e.metaSink.UpsertDatasetMetadata(ctx, md)
	}
	if err != nil {
		e.logger.Error("metadata generation failed", "pipeline_id", pipeline.ID, "error", err)
		return
	}

	run.MetadataGenerated = true
	for _, c := range md.Columns {
		if c.NeedsReview {
			run.ColumnsNeedingReview++
		}
	}
}

func (e *Engine) progress(ctx context.Context, run *domain.Run, msg string) {
	run.Progress = msg
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		e.logger.Error("run update failed", "run_id", run.RunID, "error", err)
	}
}

func (e *Engine) completeRun(ctx context.Context, run *domain.Run) {
	now := time.Now().UTC()
	run.Status = domain.RunStatusSuccess
	run.CompletedAt = &now
	run.DurationSeconds = now.Sub(run.StartedAt).Seconds()
	run.Progress = "Complete"
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		e.logger.Error("run update failed", "run_id", run.RunID, "error", err)
	}
}

func (e *Engine) failRun(ctx context.Context, run *domain.Run, cause error, stack *string) {
	now := time.Now().UTC()
	msg := cause.Error()
	run.Status = domain.RunStatusFailed
	run.CompletedAt = &now
	run.DurationSeconds = now.Sub(run.StartedAt).Seconds()
	run.Error = &msg
	if stack == nil {
		chain := errorChain(cause)
		stack = &chain
	}
	run.Stack = stack
	run.Progress = "Failed: " + msg
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		e.logger.Error("run update failed", "run_id", run.RunID, "error", err)
	}
}

// errorChain renders the cause and each wrapped error on its own line, so a
// failed run's record shows where in the wrap chain the failure originated.
func errorChain(err error) string {
	var b strings.Builder
	b.WriteString(err.Error())
	for err = errors.Unwrap(err); err != nil; err = errors.Unwrap(err) {
		b.WriteString("\ncaused by: ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// TestSource fetches a source ad hoc and returns a small preview.
type SourcePreview struct {
	Columns []string   `json:"columns"`
	Rows    int        `json:"rows"`
	Sample  [][]string `json:"sample"`
}

// TestSource probes a source definition without creating a pipeline.
func (e *Engine) TestSource(ctx context.Context, sourceType, url string) (*SourcePreview, error) {
	table, err := e.registry.Fetch(ctx, domain.SourceConfig{Type: sourceType, URL: url})
	if err != nil {
		return nil, err
	}
	preview := &SourcePreview{Columns: table.Columns, Rows: table.NumRows()}
	for _, row := range table.Head(10).Rows {
		cells := make([]string, len(table.Columns))
		for i, col := range table.Columns {
			cells[i] = tabular.FormatValue(row[col])
		}
		preview.Sample = append(preview.Sample, cells)
	}
	return preview, nil
}
