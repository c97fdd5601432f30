package api

import (
	"context"
	"log/slog"
)

// runKey carries the pipeline and run ids for execution-scoped logging.
type runKey struct{}

type runIDs struct {
	pipelineID string
	runID      string
}

// ContextWithRun tags the context with a pipeline run so every record logged
// through the ContextHandler carries pipeline_id and run_id.
func ContextWithRun(ctx context.Context, pipelineID, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runIDs{pipelineID: pipelineID, runID: runID})
}

// ContextHandler wraps an slog.Handler and copies request and run identifiers
// from the context onto every record, so call sites can use InfoContext and
// friends without threading ids by hand. relayd installs it around the JSON
// handler at startup.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler wraps inner with context enrichment.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

// Enabled delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds request_id, pipeline_id, and run_id from the context when
// present, then delegates.
func (h *ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		record.AddAttrs(slog.String("request_id", reqID))
	}
	if run, ok := ctx.Value(runKey{}).(runIDs); ok {
		record.AddAttrs(slog.String("pipeline_id", run.pipelineID), slog.String("run_id", run.runID))
	}
	return h.inner.Handle(ctx, record)
}

// WithAttrs returns a ContextHandler around the enriched inner handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup returns a ContextHandler around the grouped inner handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
