package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/engine"
	"github.com/camdencbrown/relay/internal/tabular"
)

// PipelineStore persists pipeline definitions. Implemented by
// postgres.PipelineStore.
type PipelineStore interface {
	CreatePipeline(ctx context.Context, p *domain.Pipeline) error
	ListPipelines(ctx context.Context) ([]domain.Pipeline, error)
	GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error)
	DeletePipeline(ctx context.Context, id string) error
	ListPipelinesUsingConnection(ctx context.Context, idOrName ...string) ([]domain.Pipeline, error)
}

// RunStore persists pipeline run rows. Implemented by postgres.RunStore.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, pipelineID string, limit int) ([]domain.Run, error)
}

// RunDispatcher queues a run for background execution. Implemented by
// executor.Dispatcher.
type RunDispatcher interface {
	Submit(pipelineID, runID string)
}

// SourceTester probes a source config without creating a pipeline.
// Implemented by engine.Engine.
type SourceTester interface {
	TestSource(ctx context.Context, sourceType, url string) (*engine.SourcePreview, error)
}

// TransformRunner executes a multi-source transformation recipe.
// Implemented by transform.Engine.
type TransformRunner interface {
	Execute(ctx context.Context, cfg *domain.TransformConfig) (*tabular.Table, error)
}

// ArtifactWriter lands a table in the object store. Implemented by
// engine.Writer.
type ArtifactWriter interface {
	WriteTable(ctx context.Context, t *tabular.Table, dest domain.DestinationConfig, opts domain.PipelineOptions) (string, error)
}

// MountPipelineRoutes registers pipeline CRUD, run, and source-test routes.
func MountPipelineRoutes(r chi.Router, srv *Server) {
	read := r.With(srv.requireRole(domain.RoleReader))
	write := r.With(srv.requireRole(domain.RoleWriter))
	admin := r.With(srv.requireRole(domain.RoleAdmin))

	write.Post("/pipeline/create", srv.HandleCreatePipeline)
	write.Post("/pipeline/create-transformation", srv.HandleCreateTransformation)
	read.Get("/pipeline/list", srv.HandleListPipelines)
	read.Get("/pipeline/{id}", srv.HandleGetPipeline)
	write.Post("/pipeline/{id}/run", srv.HandleRunPipeline)
	read.Get("/pipeline/{id}/run/{runID}", srv.HandleGetRun)
	read.Get("/pipeline/{id}/runs", srv.HandleListRuns)
	admin.Delete("/pipeline/{id}", srv.HandleDeletePipeline)
	read.Post("/test/source", srv.HandleTestSource)
}

type createPipelineRequest struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Source      domain.SourceConfig      `json:"source"`
	Destination domain.DestinationConfig `json:"destination"`
	Options     *domain.PipelineOptions  `json:"options,omitempty"`
	Schedule    *domain.ScheduleConfig   `json:"schedule,omitempty"`
}

func (req *createPipelineRequest) validate() error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !domain.ValidSourceType(req.Source.Type) {
		return fmt.Errorf("unknown source type %q", req.Source.Type)
	}
	if req.Destination.Type != "s3" && req.Destination.Type != "local" {
		return fmt.Errorf("destination type must be s3 or local, got %q", req.Destination.Type)
	}
	if req.Schedule != nil && req.Schedule.Enabled {
		if req.Schedule.Interval != "" && !domain.ValidScheduleInterval(string(req.Schedule.Interval)) {
			return fmt.Errorf("unknown schedule interval %q", req.Schedule.Interval)
		}
		if req.Schedule.Interval == domain.IntervalCustom && req.Schedule.Cron == "" {
			return fmt.Errorf("custom schedule interval requires a cron expression")
		}
	}
	return nil
}

// HandleCreatePipeline registers a new pipeline definition.
// POST /api/v1/pipeline/create
func (s *Server) HandleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req createPipelineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		errorJSON(w, err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	p := &domain.Pipeline{
		ID:          domain.NewID("pipe"),
		Name:        req.Name,
		Kind:        domain.PipelineKindRegular,
		Status:      "active",
		Description: req.Description,
		Source:      req.Source,
		Destination: req.Destination,
	}
	if req.Options != nil {
		p.Options = *req.Options
	}
	if p.Options.Format == "" {
		p.Options.Format = "parquet"
	}
	if req.Schedule != nil {
		p.Schedule = *req.Schedule
	}

	if err := s.Pipelines.CreatePipeline(r.Context(), p); err != nil {
		domainError(w, err)
		return
	}

	s.recordEvent(r.Context(), "pipeline_created", p.ID, map[string]any{
		"name":        p.Name,
		"source_type": p.Source.Type,
	})

	table := p.TableName()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "created",
		"pipeline_id":   p.ID,
		"name":          p.Name,
		"table_name":    table,
		"source":        fmt.Sprintf("%s -> %s", p.Source.Type, p.Source.URL),
		"destination":   fmt.Sprintf("%s://%s/%s", p.Destination.Type, p.Destination.Bucket, p.Destination.Path),
		"options":       p.Options,
		"query_example": fmt.Sprintf("SELECT * FROM %s LIMIT 10", table),
		"next_steps": joinSteps(
			"Run pipeline: POST /pipeline/"+p.ID+"/run",
			"View details: GET /pipeline/"+p.ID,
			"List all: GET /pipeline/list",
		),
		"created_at": p.CreatedAt,
	})
}

// pipelineSummary is the list-view shape: regular pipelines show their
// source, transformations show their input count.
func pipelineSummary(p *domain.Pipeline, lastRun *domain.Run, totalRuns int) map[string]any {
	out := map[string]any{
		"id":         p.ID,
		"name":       p.Name,
		"type":       string(p.Kind),
		"status":     p.Status,
		"created_at": p.CreatedAt,
		"last_run":   lastRun,
		"total_runs": totalRuns,
	}
	if p.Kind == domain.PipelineKindTransformation {
		if p.Transform != nil {
			out["source_count"] = len(p.Transform.Sources)
		}
	} else {
		out["source_type"] = p.Source.Type
		out["destination_type"] = p.Destination.Type
	}
	return out
}

// HandleListPipelines lists all pipelines with last-run summaries.
// GET /api/v1/pipeline/list
func (s *Server) HandleListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.Pipelines.ListPipelines(r.Context())
	if err != nil {
		internalError(w, "list pipelines failed", err)
		return
	}

	summaries := make([]map[string]any, 0, len(pipelines))
	for i := range pipelines {
		p := &pipelines[i]
		runs, err := s.Runs.ListRuns(r.Context(), p.ID, 0)
		if err != nil {
			internalError(w, "list runs failed", err)
			return
		}
		var last *domain.Run
		if len(runs) > 0 {
			last = &runs[0]
		}
		summaries = append(summaries, pipelineSummary(p, last, len(runs)))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pipelines": summaries,
		"total":     len(summaries),
		"next_steps": joinSteps(
			"Create new: POST /pipeline/create",
			"View details: GET /pipeline/{id}",
		),
	})
}

// HandleGetPipeline returns one pipeline with its recent runs.
// GET /api/v1/pipeline/{id}
func (s *Server) HandleGetPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.Pipelines.GetPipeline(r.Context(), id)
	if err != nil {
		internalError(w, "get pipeline failed", err)
		return
	}
	if p == nil {
		errorJSON(w, fmt.Sprintf("Pipeline %s not found", id), "NOT_FOUND", http.StatusNotFound)
		return
	}

	runs, err := s.Runs.ListRuns(r.Context(), id, defaultPageLimit)
	if err != nil {
		internalError(w, "list runs failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pipeline": p,
		"runs":     runs,
		"next_steps": joinSteps(
			"Run pipeline: POST /pipeline/"+id+"/run",
			"List all: GET /pipeline/list",
		),
	})
}

// HandleRunPipeline creates a running run row and dispatches execution to
// the background pool. Returns immediately with the run id.
// POST /api/v1/pipeline/{id}/run
func (s *Server) HandleRunPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.Pipelines.GetPipeline(r.Context(), id)
	if err != nil {
		internalError(w, "get pipeline failed", err)
		return
	}
	if p == nil {
		errorJSON(w, fmt.Sprintf("Pipeline %s not found", id), "NOT_FOUND", http.StatusNotFound)
		return
	}

	run := &domain.Run{
		RunID:      domain.NewID("run"),
		PipelineID: id,
		Status:     domain.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.Runs.CreateRun(r.Context(), run); err != nil {
		internalError(w, "create run failed", err)
		return
	}
	s.Dispatch.Submit(id, run.RunID)

	ctx := ContextWithRun(r.Context(), id, run.RunID)
	slog.InfoContext(ctx, "pipeline run dispatched")
	s.recordEvent(ctx, "pipeline_run_started", id, map[string]any{"run_id": run.RunID})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "started",
		"pipeline_id": id,
		"run_id":      run.RunID,
		"started_at":  run.StartedAt,
		"next_steps": joinSteps(
			"Check status: GET /pipeline/"+id+"/run/"+run.RunID,
			"View pipeline: GET /pipeline/"+id,
		),
	})
}

// HandleGetRun returns one run's current state.
// GET /api/v1/pipeline/{id}/run/{runID}
func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "id")
	runID := chi.URLParam(r, "runID")

	run, err := s.Runs.GetRun(r.Context(), runID)
	if err != nil {
		internalError(w, "get run failed", err)
		return
	}
	if run == nil || run.PipelineID != pipelineID {
		errorJSON(w, fmt.Sprintf("Run %s not found", runID), "NOT_FOUND", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":        run,
		"next_steps": joinSteps("View pipeline: GET /pipeline/" + pipelineID),
	})
}

// HandleListRuns lists a pipeline's runs, newest first.
// GET /api/v1/pipeline/{id}/runs
func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := parsePagination(r)

	runs, err := s.Runs.ListRuns(r.Context(), id, limit)
	if err != nil {
		internalError(w, "list runs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// HandleDeletePipeline removes a pipeline definition. Runs and metadata go
// with it (store-level cascade); artifacts in the object store stay.
// DELETE /api/v1/pipeline/{id}
func (s *Server) HandleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.Pipelines.GetPipeline(r.Context(), id)
	if err != nil {
		internalError(w, "get pipeline failed", err)
		return
	}
	if p == nil {
		errorJSON(w, fmt.Sprintf("Pipeline %s not found", id), "NOT_FOUND", http.StatusNotFound)
		return
	}

	if err := s.Pipelines.DeletePipeline(r.Context(), id); err != nil {
		domainError(w, err)
		return
	}

	s.recordEvent(r.Context(), "pipeline_deleted", id, map[string]any{"name": p.Name})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "deleted",
		"pipeline_id": id,
		"message":     fmt.Sprintf("Pipeline %s deleted successfully", p.Name),
	})
}

type testSourceRequest struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// HandleTestSource probes a source and returns a preview. Fetch failures
// come back as a 200 with status=error and troubleshooting suggestions:
// an unreachable source is an answer, not a server fault.
// POST /api/v1/test/source
func (s *Server) HandleTestSource(w http.ResponseWriter, r *http.Request) {
	var req testSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !domain.ValidSourceType(req.Type) {
		errorJSON(w, fmt.Sprintf("unknown source type %q", req.Type), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	preview, err := s.Engine.TestSource(r.Context(), req.Type, req.URL)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "error",
			"type":   req.Type,
			"url":    req.URL,
			"error":  err.Error(),
			"suggestions": joinSteps(
				"Check that URL is correct",
				"Verify URL is publicly accessible",
				"Ensure source type matches content",
			),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "accessible",
		"type":       req.Type,
		"url":        req.URL,
		"preview":    preview,
		"message":    "Source is accessible and ready to use",
		"next_steps": joinSteps("Create pipeline: POST /pipeline/create"),
	})
}

type createTransformationRequest struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Transform   domain.TransformConfig   `json:"transform"`
	Destination domain.DestinationConfig `json:"destination"`
	Options     *domain.PipelineOptions  `json:"options,omitempty"`
}

// HandleCreateTransformation executes a multi-source transformation
// synchronously, writes the result, and persists the recipe as a
// transformation pipeline.
// POST /api/v1/pipeline/create-transformation
func (s *Server) HandleCreateTransformation(w http.ResponseWriter, r *http.Request) {
	var req createTransformationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		errorJSON(w, "name is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if len(req.Transform.Sources) == 0 {
		errorJSON(w, "transform requires at least one source", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	table, err := s.Transform.Execute(r.Context(), &req.Transform)
	if err != nil {
		domainError(w, err)
		return
	}

	opts := domain.PipelineOptions{Format: "parquet"}
	if req.Options != nil {
		opts = *req.Options
	}
	uri, err := s.Writer.WriteTable(r.Context(), table, req.Destination, opts)
	if err != nil {
		internalError(w, "write transformation output failed", err)
		return
	}

	p := &domain.Pipeline{
		ID:          domain.NewID("pipe"),
		Name:        req.Name,
		Kind:        domain.PipelineKindTransformation,
		Status:      "active",
		Description: req.Description,
		Destination: req.Destination,
		Options:     opts,
		Transform:   &req.Transform,
	}
	if err := s.Pipelines.CreatePipeline(r.Context(), p); err != nil {
		domainError(w, err)
		return
	}

	s.recordEvent(r.Context(), "pipeline_created", p.ID, map[string]any{
		"name": p.Name,
		"kind": string(domain.PipelineKindTransformation),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"pipeline_id":    p.ID,
		"rows_processed": table.NumRows(),
		"output_path":    uri,
		"message":        "Transformation pipeline created and executed",
		"next_steps": joinSteps(
			"Query data at: "+uri,
			"View metadata: GET /metadata/"+p.ID,
		),
	})
}
