package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/queryengine"
	"github.com/camdencbrown/relay/internal/tabular"
)

// QueryRunner executes SQL over pipeline artifacts and lists their schemas.
// Implemented by queryengine.Engine.
type QueryRunner interface {
	Execute(ctx context.Context, pipelineIDs []string, sql string, limit int) (*queryengine.Result, error)
	ListPipelineSchemas(ctx context.Context, pipelineIDs []string) ([]queryengine.PipelineSchema, error)
}

// MountQueryRoutes registers the raw SQL query, schema, and export routes.
func MountQueryRoutes(r chi.Router, srv *Server) {
	read := r.With(srv.requireRole(domain.RoleReader))

	read.Post("/query", srv.HandleQuery)
	read.Post("/schema", srv.HandleSchema)
	read.Post("/export", srv.HandleExport)
}

type queryRequest struct {
	Pipelines []string `json:"pipelines"`
	SQL       string   `json:"sql"`
	Limit     int      `json:"limit,omitempty"`
}

// HandleQuery runs a read-only SQL query over the given pipelines' latest
// artifacts. Zero-row results include debugging hints.
// POST /api/v1/query
func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.Query.Execute(r.Context(), req.Pipelines, req.SQL, req.Limit)
	if err != nil {
		domainError(w, err)
		return
	}

	s.recordEvent(r.Context(), "query_executed", "", map[string]any{
		"pipelines": req.Pipelines,
		"row_count": result.RowCount,
	})

	resp := map[string]any{
		"status":            "success",
		"rows":              result.Rows,
		"columns":           result.Columns,
		"row_count":         result.RowCount,
		"execution_time_ms": result.ExecutionTimeMS,
		"pipelines_used":    result.PipelinesUsed,
		"query_executed":    result.QueryExecuted,
	}
	if result.RowCount == 0 {
		resp["hints"] = joinSteps(
			"Query returned 0 rows - check your filter conditions",
			"Use POST /schema to see sample values for columns",
			"Try removing filters one at a time to debug",
		)
		resp["next_steps"] = resp["hints"]
	} else {
		resp["next_steps"] = joinSteps(
			"Refine query if needed",
			"Use POST /schema to see available columns",
		)
	}
	writeJSON(w, http.StatusOK, resp)
}

type schemaRequest struct {
	Pipelines []string `json:"pipelines"`
}

// HandleSchema lists column profiles for the given pipelines.
// POST /api/v1/schema
func (s *Server) HandleSchema(w http.ResponseWriter, r *http.Request) {
	var req schemaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Pipelines) == 0 {
		errorJSON(w, "pipelines is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	schemas, err := s.Query.ListPipelineSchemas(r.Context(), req.Pipelines)
	if err != nil {
		domainError(w, err)
		return
	}

	exampleTable := "table_name"
	if len(schemas) > 0 {
		exampleTable = schemas[0].TableName
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"schemas": schemas,
		"usage_example": map[string]string{
			"sql":         fmt.Sprintf("SELECT * FROM %s LIMIT 10", exampleTable),
			"explanation": "Use table_name values in your SQL queries",
		},
	})
}

type exportRequest struct {
	Pipelines []string `json:"pipelines"`
	SQL       string   `json:"sql"`
	Format    string   `json:"format"`
	Filename  string   `json:"filename,omitempty"`
}

// HandleExport runs a query at the export row cap and streams the result as
// a csv or json attachment.
// POST /api/v1/export
func (s *Server) HandleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Format != "csv" && req.Format != "json" {
		errorJSON(w, fmt.Sprintf("unsupported format %q (csv or json)", req.Format), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	result, err := s.Query.Execute(r.Context(), req.Pipelines, req.SQL, queryengine.ExportLimit)
	if err != nil {
		domainError(w, err)
		return
	}
	if result.RowCount == 0 {
		errorJSON(w, "Query returned no results", "NOT_FOUND", http.StatusNotFound)
		return
	}

	filename := req.Filename
	if filename == "" {
		filename = fmt.Sprintf("export_%s.%s", time.Now().UTC().Format("20060102_150405"), req.Format)
	}

	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.Header().Set("X-Row-Count", strconv.Itoa(result.RowCount))
	w.Header().Set("X-Execution-Time-Ms", strconv.FormatFloat(result.ExecutionTimeMS, 'f', -1, 64))

	switch req.Format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		writeCSV(w, result)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result.Rows); err != nil {
			// Headers are gone; nothing left to do but log.
			LoggerFromContext(r.Context()).Error("export encode failed", "error", err)
		}
	}
}

// writeCSV streams rows in the result's column order.
func writeCSV(w http.ResponseWriter, result *queryengine.Result) {
	cw := csv.NewWriter(w)
	_ = cw.Write(result.Columns)
	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i, col := range result.Columns {
			record[i] = tabular.FormatValue(row[col])
		}
		_ = cw.Write(record)
	}
	cw.Flush()
}
