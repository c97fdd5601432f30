package api

import "net/http"

// HandleCapabilities returns the machine-readable platform description.
// Agents read this once to learn what the platform can do and how to
// sequence calls.
// GET /api/v1/capabilities
func (s *Server) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "Relay - Agent-Native Data Movement",
		"version": s.Version,
		"query_engine": map[string]any{
			"engine": "DuckDB",
			"supported_features": []string{
				"joins across pipelines",
				"aggregations (GROUP BY, window functions)",
				"CTEs and subqueries",
				"date/time functions",
				"string functions and regex",
			},
			"best_practices": []string{
				"Call POST /schema first to learn table names and column types",
				"Reference pipelines by their derived table_name in SQL",
				"Add LIMIT to exploratory queries",
			},
		},
		"endpoints_summary": map[string]string{
			"create_pipeline":       "POST /pipeline/create",
			"create_transformation": "POST /pipeline/create-transformation",
			"run_pipeline":          "POST /pipeline/{id}/run",
			"query":                 "POST /query",
			"schema":                "POST /schema",
			"export":                "POST /export",
			"metadata":              "GET /metadata/{id}",
			"search":                "GET /datasets/search",
			"ontology":              "GET /ontology",
			"semantic_query":        "POST /ontology/query",
			"lineage":               "GET /ontology/lineage/{name}",
		},
		"sources": map[string]any{
			"csv_url":   map[string]string{"description": "Fetch a CSV file over HTTP", "required": "url"},
			"json_url":  map[string]string{"description": "Fetch a JSON array over HTTP", "required": "url"},
			"rest_api":  map[string]string{"description": "Paginated REST endpoint returning JSON", "required": "url"},
			"mysql":     map[string]string{"description": "MySQL table or query", "required": "connection, table or query"},
			"postgres":  map[string]string{"description": "PostgreSQL table or query", "required": "connection, table or query"},
			"mssql":     map[string]string{"description": "SQL Server table or query", "required": "connection, table or query"},
			"salesforce": map[string]string{
				"description": "Salesforce object via SOQL", "required": "connection, object",
			},
			"synthetic": map[string]string{"description": "Generated test data", "required": "schema"},
		},
		"destinations": map[string]any{
			"s3": map[string]any{
				"description": "Object storage (S3-compatible)",
				"parameters":  []string{"bucket", "prefix"},
			},
			"local": map[string]any{
				"description": "Local filesystem artifact store",
				"parameters":  []string{"path"},
			},
		},
		"connections": map[string]any{
			"supported_types": []string{"mysql", "postgres", "mssql", "salesforce", "rest_api", "domo", "servicenow", "s3"},
			"workflow": []string{
				"POST /connection/create with credentials",
				"POST /connection/{id}/test to verify",
				"Reference by name in pipeline source config",
			},
			"security": "Credentials are encrypted at rest and never returned by any endpoint",
		},
		"scheduling": map[string]any{
			"intervals": []string{"hourly", "daily", "weekly", "custom"},
			"custom":    "Standard five-field cron expression",
		},
		"analytics": map[string]any{
			"tracked_events": []string{
				"pipeline_created", "pipeline_run_started", "pipeline_deleted",
				"query_executed", "connection_created",
				"entity_created", "metric_created", "dimension_created",
				"semantic_query_executed", "ontology_proposed",
			},
		},
		"storage": map[string]any{
			"mode":   s.StorageMode,
			"format": "parquet artifacts, one per successful run",
		},
		"lineage": map[string]string{
			"endpoint":    "GET /ontology/lineage/{name}",
			"description": "Entity to pipeline to source trace with metric and dimension column references",
		},
		"auth": map[string]any{
			"header": "X-API-Key",
			"roles":  []string{"reader", "writer", "admin"},
		},
		"ontology": map[string]any{
			"description": "Named entities, relationships, metrics, and dimensions over pipelines",
			"workflows": []string{
				"Manual: POST /ontology/entity, /ontology/relationship, /ontology/metric, /ontology/dimension",
				"Proposed: POST /ontology/propose then review via POST /ontology/proposal/{id}/review",
				"Query: POST /ontology/query with metrics/dimensions or natural_language",
			},
			"endpoints": map[string]string{
				"snapshot":  "GET /ontology",
				"entities":  "GET /ontology/entity/list",
				"proposals": "GET /ontology/proposal/list",
			},
		},
		"getting_started": []string{
			"1. Create a pipeline: POST /pipeline/create",
			"2. Run it: POST /pipeline/{id}/run",
			"3. Inspect the profile: GET /metadata/{id}",
			"4. Query the data: POST /query",
			"5. Optionally build an ontology: POST /ontology/propose",
		},
	})
}
