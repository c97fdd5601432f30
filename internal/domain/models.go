// Package domain defines the core business types shared across relayd.
// These types represent the platform's data model — not HTTP specifics.
//
// Domain types carry json tags because they are directly serialized in API
// responses. When the API shape diverges (computed fields, omitted internal
// fields), the api package defines its own response struct instead.
// Internal-only fields are tagged `json:"-"` to prevent accidental exposure:
//   - Connection.CredentialsEncrypted (ciphertext, never leaves the store layer)
//   - APIKey.KeyHash (only the prefix is displayable)
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// PipelineKind discriminates single-source pipelines from multi-source
// transformation pipelines, which carry a TransformConfig instead of a
// source config.
type PipelineKind string

const (
	PipelineKindRegular        PipelineKind = "regular"
	PipelineKindTransformation PipelineKind = "transformation"
)

// SourceType identifies a connector in the registry.
type SourceType string

const (
	SourceCSVURL     SourceType = "csv_url"
	SourceJSONURL    SourceType = "json_url"
	SourceRESTAPI    SourceType = "rest_api"
	SourceMySQL      SourceType = "mysql"
	SourcePostgres   SourceType = "postgres"
	SourceMSSQL      SourceType = "mssql"
	SourceSalesforce SourceType = "salesforce"
	SourceSynthetic  SourceType = "synthetic"
)

// ValidSourceType checks if s is a registered source type.
func ValidSourceType(s string) bool {
	switch SourceType(s) {
	case SourceCSVURL, SourceJSONURL, SourceRESTAPI, SourceMySQL,
		SourcePostgres, SourceMSSQL, SourceSalesforce, SourceSynthetic:
		return true
	}
	return false
}

// SourceConfig describes where a pipeline reads from. Credentials may be
// supplied inline or resolved from a named connection at fetch time; resolved
// values are merged into Credentials with inline fields taking precedence.
type SourceConfig struct {
	Type       string            `json:"type"`
	URL        string            `json:"url,omitempty"`
	Connection string            `json:"connection,omitempty"`
	Query      string            `json:"query,omitempty"`
	Table      string            `json:"table,omitempty"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	// Synthetic generator inputs.
	Rows   int               `json:"rows,omitempty"`
	Schema map[string]string `json:"schema,omitempty"`
	// Credential bundle (host/port/username/password/database for SQL
	// sources, token for REST, instance_url etc. for Salesforce).
	Credentials map[string]string `json:"credentials,omitempty"`
}

// DestinationConfig describes where artifacts land.
type DestinationConfig struct {
	Type   string `json:"type"` // "s3" or "local"
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

// StreamingMode controls whether a pipeline fetch uses the chunked path.
// The zero value means auto (decided per source type).
type StreamingMode string

const (
	StreamingAuto StreamingMode = "auto"
	StreamingOn   StreamingMode = "on"
	StreamingOff  StreamingMode = "off"
)

// UnmarshalJSON accepts both the string form ("auto") and the bool form
// (true/false) that agents commonly send.
func (m *StreamingMode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")):
		*m = StreamingOn
		return nil
	case bytes.Equal(data, []byte("false")):
		*m = StreamingOff
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("streaming mode: %w", err)
	}
	switch s {
	case "", "auto":
		*m = StreamingAuto
	case "on", "true":
		*m = StreamingOn
	case "off", "false":
		*m = StreamingOff
	default:
		return fmt.Errorf("streaming mode: unknown value %q", s)
	}
	return nil
}

// PipelineOptions tune artifact format and execution behavior.
type PipelineOptions struct {
	Format           string        `json:"format"`      // parquet (default), csv, json
	Compression      string        `json:"compression"` // snappy (default), gzip, none
	Streaming        StreamingMode `json:"streaming,omitempty"`
	ChunkSize        int           `json:"chunk_size,omitempty"`
	CombineChunks    bool          `json:"combine_chunks,omitempty"`
	ParallelWrite    bool          `json:"parallel_write,omitempty"`
	GenerateMetadata *bool         `json:"generate_metadata,omitempty"` // nil = true
}

// MetadataEnabled reports whether metadata generation is on (the default).
func (o PipelineOptions) MetadataEnabled() bool {
	return o.GenerateMetadata == nil || *o.GenerateMetadata
}

// ScheduleInterval is the cadence of a pipeline schedule.
type ScheduleInterval string

const (
	IntervalHourly ScheduleInterval = "hourly"
	IntervalDaily  ScheduleInterval = "daily"
	IntervalWeekly ScheduleInterval = "weekly"
	IntervalCustom ScheduleInterval = "custom"
)

// ValidScheduleInterval checks if s is a known cadence.
func ValidScheduleInterval(s string) bool {
	switch ScheduleInterval(s) {
	case IntervalHourly, IntervalDaily, IntervalWeekly, IntervalCustom:
		return true
	}
	return false
}

// ScheduleConfig holds a pipeline's recurrence settings. For custom
// intervals, Cron carries a standard 5-field cron expression.
type ScheduleConfig struct {
	Enabled          bool             `json:"enabled"`
	Interval         ScheduleInterval `json:"interval,omitempty"`
	Cron             string           `json:"cron,omitempty"`
	Timezone         string           `json:"timezone,omitempty"`
	LastScheduledRun *time.Time       `json:"last_scheduled_run,omitempty"`
}

// TransformSource names one input of a transformation pipeline.
type TransformSource struct {
	Alias      string `json:"alias"`
	Type       string `json:"type,omitempty"` // rest_api, json_url, csv_url, or pipeline
	URL        string `json:"url,omitempty"`
	PipelineID string `json:"pipeline_id,omitempty"`
}

// TransformJoin declares how two aliased sources combine.
type TransformJoin struct {
	Left  string `json:"left"`
	Right string `json:"right"`
	On    string `json:"on"`  // "users.id = posts.user_id"
	How   string `json:"how"` // left (default), right, inner, outer
}

// TransformAggregate declares an optional post-join group-by.
type TransformAggregate struct {
	GroupBy []string          `json:"group_by"`
	Metrics map[string]string `json:"metrics"` // name -> "SUM(col)" etc.
}

// TransformConfig is the full recipe of a transformation pipeline.
type TransformConfig struct {
	Sources   []TransformSource   `json:"sources"`
	Join      *TransformJoin      `json:"join,omitempty"`
	Aggregate *TransformAggregate `json:"aggregate,omitempty"`
}

// Pipeline is a reproducible unit of data movement.
type Pipeline struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Kind        PipelineKind       `json:"kind"`
	Status      string             `json:"status"`
	Description string             `json:"description,omitempty"`
	Source      SourceConfig       `json:"source"`
	Destination DestinationConfig  `json:"destination"`
	Options     PipelineOptions    `json:"options"`
	Schedule    ScheduleConfig     `json:"schedule"`
	Transform   *TransformConfig   `json:"transform,omitempty"` // kind=transformation only
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// TableName returns the derived SQL identifier for this pipeline.
func (p *Pipeline) TableName() string {
	return DeriveTableName(p.Name)
}

// RunStatus represents the state of a pipeline run. Status moves from
// running to exactly one of success/failed and never changes afterwards.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// Run is a single pipeline execution attempt.
type Run struct {
	RunID                string     `json:"run_id"`
	PipelineID           string     `json:"pipeline_id"`
	Status               RunStatus  `json:"status"`
	Progress             string     `json:"progress,omitempty"`
	Streaming            bool       `json:"streaming"`
	StartedAt            time.Time  `json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	RowsProcessed        int64      `json:"rows_processed"`
	ChunksProcessed      int        `json:"chunks_processed,omitempty"`
	OutputFile           string     `json:"output_file,omitempty"`
	FilesWritten         []string   `json:"files_written,omitempty"`
	WorkersUsed          int        `json:"workers_used,omitempty"`
	DurationSeconds      float64    `json:"duration_seconds,omitempty"`
	Error                *string    `json:"error,omitempty"`
	Stack                *string    `json:"stack,omitempty"`
	MetadataGenerated    bool       `json:"metadata_generated"`
	ColumnsNeedingReview int        `json:"columns_needing_review,omitempty"`
}

// ColumnProfile is one column's slice of a dataset metadata document.
type ColumnProfile struct {
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	SemanticType    string   `json:"semantic_type"`
	NullCount       int64    `json:"null_count"`
	NullPercentage  float64  `json:"null_percentage"`
	UniqueValues    int64    `json:"unique_values"`
	SampleValues    []string `json:"sample_values"`
	Min             *float64 `json:"min,omitempty"`
	Max             *float64 `json:"max,omitempty"`
	Mean            *float64 `json:"mean,omitempty"`
	AutoDescription string   `json:"auto_description,omitempty"`
	Description     string   `json:"description,omitempty"`
	BusinessMeaning string   `json:"business_meaning,omitempty"`
	NeedsReview     bool     `json:"needs_review"`
	HumanVerified   bool     `json:"human_verified"`
}

// DatasetMetadata is the per-pipeline column profile, regenerated on each
// successful run.
type DatasetMetadata struct {
	PipelineID   string          `json:"pipeline_id"`
	PipelineName string          `json:"pipeline_name"`
	Columns      []ColumnProfile `json:"columns"`
	RowCount     int64           `json:"row_count"`
	SampledRows  int             `json:"sampled_rows"`
	AIEnhanced   bool            `json:"ai_enhanced"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// ColumnKnowledge is a human-verified column description, keyed by the
// normalized column name so the same column matches across pipelines.
type ColumnKnowledge struct {
	Key             string    `json:"key"`
	ColumnName      string    `json:"column_name"`
	Description     string    `json:"description"`
	BusinessMeaning string    `json:"business_meaning,omitempty"`
	VerifiedBy      string    `json:"verified_by"`
	VerifiedAt      time.Time `json:"verified_at"`
}

// Connection is a reusable, encrypted credential bundle referenced from
// pipeline sources by name.
type Connection struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Type                 string     `json:"type"`
	Description          string     `json:"description,omitempty"`
	CredentialsEncrypted string     `json:"-"`
	LastTestedAt         *time.Time `json:"last_tested_at,omitempty"`
	LastTestStatus       string     `json:"last_test_status,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// ObjectStatus is the lifecycle of an ontology object.
type ObjectStatus string

const (
	StatusActive   ObjectStatus = "active"
	StatusProposed ObjectStatus = "proposed"
	StatusRejected ObjectStatus = "rejected"
)

// ColumnRole classifies a column's part in an entity.
type ColumnRole string

const (
	RolePrimaryKey ColumnRole = "primary_key"
	RoleForeignKey ColumnRole = "foreign_key"
	RoleMeasure    ColumnRole = "measure"
	RoleDimension  ColumnRole = "dimension"
	RoleAttribute  ColumnRole = "attribute"
	RoleTimestamp  ColumnRole = "timestamp"
)

// ColumnAnnotation attaches semantics to one entity column.
type ColumnAnnotation struct {
	Role        ColumnRole `json:"role"`
	Description string     `json:"description,omitempty"`
}

// Entity names a pipeline as a queryable semantic object. Only active
// entities participate in queries and relationships.
type Entity struct {
	ID                string                      `json:"id"`
	Name              string                      `json:"name"`
	DisplayName       string                      `json:"display_name"`
	Description       string                      `json:"description,omitempty"`
	PipelineID        string                      `json:"pipeline_id"`
	ColumnAnnotations map[string]ColumnAnnotation `json:"column_annotations,omitempty"`
	Status            ObjectStatus                `json:"status"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

// RelationshipType is the cardinality of a semantic edge.
type RelationshipType string

const (
	OneToOne   RelationshipType = "one_to_one"
	OneToMany  RelationshipType = "one_to_many"
	ManyToOne  RelationshipType = "many_to_one"
	ManyToMany RelationshipType = "many_to_many"
)

// ValidRelationshipType checks if s is a known cardinality.
func ValidRelationshipType(s string) bool {
	switch RelationshipType(s) {
	case OneToOne, OneToMany, ManyToOne, ManyToMany:
		return true
	}
	return false
}

// Relationship is a directed join edge between two entities.
type Relationship struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	FromEntity  string           `json:"from_entity"`
	ToEntity    string           `json:"to_entity"`
	FromColumn  string           `json:"from_column"`
	ToColumn    string           `json:"to_column"`
	Type        RelationshipType `json:"relationship_type"`
	Description string           `json:"description,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// FormatType hints how a metric value should be rendered.
type FormatType string

const (
	FormatNumber     FormatType = "number"
	FormatCurrency   FormatType = "currency"
	FormatPercentage FormatType = "percentage"
)

// Metric is a named aggregate expression scoped to an entity. Expressions
// may reference entity columns as "entity.column" and other metrics as
// "${metric_name}".
type Metric struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Description string     `json:"description,omitempty"`
	EntityName  string     `json:"entity_name"`
	Expression  string     `json:"expression"`
	FormatType  FormatType `json:"format_type"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DimensionType distinguishes raw column dimensions from computed ones.
type DimensionType string

const (
	DimensionDirect  DimensionType = "direct"
	DimensionDerived DimensionType = "derived"
)

// Dimension is a named grouping expression scoped to an entity.
type Dimension struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	Description string        `json:"description,omitempty"`
	EntityName  string        `json:"entity_name"`
	Expression  string        `json:"expression"`
	Type        DimensionType `json:"dimension_type"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ProposalType names the ontology table a proposal materializes into.
type ProposalType string

const (
	ProposalEntity       ProposalType = "entity"
	ProposalRelationship ProposalType = "relationship"
	ProposalMetric       ProposalType = "metric"
	ProposalDimension    ProposalType = "dimension"
)

// ProposalStatus tracks the review lifecycle. Pending proposals move to
// approved or rejected exactly once.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// Proposal is a generated candidate ontology object awaiting review. Payload
// holds the would-be object in its JSON form.
type Proposal struct {
	ID               string          `json:"id"`
	Type             ProposalType    `json:"proposal_type"`
	Payload          json.RawMessage `json:"payload"`
	SourcePipelineID string          `json:"source_pipeline_id,omitempty"`
	ProposedBy       string          `json:"proposed_by"` // ai, heuristic, user
	Status           ProposalStatus  `json:"status"`
	ReviewedBy       string          `json:"reviewed_by,omitempty"`
	ReviewNotes      string          `json:"review_notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ReviewedAt       *time.Time      `json:"reviewed_at,omitempty"`
}

// Role is an API key's permission level. Levels are totally ordered:
// reader < writer < admin.
type Role string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleAdmin  Role = "admin"
)

// Level returns the numeric rank of the role, 0 for unknown roles.
func (r Role) Level() int {
	switch r {
	case RoleReader:
		return 1
	case RoleWriter:
		return 2
	case RoleAdmin:
		return 3
	}
	return 0
}

// AtLeast reports whether r grants everything required grants.
func (r Role) AtLeast(required Role) bool {
	return r.Level() >= required.Level() && r.Level() > 0
}

// ValidRole checks if s names a known role.
func ValidRole(s string) bool {
	return Role(s).Level() > 0
}

// APIKey holds a hashed credential for the role-gated service. The raw
// secret is returned once at creation and never stored.
type APIKey struct {
	ID         int64      `json:"id"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	Role       Role       `json:"role"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Event is one append-only platform analytics record.
type Event struct {
	ID         int64           `json:"id"`
	EventType  string          `json:"event_type"`
	PipelineID string          `json:"pipeline_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OntologySnapshot is the read-consistent bundle the semantic engine works
// from: every active ontology row plus the lineage summary.
type OntologySnapshot struct {
	Entities       []Entity       `json:"entities"`
	Relationships  []Relationship `json:"relationships"`
	Metrics        []Metric       `json:"metrics"`
	Dimensions     []Dimension    `json:"dimensions"`
	LineageSummary LineageSummary `json:"lineage_summary"`
}

// LineageSummary is the compact graph view included in snapshots.
type LineageSummary struct {
	EntityPipelineMap map[string]string `json:"entity_pipeline_map"`
	RelationshipGraph []LineageEdge     `json:"relationship_graph"`
}

// LineageEdge is one relationship collapsed to its endpoints.
type LineageEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
	Name string `json:"name"`
}
