package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camdencbrown/relay/internal/auth"
	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/semantic"
)

// EntityStore persists ontology entities. Implemented by
// postgres.EntityStore.
type EntityStore interface {
	CreateEntity(ctx context.Context, e *domain.Entity) error
	ListEntities(ctx context.Context, status domain.ObjectStatus) ([]domain.Entity, error)
	GetEntity(ctx context.Context, id string) (*domain.Entity, error)
	GetEntityByName(ctx context.Context, name string) (*domain.Entity, error)
	UpdateEntity(ctx context.Context, e *domain.Entity) error
	DeleteEntity(ctx context.Context, id string) error
}

// RelationshipStore persists ontology relationships. Implemented by
// postgres.RelationshipStore.
type RelationshipStore interface {
	CreateRelationship(ctx context.Context, r *domain.Relationship) error
	ListRelationships(ctx context.Context) ([]domain.Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error
}

// MetricStore persists ontology metrics. Implemented by postgres.MetricStore.
type MetricStore interface {
	CreateMetric(ctx context.Context, m *domain.Metric) error
	ListMetrics(ctx context.Context) ([]domain.Metric, error)
	GetMetric(ctx context.Context, id string) (*domain.Metric, error)
	UpdateMetric(ctx context.Context, m *domain.Metric) error
	DeleteMetric(ctx context.Context, id string) error
}

// DimensionStore persists ontology dimensions. Implemented by
// postgres.DimensionStore.
type DimensionStore interface {
	CreateDimension(ctx context.Context, d *domain.Dimension) error
	ListDimensions(ctx context.Context) ([]domain.Dimension, error)
	GetDimension(ctx context.Context, id string) (*domain.Dimension, error)
	UpdateDimension(ctx context.Context, d *domain.Dimension) error
	DeleteDimension(ctx context.Context, id string) error
}

// SnapshotStore builds the read-consistent ontology view. Implemented by
// postgres.SnapshotStore.
type SnapshotStore interface {
	GetOntologySnapshot(ctx context.Context) (*domain.OntologySnapshot, error)
}

// ProposalStore reads the proposal queue. Implemented by
// postgres.ProposalStore.
type ProposalStore interface {
	ListProposals(ctx context.Context, status domain.ProposalStatus) ([]domain.Proposal, error)
	GetProposal(ctx context.Context, id string) (*domain.Proposal, error)
}

// ProposalManager generates and reviews ontology proposals. Implemented by
// ontology.Manager.
type ProposalManager interface {
	ProposeForPipeline(ctx context.Context, pipelineID string, includeRelationships, includeMetrics bool) ([]domain.Proposal, error)
	Approve(ctx context.Context, proposalID, reviewedBy, notes string) (*domain.Proposal, error)
	Reject(ctx context.Context, proposalID, reviewedBy, notes string) (*domain.Proposal, error)
}

// SemanticRunner compiles and executes ontology-level queries. Implemented
// by semantic.Engine.
type SemanticRunner interface {
	Execute(ctx context.Context, req semantic.Request) (*semantic.Result, error)
}

// MountOntologyRoutes registers ontology CRUD, semantic query, proposal,
// and lineage routes.
func MountOntologyRoutes(r chi.Router, srv *Server) {
	read := r.With(srv.requireRole(domain.RoleReader))
	write := r.With(srv.requireRole(domain.RoleWriter))
	admin := r.With(srv.requireRole(domain.RoleAdmin))

	read.Get("/ontology", srv.HandleOntologySnapshot)

	write.Post("/ontology/entity", srv.HandleCreateEntity)
	read.Get("/ontology/entity/list", srv.HandleListEntities)
	read.Get("/ontology/entity/by-name/{name}", srv.HandleGetEntityByName)
	read.Get("/ontology/entity/{id}", srv.HandleGetEntity)
	write.Put("/ontology/entity/{id}", srv.HandleUpdateEntity)
	admin.Delete("/ontology/entity/{id}", srv.HandleDeleteEntity)

	write.Post("/ontology/relationship", srv.HandleCreateRelationship)
	read.Get("/ontology/relationship/list", srv.HandleListRelationships)
	admin.Delete("/ontology/relationship/{id}", srv.HandleDeleteRelationship)

	write.Post("/ontology/metric", srv.HandleCreateMetric)
	read.Get("/ontology/metric/list", srv.HandleListMetrics)
	write.Put("/ontology/metric/{id}", srv.HandleUpdateMetric)
	admin.Delete("/ontology/metric/{id}", srv.HandleDeleteMetric)

	write.Post("/ontology/dimension", srv.HandleCreateDimension)
	read.Get("/ontology/dimension/list", srv.HandleListDimensions)
	write.Put("/ontology/dimension/{id}", srv.HandleUpdateDimension)
	admin.Delete("/ontology/dimension/{id}", srv.HandleDeleteDimension)

	read.Post("/ontology/query", srv.HandleSemanticQuery)
	write.Post("/ontology/propose", srv.HandlePropose)
	read.Get("/ontology/proposal/list", srv.HandleListProposals)
	read.Get("/ontology/proposal/{id}", srv.HandleGetProposal)
	admin.Post("/ontology/proposal/{id}/review", srv.HandleReviewProposal)

	read.Get("/ontology/lineage/{name}", srv.HandleLineage)
}

// HandleOntologySnapshot returns the full active ontology.
// GET /api/v1/ontology
func (s *Server) HandleOntologySnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Snapshots.GetOntologySnapshot(r.Context())
	if err != nil {
		internalError(w, "load ontology snapshot failed", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// requireActiveEntity loads an entity by name and enforces active status.
// Writes the error response itself and returns nil when the caller should
// stop.
func (s *Server) requireActiveEntity(w http.ResponseWriter, r *http.Request, name string) *domain.Entity {
	ent, err := s.Entities.GetEntityByName(r.Context(), name)
	if err != nil {
		internalError(w, "lookup entity failed", err)
		return nil
	}
	if ent == nil || ent.Status != domain.StatusActive {
		errorJSON(w, fmt.Sprintf("Entity %q not found or not active", name), "INVALID_ARGUMENT", http.StatusBadRequest)
		return nil
	}
	return ent
}

type createEntityRequest struct {
	Name              string                             `json:"name"`
	DisplayName       string                             `json:"display_name"`
	Description       string                             `json:"description,omitempty"`
	PipelineID        string                             `json:"pipeline_id"`
	ColumnAnnotations map[string]domain.ColumnAnnotation `json:"column_annotations,omitempty"`
}

// HandleCreateEntity registers a pipeline as a named queryable entity.
// POST /api/v1/ontology/entity
func (s *Server) HandleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validName(req.Name) {
		errorJSON(w, "name must be a lowercase slug", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	pipeline, err := s.Pipelines.GetPipeline(r.Context(), req.PipelineID)
	if err != nil {
		internalError(w, "get pipeline failed", err)
		return
	}
	if pipeline == nil {
		errorJSON(w, fmt.Sprintf("Pipeline not found: %s", req.PipelineID), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	existing, err := s.Entities.GetEntityByName(r.Context(), req.Name)
	if err != nil {
		internalError(w, "lookup entity failed", err)
		return
	}
	if existing != nil {
		errorJSON(w, fmt.Sprintf("Entity with name %q already exists", req.Name), "ALREADY_EXISTS", http.StatusConflict)
		return
	}

	ent := &domain.Entity{
		ID:                domain.NewID("ent"),
		Name:              req.Name,
		DisplayName:       req.DisplayName,
		Description:       req.Description,
		PipelineID:        req.PipelineID,
		ColumnAnnotations: req.ColumnAnnotations,
		Status:            domain.StatusActive,
	}
	if err := s.Entities.CreateEntity(r.Context(), ent); err != nil {
		domainError(w, err)
		return
	}

	s.recordEvent(r.Context(), "entity_created", req.PipelineID, map[string]any{"entity": ent.Name})
	writeJSON(w, http.StatusOK, ent)
}

// HandleListEntities lists entities, optionally filtered by status.
// GET /api/v1/ontology/entity/list?status=
func (s *Server) HandleListEntities(w http.ResponseWriter, r *http.Request) {
	status := domain.ObjectStatus(r.URL.Query().Get("status"))
	entities, err := s.Entities.ListEntities(r.Context(), status)
	if err != nil {
		internalError(w, "list entities failed", err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

// HandleGetEntity returns one entity by id.
// GET /api/v1/ontology/entity/{id}
func (s *Server) HandleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ent, err := s.Entities.GetEntity(r.Context(), id)
	if err != nil {
		internalError(w, "get entity failed", err)
		return
	}
	if ent == nil {
		errorJSON(w, "Entity not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// HandleGetEntityByName returns one entity by its unique name.
// GET /api/v1/ontology/entity/by-name/{name}
func (s *Server) HandleGetEntityByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ent, err := s.Entities.GetEntityByName(r.Context(), name)
	if err != nil {
		internalError(w, "get entity failed", err)
		return
	}
	if ent == nil {
		errorJSON(w, fmt.Sprintf("Entity %q not found", name), "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

type updateEntityRequest struct {
	DisplayName       *string                            `json:"display_name,omitempty"`
	Description       *string                            `json:"description,omitempty"`
	ColumnAnnotations map[string]domain.ColumnAnnotation `json:"column_annotations,omitempty"`
	Status            *domain.ObjectStatus               `json:"status,omitempty"`
}

// HandleUpdateEntity applies a partial update to an entity.
// PUT /api/v1/ontology/entity/{id}
func (s *Server) HandleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateEntityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DisplayName == nil && req.Description == nil && req.ColumnAnnotations == nil && req.Status == nil {
		errorJSON(w, "No updates provided", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	ent, err := s.Entities.GetEntity(r.Context(), id)
	if err != nil {
		internalError(w, "get entity failed", err)
		return
	}
	if ent == nil {
		errorJSON(w, "Entity not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	if req.DisplayName != nil {
		ent.DisplayName = *req.DisplayName
	}
	if req.Description != nil {
		ent.Description = *req.Description
	}
	if req.ColumnAnnotations != nil {
		ent.ColumnAnnotations = req.ColumnAnnotations
	}
	if req.Status != nil {
		ent.Status = *req.Status
	}

	if err := s.Entities.UpdateEntity(r.Context(), ent); err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// HandleDeleteEntity removes an entity.
// DELETE /api/v1/ontology/entity/{id}
func (s *Server) HandleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Entities.DeleteEntity(r.Context(), id); err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

type createRelationshipRequest struct {
	Name             string `json:"name"`
	FromEntity       string `json:"from_entity"`
	ToEntity         string `json:"to_entity"`
	FromColumn       string `json:"from_column"`
	ToColumn         string `json:"to_column"`
	RelationshipType string `json:"relationship_type"`
	Description      string `json:"description,omitempty"`
}

// HandleCreateRelationship declares a join edge between two active entities.
// POST /api/v1/ontology/relationship
func (s *Server) HandleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req createRelationshipRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !domain.ValidRelationshipType(req.RelationshipType) {
		errorJSON(w, fmt.Sprintf("unknown relationship type %q", req.RelationshipType), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if s.requireActiveEntity(w, r, req.FromEntity) == nil {
		return
	}
	if s.requireActiveEntity(w, r, req.ToEntity) == nil {
		return
	}

	rel := &domain.Relationship{
		ID:          domain.NewID("rel"),
		Name:        req.Name,
		FromEntity:  req.FromEntity,
		ToEntity:    req.ToEntity,
		FromColumn:  req.FromColumn,
		ToColumn:    req.ToColumn,
		Type:        domain.RelationshipType(req.RelationshipType),
		Description: req.Description,
	}
	if err := s.Relationships.CreateRelationship(r.Context(), rel); err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// HandleListRelationships lists relationships, optionally filtered to those
// touching one entity.
// GET /api/v1/ontology/relationship/list?entity=
func (s *Server) HandleListRelationships(w http.ResponseWriter, r *http.Request) {
	rels, err := s.Relationships.ListRelationships(r.Context())
	if err != nil {
		internalError(w, "list relationships failed", err)
		return
	}
	if entity := r.URL.Query().Get("entity"); entity != "" {
		filtered := []domain.Relationship{}
		for _, rel := range rels {
			if rel.FromEntity == entity || rel.ToEntity == entity {
				filtered = append(filtered, rel)
			}
		}
		rels = filtered
	}
	writeJSON(w, http.StatusOK, rels)
}

// HandleDeleteRelationship removes a relationship.
// DELETE /api/v1/ontology/relationship/{id}
func (s *Server) HandleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Relationships.DeleteRelationship(r.Context(), id); err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

type createMetricRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	EntityName  string `json:"entity_name"`
	Expression  string `json:"expression"`
	FormatType  string `json:"format_type,omitempty"`
}

// HandleCreateMetric defines a named aggregate over an active entity.
// POST /api/v1/ontology/metric
func (s *Server) HandleCreateMetric(w http.ResponseWriter, r *http.Request) {
	var req createMetricRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Expression == "" {
		errorJSON(w, "expression is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if s.requireActiveEntity(w, r, req.EntityName) == nil {
		return
	}

	format := domain.FormatType(req.FormatType)
	if format == "" {
		format = domain.FormatNumber
	}
	m := &domain.Metric{
		ID:          domain.NewID("met"),
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		EntityName:  req.EntityName,
		Expression:  req.Expression,
		FormatType:  format,
	}
	if err := s.Metrics.CreateMetric(r.Context(), m); err != nil {
		domainError(w, err)
		return
	}

	s.recordEvent(r.Context(), "metric_created", "", map[string]any{"metric": m.Name, "entity": m.EntityName})
	writeJSON(w, http.StatusOK, m)
}

// HandleListMetrics lists metrics, optionally filtered by entity.
// GET /api/v1/ontology/metric/list?entity=
func (s *Server) HandleListMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.Metrics.ListMetrics(r.Context())
	if err != nil {
		internalError(w, "list metrics failed", err)
		return
	}
	if entity := r.URL.Query().Get("entity"); entity != "" {
		filtered := []domain.Metric{}
		for _, m := range metrics {
			if m.EntityName == entity {
				filtered = append(filtered, m)
			}
		}
		metrics = filtered
	}
	writeJSON(w, http.StatusOK, metrics)
}

type updateMetricRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Description *string `json:"description,omitempty"`
	Expression  *string `json:"expression,omitempty"`
	FormatType  *string `json:"format_type,omitempty"`
}

// HandleUpdateMetric applies a partial update to a metric.
// PUT /api/v1/ontology/metric/{id}
func (s *Server) HandleUpdateMetric(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateMetricRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DisplayName == nil && req.Description == nil && req.Expression == nil && req.FormatType == nil {
		errorJSON(w, "No updates provided", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	m, err := s.Metrics.GetMetric(r.Context(), id)
	if err != nil {
		internalError(w, "get metric failed", err)
		return
	}
	if m == nil {
		errorJSON(w, "Metric not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	if req.DisplayName != nil {
		m.DisplayName = *req.DisplayName
	}
	if req.Description != nil {
		m.Description = *req.Description
	}
	if req.Expression != nil {
		m.Expression = *req.Expression
	}
	if req.FormatType != nil {
		m.FormatType = domain.FormatType(*req.FormatType)
	}

	if err := s.Metrics.UpdateMetric(r.Context(), m); err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleDeleteMetric removes a metric.
// DELETE /api/v1/ontology/metric/{id}
func (s *Server) HandleDeleteMetric(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Metrics.DeleteMetric(r.Context(), id); err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

type createDimensionRequest struct {
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description,omitempty"`
	EntityName    string `json:"entity_name"`
	Expression    string `json:"expression"`
	DimensionType string `json:"dimension_type,omitempty"`
}

// HandleCreateDimension defines a named grouping over an active entity.
// POST /api/v1/ontology/dimension
func (s *Server) HandleCreateDimension(w http.ResponseWriter, r *http.Request) {
	var req createDimensionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Expression == "" {
		errorJSON(w, "expression is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if s.requireActiveEntity(w, r, req.EntityName) == nil {
		return
	}

	dimType := domain.DimensionType(req.DimensionType)
	if dimType == "" {
		dimType = domain.DimensionDirect
	}
	if dimType != domain.DimensionDirect && dimType != domain.DimensionDerived {
		errorJSON(w, fmt.Sprintf("unknown dimension type %q", req.DimensionType), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	d := &domain.Dimension{
		ID:          domain.NewID("dim"),
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		EntityName:  req.EntityName,
		Expression:  req.Expression,
		Type:        dimType,
	}
	if err := s.Dimensions.CreateDimension(r.Context(), d); err != nil {
		domainError(w, err)
		return
	}

	s.recordEvent(r.Context(), "dimension_created", "", map[string]any{"dimension": d.Name, "entity": d.EntityName})
	writeJSON(w, http.StatusOK, d)
}

// HandleListDimensions lists dimensions, optionally filtered by entity.
// GET /api/v1/ontology/dimension/list?entity=
func (s *Server) HandleListDimensions(w http.ResponseWriter, r *http.Request) {
	dims, err := s.Dimensions.ListDimensions(r.Context())
	if err != nil {
		internalError(w, "list dimensions failed", err)
		return
	}
	if entity := r.URL.Query().Get("entity"); entity != "" {
		filtered := []domain.Dimension{}
		for _, d := range dims {
			if d.EntityName == entity {
				filtered = append(filtered, d)
			}
		}
		dims = filtered
	}
	writeJSON(w, http.StatusOK, dims)
}

type updateDimensionRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Description *string `json:"description,omitempty"`
	Expression  *string `json:"expression,omitempty"`
}

// HandleUpdateDimension applies a partial update to a dimension.
// PUT /api/v1/ontology/dimension/{id}
func (s *Server) HandleUpdateDimension(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateDimensionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DisplayName == nil && req.Description == nil && req.Expression == nil {
		errorJSON(w, "No updates provided", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	d, err := s.Dimensions.GetDimension(r.Context(), id)
	if err != nil {
		internalError(w, "get dimension failed", err)
		return
	}
	if d == nil {
		errorJSON(w, "Dimension not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	if req.DisplayName != nil {
		d.DisplayName = *req.DisplayName
	}
	if req.Description != nil {
		d.Description = *req.Description
	}
	if req.Expression != nil {
		d.Expression = *req.Expression
	}

	if err := s.Dimensions.UpdateDimension(r.Context(), d); err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// HandleDeleteDimension removes a dimension.
// DELETE /api/v1/ontology/dimension/{id}
func (s *Server) HandleDeleteDimension(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Dimensions.DeleteDimension(r.Context(), id); err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// HandleSemanticQuery executes a structured or natural-language semantic
// query against the active ontology.
// POST /api/v1/ontology/query
func (s *Server) HandleSemanticQuery(w http.ResponseWriter, r *http.Request) {
	var req semantic.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.Semantic.Execute(r.Context(), req)
	if err != nil {
		domainError(w, err)
		return
	}

	s.recordEvent(r.Context(), "semantic_query_executed", "", map[string]any{
		"metrics":    req.Metrics,
		"dimensions": req.Dimensions,
		"row_count":  result.RowCount,
	})
	writeJSON(w, http.StatusOK, result)
}

type proposeRequest struct {
	PipelineID           string `json:"pipeline_id"`
	IncludeRelationships *bool  `json:"include_relationships,omitempty"`
	IncludeMetrics       *bool  `json:"include_metrics,omitempty"`
}

// HandlePropose generates ontology proposals for a pipeline's profile.
// POST /api/v1/ontology/propose
func (s *Server) HandlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	includeRels := req.IncludeRelationships == nil || *req.IncludeRelationships
	includeMetrics := req.IncludeMetrics == nil || *req.IncludeMetrics

	proposals, err := s.Ontology.ProposeForPipeline(r.Context(), req.PipelineID, includeRels, includeMetrics)
	if err != nil {
		domainError(w, err)
		return
	}

	s.recordEvent(r.Context(), "ontology_proposed", req.PipelineID, map[string]any{"count": len(proposals)})
	writeJSON(w, http.StatusOK, map[string]any{
		"proposals": proposals,
		"count":     len(proposals),
		"next_steps": joinSteps(
			"Review proposals: GET /ontology/proposal/list",
			"Approve or reject: POST /ontology/proposal/{id}/review",
		),
	})
}

// HandleListProposals lists proposals, optionally filtered by status and type.
// GET /api/v1/ontology/proposal/list?status=&type=
func (s *Server) HandleListProposals(w http.ResponseWriter, r *http.Request) {
	status := domain.ProposalStatus(r.URL.Query().Get("status"))
	proposals, err := s.Proposals.ListProposals(r.Context(), status)
	if err != nil {
		internalError(w, "list proposals failed", err)
		return
	}
	if t := r.URL.Query().Get("type"); t != "" {
		filtered := []domain.Proposal{}
		for _, p := range proposals {
			if string(p.Type) == t {
				filtered = append(filtered, p)
			}
		}
		proposals = filtered
	}
	writeJSON(w, http.StatusOK, proposals)
}

// HandleGetProposal returns one proposal.
// GET /api/v1/ontology/proposal/{id}
func (s *Server) HandleGetProposal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.Proposals.GetProposal(r.Context(), id)
	if err != nil {
		internalError(w, "get proposal failed", err)
		return
	}
	if p == nil {
		errorJSON(w, "Proposal not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type reviewProposalRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes,omitempty"`
}

// HandleReviewProposal approves or rejects a pending proposal. Approval
// materializes the payload into its ontology table in one transaction.
// POST /api/v1/ontology/proposal/{id}/review
func (s *Server) HandleReviewProposal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req reviewProposalRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reviewer := "user"
	if ident, ok := auth.IdentityFrom(r.Context()); ok {
		reviewer = ident.Name
	}

	var (
		p   *domain.Proposal
		err error
	)
	switch req.Action {
	case "approve":
		p, err = s.Ontology.Approve(r.Context(), id, reviewer, req.Notes)
	case "reject":
		p, err = s.Ontology.Reject(r.Context(), id, reviewer, req.Notes)
	default:
		errorJSON(w, "action must be 'approve' or 'reject'", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
