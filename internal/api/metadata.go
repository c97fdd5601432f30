package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camdencbrown/relay/internal/auth"
	"github.com/camdencbrown/relay/internal/domain"
)

// MetadataStore reads and amends dataset profiles. Implemented by
// postgres.MetadataStore.
type MetadataStore interface {
	GetDatasetMetadata(ctx context.Context, pipelineID string) (*domain.DatasetMetadata, error)
	ListDatasetMetadata(ctx context.Context) ([]domain.DatasetMetadata, error)
	UpdateColumnReview(ctx context.Context, pipelineID, columnName, description, businessMeaning string) error
}

// KnowledgeStore persists human-verified column descriptions. Implemented
// by postgres.KnowledgeStore.
type KnowledgeStore interface {
	UpsertColumnKnowledge(ctx context.Context, k *domain.ColumnKnowledge) error
}

// MountMetadataRoutes registers profile read and review routes.
func MountMetadataRoutes(r chi.Router, srv *Server) {
	read := r.With(srv.requireRole(domain.RoleReader))
	write := r.With(srv.requireRole(domain.RoleWriter))

	read.Get("/metadata/review/pending", srv.HandlePendingReviews)
	write.Post("/metadata/review/approve", srv.HandleApproveColumn)
	read.Get("/metadata/{id}", srv.HandleGetMetadata)
}

// HandleGetMetadata returns a pipeline's column profile.
// GET /api/v1/metadata/{id}
func (s *Server) HandleGetMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	md, err := s.Metadata.GetDatasetMetadata(r.Context(), id)
	if err != nil {
		internalError(w, "get metadata failed", err)
		return
	}
	if md == nil {
		errorJSON(w, fmt.Sprintf("No metadata found for pipeline %s. Run the pipeline first to generate metadata.", id),
			"NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

// pendingReview is one column awaiting human verification.
type pendingReview struct {
	PipelineID   string   `json:"pipeline_id"`
	PipelineName string   `json:"pipeline_name"`
	ColumnName   string   `json:"column_name"`
	Type         string   `json:"type"`
	SemanticType string   `json:"semantic_type"`
	Description  string   `json:"auto_description"`
	SampleValues []string `json:"sample_values"`
}

// HandlePendingReviews lists every column flagged needs_review across all
// dataset profiles.
// GET /api/v1/metadata/review/pending
func (s *Server) HandlePendingReviews(w http.ResponseWriter, r *http.Request) {
	all, err := s.Metadata.ListDatasetMetadata(r.Context())
	if err != nil {
		internalError(w, "list metadata failed", err)
		return
	}

	pending := []pendingReview{}
	for _, md := range all {
		for _, col := range md.Columns {
			if !col.NeedsReview || col.HumanVerified {
				continue
			}
			pending = append(pending, pendingReview{
				PipelineID:   md.PipelineID,
				PipelineName: md.PipelineName,
				ColumnName:   col.Name,
				Type:         col.Type,
				SemanticType: col.SemanticType,
				Description:  col.AutoDescription,
				SampleValues: col.SampleValues,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "success",
		"pending_count":   len(pending),
		"pending_reviews": pending,
	})
}

type approveColumnRequest struct {
	PipelineID      string `json:"pipeline_id"`
	ColumnName      string `json:"column_name"`
	Description     string `json:"description"`
	BusinessMeaning string `json:"business_meaning,omitempty"`
	VerifiedBy      string `json:"verified_by,omitempty"`
}

// HandleApproveColumn records a verified column description on the profile
// and in the shared knowledge base so future profiles reuse it.
// POST /api/v1/metadata/review/approve
func (s *Server) HandleApproveColumn(w http.ResponseWriter, r *http.Request) {
	var req approveColumnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PipelineID == "" || req.ColumnName == "" || req.Description == "" {
		errorJSON(w, "pipeline_id, column_name, and description are required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	verifiedBy := req.VerifiedBy
	if verifiedBy == "" {
		if id, ok := auth.IdentityFrom(r.Context()); ok {
			verifiedBy = id.Name
		} else {
			verifiedBy = "user"
		}
	}

	if err := s.Metadata.UpdateColumnReview(r.Context(), req.PipelineID, req.ColumnName, req.Description, req.BusinessMeaning); err != nil {
		domainError(w, err)
		return
	}

	if err := s.Knowledge.UpsertColumnKnowledge(r.Context(), &domain.ColumnKnowledge{
		Key:             domain.NormalizeColumnKey(req.ColumnName),
		ColumnName:      req.ColumnName,
		Description:     req.Description,
		BusinessMeaning: req.BusinessMeaning,
		VerifiedBy:      verifiedBy,
		VerifiedAt:      time.Now().UTC(),
	}); err != nil {
		internalError(w, "save column knowledge failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "approved",
		"column_name": req.ColumnName,
		"message":     fmt.Sprintf("Column %q approved and added to knowledge base", req.ColumnName),
	})
}
