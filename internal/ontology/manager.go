// Package ontology generates and reviews semantic-layer proposals. The
// heuristic analyzer is the authoritative path; an LLM decorator can
// propose the same payload shapes and falls back silently when it fails.
package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/llm"
)

// PipelineSource loads the pipeline a proposal is generated for.
type PipelineSource interface {
	GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error)
}

// MetadataSource supplies the column profiles the heuristics analyze.
type MetadataSource interface {
	GetDatasetMetadata(ctx context.Context, pipelineID string) (*domain.DatasetMetadata, error)
}

// EntitySource lists existing entities for relationship matching.
type EntitySource interface {
	ListEntities(ctx context.Context, status domain.ObjectStatus) ([]domain.Entity, error)
}

// ProposalStore persists proposals and their review lifecycle.
// Implemented by postgres.ProposalStore.
type ProposalStore interface {
	CreateProposal(ctx context.Context, p *domain.Proposal) error
	GetProposal(ctx context.Context, id string) (*domain.Proposal, error)
	ApproveProposalTx(ctx context.Context, proposalID, objectID, reviewedBy, notes string) (*domain.Proposal, error)
	RejectProposal(ctx context.Context, id, reviewedBy, notes string) (*domain.Proposal, error)
}

// Manager generates ontology proposals and drives the review workflow.
type Manager struct {
	pipelines PipelineSource
	metadata  MetadataSource
	entities  EntitySource
	proposals ProposalStore
	client    llm.Client

	// AutoApprove materializes proposals immediately. Set when the
	// service runs without required authentication.
	AutoApprove bool

	logger *slog.Logger
}

// New wires a Manager. client may be nil, which disables the AI path.
func New(pipelines PipelineSource, metadata MetadataSource, entities EntitySource, proposals ProposalStore, client llm.Client, autoApprove bool, logger *slog.Logger) *Manager {
	return &Manager{
		pipelines:   pipelines,
		metadata:    metadata,
		entities:    entities,
		proposals:   proposals,
		client:      client,
		AutoApprove: autoApprove,
		logger:      logger.With("component", "ontology"),
	}
}

// draft is a generated proposal before persistence.
type draft struct {
	Type    domain.ProposalType
	Payload json.RawMessage
}

// ProposeForPipeline analyzes a pipeline's column profiles and persists
// candidate ontology rows. In auto-approve mode each proposal is
// materialized immediately through the same transactional path manual
// review uses.
func (m *Manager) ProposeForPipeline(ctx context.Context, pipelineID string, includeRelationships, includeMetrics bool) ([]domain.Proposal, error) {
	pipeline, err := m.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline %s: %w", pipelineID, domain.ErrNotFound)
	}

	md, err := m.metadata.GetDatasetMetadata(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	existing, err := m.entities.ListEntities(ctx, domain.StatusActive)
	if err != nil {
		return nil, err
	}

	proposedBy := "heuristic"
	var drafts []draft
	if m.client != nil {
		if aiDrafts := m.aiPropose(ctx, pipeline, md, existing, includeRelationships, includeMetrics); aiDrafts != nil {
			drafts = aiDrafts
			proposedBy = "ai"
		}
	}
	if drafts == nil {
		drafts, err = heuristicPropose(pipeline, md, existing, includeRelationships, includeMetrics)
		if err != nil {
			return nil, err
		}
	}

	saved := make([]domain.Proposal, 0, len(drafts))
	for _, d := range drafts {
		p := &domain.Proposal{
			ID:               domain.NewID("prop"),
			Type:             d.Type,
			Payload:          d.Payload,
			SourcePipelineID: pipelineID,
			ProposedBy:       proposedBy,
			Status:           domain.ProposalPending,
		}
		if err := m.proposals.CreateProposal(ctx, p); err != nil {
			return nil, err
		}

		if m.AutoApprove {
			approved, err := m.Approve(ctx, p.ID, "dev_mode", "")
			if err != nil {
				// Duplicate objects from re-proposing are expected; the
				// proposal stays pending and the rest continue.
				m.logger.Warn("auto-approve failed", "proposal_id", p.ID, "type", p.Type, "error", err)
			} else {
				p = approved
			}
		}
		saved = append(saved, *p)
	}

	m.logger.Info("proposals generated", "pipeline_id", pipelineID, "count", len(saved), "proposed_by", proposedBy, "auto_approved", m.AutoApprove)
	return saved, nil
}

// Approve materializes a pending proposal under a fresh object id and marks
// it approved.
func (m *Manager) Approve(ctx context.Context, proposalID, reviewedBy, notes string) (*domain.Proposal, error) {
	p, err := m.proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, domain.ErrNotFound)
	}
	return m.proposals.ApproveProposalTx(ctx, proposalID, domain.NewID(objectIDPrefix(p.Type)), reviewedBy, notes)
}

// Reject marks a pending proposal rejected with optional notes.
func (m *Manager) Reject(ctx context.Context, proposalID, reviewedBy, notes string) (*domain.Proposal, error) {
	return m.proposals.RejectProposal(ctx, proposalID, reviewedBy, notes)
}

func objectIDPrefix(t domain.ProposalType) string {
	switch t {
	case domain.ProposalEntity:
		return "ent"
	case domain.ProposalRelationship:
		return "rel"
	case domain.ProposalMetric:
		return "met"
	case domain.ProposalDimension:
		return "dim"
	}
	return "obj"
}

// heuristicPropose derives proposals from column profiles alone.
func heuristicPropose(pipeline *domain.Pipeline, md *domain.DatasetMetadata, existing []domain.Entity, includeRelationships, includeMetrics bool) ([]draft, error) {
	entityName := domain.DeriveTableName(pipeline.Name)
	var columns []domain.ColumnProfile
	if md != nil {
		columns = md.Columns
	}

	var drafts []draft
	add := func(t domain.ProposalType, payload any) error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s proposal: %w", t, err)
		}
		drafts = append(drafts, draft{Type: t, Payload: raw})
		return nil
	}

	annotations := map[string]domain.ColumnAnnotation{}
	for _, col := range columns {
		if col.Name == "id" || col.SemanticType == "identifier" {
			annotations[col.Name] = domain.ColumnAnnotation{Role: domain.RolePrimaryKey, Description: col.Description}
		}
	}
	description := pipeline.Description
	if description == "" {
		description = fmt.Sprintf("Entity from pipeline %q", pipeline.Name)
	}
	if err := add(domain.ProposalEntity, domain.Entity{
		Name:              entityName,
		DisplayName:       pipeline.Name,
		Description:       description,
		PipelineID:        pipeline.ID,
		ColumnAnnotations: annotations,
		Status:            domain.StatusActive,
	}); err != nil {
		return nil, err
	}

	if includeRelationships {
		existingNames := make(map[string]bool, len(existing))
		for _, e := range existing {
			existingNames[e.Name] = true
		}
		for _, col := range columns {
			if !strings.HasSuffix(col.Name, "_id") || col.Name == "id" {
				continue
			}
			ref := strings.TrimSuffix(col.Name, "_id")
			for _, candidate := range []string{ref, inflection.Plural(ref)} {
				if !existingNames[candidate] {
					continue
				}
				if err := add(domain.ProposalRelationship, domain.Relationship{
					Name:        fmt.Sprintf("%s_to_%s", entityName, candidate),
					FromEntity:  entityName,
					ToEntity:    candidate,
					FromColumn:  col.Name,
					ToColumn:    "id",
					Type:        domain.ManyToOne,
					Description: fmt.Sprintf("%s.%s -> %s.id", entityName, col.Name, candidate),
				}); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	if includeMetrics {
		for _, col := range columns {
			if !isMeasurable(col) || col.Name == "id" || strings.HasSuffix(col.Name, "_id") {
				continue
			}
			format := domain.FormatNumber
			if col.SemanticType == "currency" {
				format = domain.FormatCurrency
			}
			if err := add(domain.ProposalMetric, domain.Metric{
				Name:        "total_" + col.Name,
				DisplayName: "Total " + titleCase(col.Name),
				Description: fmt.Sprintf("Sum of %s.%s", entityName, col.Name),
				EntityName:  entityName,
				Expression:  fmt.Sprintf("SUM(%s.%s)", entityName, col.Name),
				FormatType:  format,
			}); err != nil {
				return nil, err
			}
			if err := add(domain.ProposalMetric, domain.Metric{
				Name:        "avg_" + col.Name,
				DisplayName: "Average " + titleCase(col.Name),
				Description: fmt.Sprintf("Average of %s.%s", entityName, col.Name),
				EntityName:  entityName,
				Expression:  fmt.Sprintf("AVG(%s.%s)", entityName, col.Name),
				FormatType:  domain.FormatNumber,
			}); err != nil {
				return nil, err
			}
		}

		if err := add(domain.ProposalMetric, domain.Metric{
			Name:        entityName + "_count",
			DisplayName: pipeline.Name + " Count",
			Description: fmt.Sprintf("Count of %s records", entityName),
			EntityName:  entityName,
			Expression:  "COUNT(*)",
			FormatType:  domain.FormatNumber,
		}); err != nil {
			return nil, err
		}

		for _, col := range columns {
			switch {
			case isTemporal(col):
				if err := add(domain.ProposalDimension, domain.Dimension{
					Name:        col.Name + "_month",
					DisplayName: titleCase(col.Name) + " (Month)",
					Description: fmt.Sprintf("Monthly grouping of %s.%s", entityName, col.Name),
					EntityName:  entityName,
					Expression:  fmt.Sprintf("DATE_TRUNC('month', %s.%s)", entityName, col.Name),
					Type:        domain.DimensionDerived,
				}); err != nil {
					return nil, err
				}
			case isCategorical(col):
				if err := add(domain.ProposalDimension, domain.Dimension{
					Name:        col.Name,
					DisplayName: titleCase(col.Name),
					Description: fmt.Sprintf("Group by %s.%s", entityName, col.Name),
					EntityName:  entityName,
					Expression:  fmt.Sprintf("%s.%s", entityName, col.Name),
					Type:        domain.DimensionDirect,
				}); err != nil {
					return nil, err
				}
			}
		}
	}

	return drafts, nil
}

func isMeasurable(col domain.ColumnProfile) bool {
	switch col.Type {
	case "int64", "float64", "numeric", "integer", "float":
		return true
	}
	switch col.SemanticType {
	case "currency", "numeric", "amount":
		return true
	}
	return false
}

func isTemporal(col domain.ColumnProfile) bool {
	if col.SemanticType == "date" || col.SemanticType == "datetime" {
		return true
	}
	return strings.Contains(strings.ToLower(col.Type), "date") || col.Type == "timestamp"
}

func isCategorical(col domain.ColumnProfile) bool {
	switch col.Type {
	case "string", "text", "object", "category":
	default:
		return false
	}
	if col.Name == "id" || strings.HasSuffix(col.Name, "_id") {
		return false
	}
	return col.UniqueValues > 0 && col.UniqueValues <= 50
}

func titleCase(name string) string {
	words := strings.Split(strings.ReplaceAll(name, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
