package ontology

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdencbrown/relay/internal/domain"
)

type fakePipelines struct {
	pipelines map[string]*domain.Pipeline
}

func (f *fakePipelines) GetPipeline(_ context.Context, id string) (*domain.Pipeline, error) {
	return f.pipelines[id], nil
}

type fakeMetadata struct {
	metadata map[string]*domain.DatasetMetadata
}

func (f *fakeMetadata) GetDatasetMetadata(_ context.Context, pipelineID string) (*domain.DatasetMetadata, error) {
	return f.metadata[pipelineID], nil
}

type fakeEntities struct {
	entities []domain.Entity
}

func (f *fakeEntities) ListEntities(context.Context, domain.ObjectStatus) ([]domain.Entity, error) {
	return f.entities, nil
}

type fakeProposals struct {
	mu        sync.Mutex
	proposals map[string]*domain.Proposal
	approved  []string
	createErr error
}

func (f *fakeProposals) CreateProposal(_ context.Context, p *domain.Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.proposals == nil {
		f.proposals = map[string]*domain.Proposal{}
	}
	p.CreatedAt = time.Now().UTC()
	stored := *p
	f.proposals[p.ID] = &stored
	return nil
}

func (f *fakeProposals) GetProposal(_ context.Context, id string) (*domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProposals) ApproveProposalTx(_ context.Context, proposalID, objectID, reviewedBy, notes string) (*domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[proposalID]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, domain.ErrNotFound)
	}
	if p.Status != domain.ProposalPending {
		return nil, fmt.Errorf("proposal %s is %s: %w", proposalID, p.Status, domain.ErrInvalidTransition)
	}
	now := time.Now().UTC()
	p.Status = domain.ProposalApproved
	p.ReviewedBy = reviewedBy
	p.ReviewNotes = notes
	p.ReviewedAt = &now
	f.approved = append(f.approved, objectID)
	cp := *p
	return &cp, nil
}

func (f *fakeProposals) RejectProposal(_ context.Context, id, reviewedBy, notes string) (*domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
	}
	if p.Status != domain.ProposalPending {
		return nil, fmt.Errorf("proposal %s is %s: %w", id, p.Status, domain.ErrInvalidTransition)
	}
	now := time.Now().UTC()
	p.Status = domain.ProposalRejected
	p.ReviewedBy = reviewedBy
	p.ReviewNotes = notes
	p.ReviewedAt = &now
	cp := *p
	return &cp, nil
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(context.Context, string, int) (string, error) {
	return f.response, f.err
}

func ordersPipeline() *domain.Pipeline {
	return &domain.Pipeline{ID: "pipe-1", Name: "Customer Orders"}
}

func ordersMetadata() *domain.DatasetMetadata {
	return &domain.DatasetMetadata{
		PipelineID: "pipe-1",
		Columns: []domain.ColumnProfile{
			{Name: "id", Type: "int64", SemanticType: "identifier"},
			{Name: "customer_id", Type: "int64", SemanticType: "identifier"},
			{Name: "amount", Type: "float64", SemanticType: "currency"},
			{Name: "status", Type: "string", UniqueValues: 4},
			{Name: "email", Type: "string", SemanticType: "email", UniqueValues: 900},
			{Name: "created_at", Type: "timestamp", SemanticType: "datetime"},
		},
	}
}

func draftsByType(t *testing.T, drafts []draft) map[domain.ProposalType][]map[string]any {
	t.Helper()
	out := map[domain.ProposalType][]map[string]any{}
	for _, d := range drafts {
		var payload map[string]any
		require.NoError(t, json.Unmarshal(d.Payload, &payload))
		out[d.Type] = append(out[d.Type], payload)
	}
	return out
}

func TestHeuristicProposeFullShape(t *testing.T) {
	existing := []domain.Entity{{Name: "customers", PipelineID: "pipe-0"}}
	drafts, err := heuristicPropose(ordersPipeline(), ordersMetadata(), existing, true, true)
	require.NoError(t, err)

	byType := draftsByType(t, drafts)

	entities := byType[domain.ProposalEntity]
	require.Len(t, entities, 1)
	assert.Equal(t, "customer_orders", entities[0]["name"])
	assert.Equal(t, "Customer Orders", entities[0]["display_name"])
	annotations := entities[0]["column_annotations"].(map[string]any)
	assert.Contains(t, annotations, "id")
	assert.Contains(t, annotations, "customer_id")

	rels := byType[domain.ProposalRelationship]
	require.Len(t, rels, 1)
	assert.Equal(t, "customer_orders_to_customers", rels[0]["name"])
	assert.Equal(t, "customer_id", rels[0]["from_column"])
	assert.Equal(t, "id", rels[0]["to_column"])
	assert.Equal(t, "many_to_one", rels[0]["relationship_type"])

	metricNames := map[string]map[string]any{}
	for _, m := range byType[domain.ProposalMetric] {
		metricNames[m["name"].(string)] = m
	}
	require.Len(t, metricNames, 3)
	assert.Equal(t, "SUM(customer_orders.amount)", metricNames["total_amount"]["expression"])
	assert.Equal(t, "currency", metricNames["total_amount"]["format_type"])
	assert.Equal(t, "number", metricNames["avg_amount"]["format_type"])
	assert.Equal(t, "COUNT(*)", metricNames["customer_orders_count"]["expression"])

	dimNames := map[string]map[string]any{}
	for _, d := range byType[domain.ProposalDimension] {
		dimNames[d["name"].(string)] = d
	}
	require.Len(t, dimNames, 2)
	assert.Equal(t, "DATE_TRUNC('month', customer_orders.created_at)", dimNames["created_at_month"]["expression"])
	assert.Equal(t, "derived", dimNames["created_at_month"]["dimension_type"])
	assert.Equal(t, "customer_orders.status", dimNames["status"]["expression"])
	assert.Equal(t, "direct", dimNames["status"]["dimension_type"])
}

func TestHeuristicProposeRelationshipsAndMetricsOptional(t *testing.T) {
	existing := []domain.Entity{{Name: "customers"}}
	drafts, err := heuristicPropose(ordersPipeline(), ordersMetadata(), existing, false, false)
	require.NoError(t, err)

	require.Len(t, drafts, 1)
	assert.Equal(t, domain.ProposalEntity, drafts[0].Type)
}

func TestHeuristicProposeWithoutMetadata(t *testing.T) {
	drafts, err := heuristicPropose(ordersPipeline(), nil, nil, true, true)
	require.NoError(t, err)

	byType := draftsByType(t, drafts)
	assert.Len(t, byType[domain.ProposalEntity], 1)
	assert.Empty(t, byType[domain.ProposalRelationship])
	require.Len(t, byType[domain.ProposalMetric], 1)
	assert.Equal(t, "customer_orders_count", byType[domain.ProposalMetric][0]["name"])
}

func newTestManager(proposals *fakeProposals, client *fakeLLM, autoApprove bool) *Manager {
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	pipelines := &fakePipelines{pipelines: map[string]*domain.Pipeline{"pipe-1": ordersPipeline()}}
	metadata := &fakeMetadata{metadata: map[string]*domain.DatasetMetadata{"pipe-1": ordersMetadata()}}
	entities := &fakeEntities{entities: []domain.Entity{{Name: "customers"}}}
	if client == nil {
		return New(pipelines, metadata, entities, proposals, nil, autoApprove, logger)
	}
	return New(pipelines, metadata, entities, proposals, client, autoApprove, logger)
}

func TestProposeForPipelinePersistsPending(t *testing.T) {
	proposals := &fakeProposals{}
	m := newTestManager(proposals, nil, false)

	saved, err := m.ProposeForPipeline(context.Background(), "pipe-1", true, true)
	require.NoError(t, err)
	require.NotEmpty(t, saved)

	for _, p := range saved {
		assert.Equal(t, domain.ProposalPending, p.Status)
		assert.Equal(t, "heuristic", p.ProposedBy)
		assert.Equal(t, "pipe-1", p.SourcePipelineID)
	}
	assert.Empty(t, proposals.approved)
}

func TestProposeForPipelineAutoApproves(t *testing.T) {
	proposals := &fakeProposals{}
	m := newTestManager(proposals, nil, true)

	saved, err := m.ProposeForPipeline(context.Background(), "pipe-1", true, true)
	require.NoError(t, err)
	require.NotEmpty(t, saved)

	for _, p := range saved {
		assert.Equal(t, domain.ProposalApproved, p.Status)
		assert.Equal(t, "dev_mode", p.ReviewedBy)
	}
	assert.Len(t, proposals.approved, len(saved))
}

func TestProposeForPipelineUnknownPipeline(t *testing.T) {
	m := newTestManager(&fakeProposals{}, nil, false)
	_, err := m.ProposeForPipeline(context.Background(), "missing", true, true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProposeForPipelineAIPath(t *testing.T) {
	response := `[
		{"type": "entity", "payload": {"name": "customer_orders", "display_name": "Customer Orders", "pipeline_id": "pipe-1"}},
		{"type": "metric", "payload": {"name": "order_total", "entity_name": "customer_orders", "expression": "SUM(customer_orders.amount)", "format_type": "currency"}}
	]`
	proposals := &fakeProposals{}
	m := newTestManager(proposals, &fakeLLM{response: response}, false)

	saved, err := m.ProposeForPipeline(context.Background(), "pipe-1", true, true)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "ai", saved[0].ProposedBy)
	assert.Equal(t, domain.ProposalEntity, saved[0].Type)
	assert.Equal(t, domain.ProposalMetric, saved[1].Type)
}

func TestProposeForPipelineAIFallsBackToHeuristics(t *testing.T) {
	proposals := &fakeProposals{}
	m := newTestManager(proposals, &fakeLLM{response: "I cannot produce JSON today."}, false)

	saved, err := m.ProposeForPipeline(context.Background(), "pipe-1", true, true)
	require.NoError(t, err)
	require.NotEmpty(t, saved)
	assert.Equal(t, "heuristic", saved[0].ProposedBy)
}

func TestProposeForPipelineAIDropsUnknownTypes(t *testing.T) {
	response := `[
		{"type": "sorcery", "payload": {"name": "x"}},
		{"type": "dimension", "payload": {"name": "status", "entity_name": "customer_orders", "expression": "customer_orders.status", "dimension_type": "direct"}}
	]`
	m := newTestManager(&fakeProposals{}, &fakeLLM{response: response}, false)

	saved, err := m.ProposeForPipeline(context.Background(), "pipe-1", true, true)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, domain.ProposalDimension, saved[0].Type)
}

func TestApproveAndReject(t *testing.T) {
	proposals := &fakeProposals{}
	m := newTestManager(proposals, nil, false)

	saved, err := m.ProposeForPipeline(context.Background(), "pipe-1", false, false)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	id := saved[0].ID

	approved, err := m.Approve(context.Background(), id, "reviewer", "looks right")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalApproved, approved.Status)
	require.Len(t, proposals.approved, 1)
	assert.Contains(t, proposals.approved[0], "ent-")

	_, err = m.Approve(context.Background(), id, "reviewer", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = m.Reject(context.Background(), id, "reviewer", "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestApproveUnknownProposal(t *testing.T) {
	m := newTestManager(&fakeProposals{proposals: map[string]*domain.Proposal{}}, nil, false)
	_, err := m.Approve(context.Background(), "prop-missing", "reviewer", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestObjectIDPrefix(t *testing.T) {
	assert.Equal(t, "ent", objectIDPrefix(domain.ProposalEntity))
	assert.Equal(t, "rel", objectIDPrefix(domain.ProposalRelationship))
	assert.Equal(t, "met", objectIDPrefix(domain.ProposalMetric))
	assert.Equal(t, "dim", objectIDPrefix(domain.ProposalDimension))
}
