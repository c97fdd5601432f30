package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/camdencbrown/relay/internal/api"
	"github.com/camdencbrown/relay/internal/connector"
	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/engine"
	"github.com/camdencbrown/relay/internal/queryengine"
	"github.com/camdencbrown/relay/internal/search"
	"github.com/camdencbrown/relay/internal/semantic"
	"github.com/camdencbrown/relay/internal/tabular"
)

// In-memory fakes for every store and service the handlers depend on. All
// are mutex-guarded so router-level tests can run handlers concurrently.

type fakePipelineStore struct {
	mu        sync.Mutex
	pipelines map[string]*domain.Pipeline
	order     []string
}

func newFakePipelineStore() *fakePipelineStore {
	return &fakePipelineStore{pipelines: map[string]*domain.Pipeline{}}
}

func (s *fakePipelineStore) CreatePipeline(_ context.Context, p *domain.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[p.ID]; ok {
		return fmt.Errorf("pipeline %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	s.pipelines[p.ID] = &cp
	s.order = append(s.order, p.ID)
	return nil
}

func (s *fakePipelineStore) ListPipelines(_ context.Context) ([]domain.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Pipeline, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.pipelines[id])
	}
	return out, nil
}

func (s *fakePipelineStore) GetPipeline(_ context.Context, id string) (*domain.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakePipelineStore) DeletePipeline(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[id]; !ok {
		return fmt.Errorf("pipeline %s: %w", id, domain.ErrNotFound)
	}
	delete(s.pipelines, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakePipelineStore) ListPipelinesUsingConnection(_ context.Context, idOrName ...string) ([]domain.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	match := map[string]bool{}
	for _, v := range idOrName {
		match[v] = true
	}
	var out []domain.Pipeline
	for _, id := range s.order {
		p := s.pipelines[id]
		if match[p.Source.Connection] {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]*domain.Run
	byPL map[string][]string // pipelineID -> runIDs, newest first
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: map[string]*domain.Run{}, byPL: map[string][]string{}}
}

func (s *fakeRunStore) CreateRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.RunID] = &cp
	s.byPL[run.PipelineID] = append([]string{run.RunID}, s.byPL[run.PipelineID]...)
	return nil
}

func (s *fakeRunStore) GetRun(_ context.Context, runID string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (s *fakeRunStore) ListRuns(_ context.Context, pipelineID string, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byPL[pipelineID]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.Run, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.runs[id])
	}
	return out, nil
}

type fakeConnectionStore struct {
	mu    sync.Mutex
	conns map[string]*domain.Connection
}

func newFakeConnectionStore() *fakeConnectionStore {
	return &fakeConnectionStore{conns: map[string]*domain.Connection{}}
}

func (s *fakeConnectionStore) CreateConnection(_ context.Context, c *domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.conns {
		if existing.Name == c.Name {
			return fmt.Errorf("connection %s: %w", c.Name, domain.ErrAlreadyExists)
		}
	}
	c.CreatedAt = time.Now().UTC()
	cp := *c
	s.conns[c.ID] = &cp
	return nil
}

func (s *fakeConnectionStore) ListConnections(_ context.Context) ([]domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, *c)
	}
	return out, nil
}

func (s *fakeConnectionStore) GetConnection(_ context.Context, id string) (*domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *fakeConnectionStore) GetConnectionByName(_ context.Context, name string) (*domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeConnectionStore) UpdateConnection(_ context.Context, c *domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c.ID]; !ok {
		return fmt.Errorf("connection %s: %w", c.ID, domain.ErrNotFound)
	}
	cp := *c
	s.conns[c.ID] = &cp
	return nil
}

func (s *fakeConnectionStore) DeleteConnection(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[id]; !ok {
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	delete(s.conns, id)
	return nil
}

func (s *fakeConnectionStore) RecordConnectionTest(_ context.Context, id, status string, testedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	c.LastTestStatus = status
	c.LastTestedAt = &testedAt
	return nil
}

type fakeMetadataStore struct {
	mu       sync.Mutex
	profiles map[string]*domain.DatasetMetadata
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{profiles: map[string]*domain.DatasetMetadata{}}
}

func (s *fakeMetadataStore) GetDatasetMetadata(_ context.Context, pipelineID string) (*domain.DatasetMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.profiles[pipelineID]
	if !ok {
		return nil, nil
	}
	cp := *md
	return &cp, nil
}

func (s *fakeMetadataStore) ListDatasetMetadata(_ context.Context) ([]domain.DatasetMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DatasetMetadata, 0, len(s.profiles))
	for _, md := range s.profiles {
		out = append(out, *md)
	}
	return out, nil
}

func (s *fakeMetadataStore) UpdateColumnReview(_ context.Context, pipelineID, columnName, description, businessMeaning string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.profiles[pipelineID]
	if !ok {
		return fmt.Errorf("metadata for %s: %w", pipelineID, domain.ErrNotFound)
	}
	for i := range md.Columns {
		if md.Columns[i].Name == columnName {
			md.Columns[i].Description = description
			md.Columns[i].BusinessMeaning = businessMeaning
			md.Columns[i].HumanVerified = true
			md.Columns[i].NeedsReview = false
			return nil
		}
	}
	return fmt.Errorf("column %s: %w", columnName, domain.ErrNotFound)
}

type fakeKnowledgeStore struct {
	mu      sync.Mutex
	entries map[string]*domain.ColumnKnowledge
}

func newFakeKnowledgeStore() *fakeKnowledgeStore {
	return &fakeKnowledgeStore{entries: map[string]*domain.ColumnKnowledge{}}
}

func (s *fakeKnowledgeStore) UpsertColumnKnowledge(_ context.Context, k *domain.ColumnKnowledge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.entries[k.Key] = &cp
	return nil
}

type fakeEntityStore struct {
	mu       sync.Mutex
	entities map[string]*domain.Entity
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{entities: map[string]*domain.Entity{}}
}

func (s *fakeEntityStore) CreateEntity(_ context.Context, e *domain.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.CreatedAt = time.Now().UTC()
	cp := *e
	s.entities[e.ID] = &cp
	return nil
}

func (s *fakeEntityStore) ListEntities(_ context.Context, status domain.ObjectStatus) ([]domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Entity
	for _, e := range s.entities {
		if status == "" || e.Status == status {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *fakeEntityStore) GetEntity(_ context.Context, id string) (*domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *fakeEntityStore) GetEntityByName(_ context.Context, name string) (*domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entities {
		if e.Name == name {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeEntityStore) UpdateEntity(_ context.Context, e *domain.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.ID]; !ok {
		return fmt.Errorf("entity %s: %w", e.ID, domain.ErrNotFound)
	}
	cp := *e
	s.entities[e.ID] = &cp
	return nil
}

func (s *fakeEntityStore) DeleteEntity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; !ok {
		return fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	delete(s.entities, id)
	return nil
}

type fakeRelationshipStore struct {
	mu   sync.Mutex
	rels map[string]*domain.Relationship
}

func newFakeRelationshipStore() *fakeRelationshipStore {
	return &fakeRelationshipStore{rels: map[string]*domain.Relationship{}}
}

func (s *fakeRelationshipStore) CreateRelationship(_ context.Context, r *domain.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rels[r.ID] = &cp
	return nil
}

func (s *fakeRelationshipStore) ListRelationships(_ context.Context) ([]domain.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Relationship, 0, len(s.rels))
	for _, r := range s.rels {
		out = append(out, *r)
	}
	return out, nil
}

func (s *fakeRelationshipStore) DeleteRelationship(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rels[id]; !ok {
		return fmt.Errorf("relationship %s: %w", id, domain.ErrNotFound)
	}
	delete(s.rels, id)
	return nil
}

type fakeMetricStore struct {
	mu      sync.Mutex
	metrics map[string]*domain.Metric
}

func newFakeMetricStore() *fakeMetricStore {
	return &fakeMetricStore{metrics: map[string]*domain.Metric{}}
}

func (s *fakeMetricStore) CreateMetric(_ context.Context, m *domain.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.metrics[m.ID] = &cp
	return nil
}

func (s *fakeMetricStore) ListMetrics(_ context.Context) ([]domain.Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Metric, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, *m)
	}
	return out, nil
}

func (s *fakeMetricStore) GetMetric(_ context.Context, id string) (*domain.Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *fakeMetricStore) UpdateMetric(_ context.Context, m *domain.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.metrics[m.ID]; !ok {
		return fmt.Errorf("metric %s: %w", m.ID, domain.ErrNotFound)
	}
	cp := *m
	s.metrics[m.ID] = &cp
	return nil
}

func (s *fakeMetricStore) DeleteMetric(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.metrics[id]; !ok {
		return fmt.Errorf("metric %s: %w", id, domain.ErrNotFound)
	}
	delete(s.metrics, id)
	return nil
}

type fakeDimensionStore struct {
	mu   sync.Mutex
	dims map[string]*domain.Dimension
}

func newFakeDimensionStore() *fakeDimensionStore {
	return &fakeDimensionStore{dims: map[string]*domain.Dimension{}}
}

func (s *fakeDimensionStore) CreateDimension(_ context.Context, d *domain.Dimension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.dims[d.ID] = &cp
	return nil
}

func (s *fakeDimensionStore) ListDimensions(_ context.Context) ([]domain.Dimension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Dimension, 0, len(s.dims))
	for _, d := range s.dims {
		out = append(out, *d)
	}
	return out, nil
}

func (s *fakeDimensionStore) GetDimension(_ context.Context, id string) (*domain.Dimension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dims[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *fakeDimensionStore) UpdateDimension(_ context.Context, d *domain.Dimension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dims[d.ID]; !ok {
		return fmt.Errorf("dimension %s: %w", d.ID, domain.ErrNotFound)
	}
	cp := *d
	s.dims[d.ID] = &cp
	return nil
}

func (s *fakeDimensionStore) DeleteDimension(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dims[id]; !ok {
		return fmt.Errorf("dimension %s: %w", id, domain.ErrNotFound)
	}
	delete(s.dims, id)
	return nil
}

type fakeSnapshotStore struct {
	snapshot domain.OntologySnapshot
}

func (s *fakeSnapshotStore) GetOntologySnapshot(_ context.Context) (*domain.OntologySnapshot, error) {
	cp := s.snapshot
	return &cp, nil
}

type fakeProposalStore struct {
	mu        sync.Mutex
	proposals map[string]*domain.Proposal
}

func newFakeProposalStore() *fakeProposalStore {
	return &fakeProposalStore{proposals: map[string]*domain.Proposal{}}
}

func (s *fakeProposalStore) put(p *domain.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.proposals[p.ID] = &cp
}

func (s *fakeProposalStore) ListProposals(_ context.Context, status domain.ProposalStatus) ([]domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Proposal
	for _, p := range s.proposals {
		if status == "" || p.Status == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeProposalStore) GetProposal(_ context.Context, id string) (*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

type fakeAPIKeyStore struct {
	mu     sync.Mutex
	nextID int64
	keys   map[int64]*domain.APIKey
}

func newFakeAPIKeyStore() *fakeAPIKeyStore {
	return &fakeAPIKeyStore{keys: map[int64]*domain.APIKey{}}
}

func (s *fakeAPIKeyStore) CreateAPIKey(_ context.Context, k *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	k.ID = s.nextID
	k.CreatedAt = time.Now().UTC()
	cp := *k
	s.keys[k.ID] = &cp
	return nil
}

func (s *fakeAPIKeyStore) ListAPIKeys(_ context.Context) ([]domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, *k)
	}
	return out, nil
}

func (s *fakeAPIKeyStore) GetAPIKeyByHash(_ context.Context, hash string) (*domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.KeyHash == hash && k.Active {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeAPIKeyStore) DeactivateAPIKey(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return fmt.Errorf("api key %d: %w", id, domain.ErrNotFound)
	}
	k.Active = false
	return nil
}

func (s *fakeAPIKeyStore) TouchAPIKey(_ context.Context, id int64) error { return nil }

type fakeEventStore struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *fakeEventStore) InsertEvent(_ context.Context, e *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.events) + 1)
	e.CreatedAt = time.Now().UTC()
	s.events = append([]domain.Event{*e}, s.events...)
	return nil
}

func (s *fakeEventStore) ListEvents(_ context.Context, eventType string, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if eventType != "" && e.EventType != eventType {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeEventStore) CountEventsByType(_ context.Context, since time.Time) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int64{}
	for _, e := range s.events {
		if e.CreatedAt.Before(since) {
			continue
		}
		counts[e.EventType]++
	}
	return counts, nil
}

type fakeSourceTester struct {
	preview *engine.SourcePreview
	err     error
}

func (f *fakeSourceTester) TestSource(_ context.Context, sourceType, url string) (*engine.SourcePreview, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.preview != nil {
		return f.preview, nil
	}
	return &engine.SourcePreview{Columns: []string{"id", "name"}, Rows: 2, Sample: [][]string{{"1", "a"}, {"2", "b"}}}, nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	submitted [][2]string
}

func (f *fakeDispatcher) Submit(pipelineID, runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, [2]string{pipelineID, runID})
}

type fakeQueryRunner struct {
	result  *queryengine.Result
	schemas []queryengine.PipelineSchema
	err     error

	mu        sync.Mutex
	lastLimit int
}

func (f *fakeQueryRunner) Execute(_ context.Context, pipelineIDs []string, sql string, limit int) (*queryengine.Result, error) {
	f.mu.Lock()
	f.lastLimit = limit
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &queryengine.Result{
		Rows:            []map[string]any{{"id": 1, "name": "a"}},
		Columns:         []string{"id", "name"},
		RowCount:        1,
		ExecutionTimeMS: 1.5,
		PipelinesUsed:   map[string]string{},
		QueryExecuted:   sql,
	}, nil
}

func (f *fakeQueryRunner) ListPipelineSchemas(_ context.Context, pipelineIDs []string) ([]queryengine.PipelineSchema, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.schemas, nil
}

type fakeSemanticRunner struct {
	result *semantic.Result
	err    error
}

func (f *fakeSemanticRunner) Execute(_ context.Context, req semantic.Request) (*semantic.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &semantic.Result{GeneratedSQL: "SELECT 1"}, nil
}

type fakeProposalManager struct {
	mu        sync.Mutex
	proposals []domain.Proposal
	err       error
	reviewed  map[string]string // proposalID -> action
}

func (f *fakeProposalManager) ProposeForPipeline(_ context.Context, pipelineID string, includeRelationships, includeMetrics bool) ([]domain.Proposal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.proposals, nil
}

func (f *fakeProposalManager) review(id, action, reviewedBy, notes string) (*domain.Proposal, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reviewed == nil {
		f.reviewed = map[string]string{}
	}
	f.reviewed[id] = action
	status := domain.ProposalApproved
	if action == "reject" {
		status = domain.ProposalRejected
	}
	now := time.Now().UTC()
	return &domain.Proposal{ID: id, Status: status, ReviewedBy: reviewedBy, ReviewNotes: notes, ReviewedAt: &now}, nil
}

func (f *fakeProposalManager) Approve(_ context.Context, proposalID, reviewedBy, notes string) (*domain.Proposal, error) {
	return f.review(proposalID, "approve", reviewedBy, notes)
}

func (f *fakeProposalManager) Reject(_ context.Context, proposalID, reviewedBy, notes string) (*domain.Proposal, error) {
	return f.review(proposalID, "reject", reviewedBy, notes)
}

type fakeSearcher struct {
	matches     []search.Match
	suggestions []search.JoinSuggestion
	err         error
}

func (f *fakeSearcher) Search(_ context.Context, query string, topK int) ([]search.Match, error) {
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.matches) {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

func (f *fakeSearcher) JoinSuggestions(_ context.Context, leftID, rightID string) ([]search.JoinSuggestion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.suggestions, nil
}

type fakeTransformRunner struct {
	table *tabular.Table
	err   error
}

func (f *fakeTransformRunner) Execute(_ context.Context, cfg *domain.TransformConfig) (*tabular.Table, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.table != nil {
		return f.table, nil
	}
	return tabular.FromRows([]map[string]any{{"id": 1}}, "id"), nil
}

type fakeArtifactWriter struct {
	uri string
	err error
}

func (f *fakeArtifactWriter) WriteTable(_ context.Context, t *tabular.Table, dest domain.DestinationConfig, opts domain.PipelineOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.uri != "" {
		return f.uri, nil
	}
	return "local:///data/out.parquet", nil
}

type fakeConnectionTester struct {
	result connector.TestResult
	err    error

	mu     sync.Mutex
	tested []string
}

func (f *fakeConnectionTester) TestConnection(_ context.Context, sourceType string, creds map[string]string) (connector.TestResult, error) {
	f.mu.Lock()
	f.tested = append(f.tested, sourceType)
	f.mu.Unlock()
	if f.err != nil {
		return connector.TestResult{}, f.err
	}
	if f.result.Status != "" {
		return f.result, nil
	}
	return connector.TestResult{Status: "success", Message: "ok"}, nil
}

// fakeBox is a reversible stand-in for the real sealed box.
type fakeBox struct{}

func (fakeBox) EncryptJSON(creds map[string]string) (string, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}
	return "enc:" + string(raw), nil
}

func (fakeBox) DecryptJSON(ciphertext string) (map[string]string, error) {
	if len(ciphertext) < 4 || ciphertext[:4] != "enc:" {
		return nil, fmt.Errorf("bad ciphertext: %w", domain.ErrDecryptFailed)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(ciphertext[4:]), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// testDeps bundles the fakes behind a server so tests can reach into them.
type testDeps struct {
	pipelines   *fakePipelineStore
	runs        *fakeRunStore
	connections *fakeConnectionStore
	metadata    *fakeMetadataStore
	knowledge   *fakeKnowledgeStore
	entities    *fakeEntityStore
	rels        *fakeRelationshipStore
	metrics     *fakeMetricStore
	dims        *fakeDimensionStore
	snapshots   *fakeSnapshotStore
	proposals   *fakeProposalStore
	keys        *fakeAPIKeyStore
	events      *fakeEventStore

	engine    *fakeSourceTester
	dispatch  *fakeDispatcher
	query     *fakeQueryRunner
	semantic  *fakeSemanticRunner
	ontology  *fakeProposalManager
	search    *fakeSearcher
	transform *fakeTransformRunner
	writer    *fakeArtifactWriter
	tester    *fakeConnectionTester
}

// newTestDeps wires a Server over fresh fakes with role gating disabled.
func newTestDeps() (*api.Server, *testDeps) {
	d := &testDeps{
		pipelines:   newFakePipelineStore(),
		runs:        newFakeRunStore(),
		connections: newFakeConnectionStore(),
		metadata:    newFakeMetadataStore(),
		knowledge:   newFakeKnowledgeStore(),
		entities:    newFakeEntityStore(),
		rels:        newFakeRelationshipStore(),
		metrics:     newFakeMetricStore(),
		dims:        newFakeDimensionStore(),
		snapshots:   &fakeSnapshotStore{},
		proposals:   newFakeProposalStore(),
		keys:        newFakeAPIKeyStore(),
		events:      &fakeEventStore{},
		engine:      &fakeSourceTester{},
		dispatch:    &fakeDispatcher{},
		query:       &fakeQueryRunner{},
		semantic:    &fakeSemanticRunner{},
		ontology:    &fakeProposalManager{},
		search:      &fakeSearcher{},
		transform:   &fakeTransformRunner{},
		writer:      &fakeArtifactWriter{},
		tester:      &fakeConnectionTester{},
	}
	srv := &api.Server{
		Pipelines:     d.pipelines,
		Runs:          d.runs,
		Connections:   d.connections,
		Metadata:      d.metadata,
		Knowledge:     d.knowledge,
		Entities:      d.entities,
		Relationships: d.rels,
		Metrics:       d.metrics,
		Dimensions:    d.dims,
		Snapshots:     d.snapshots,
		Proposals:     d.proposals,
		Keys:          d.keys,
		Events:        d.events,
		Engine:        d.engine,
		Dispatch:      d.dispatch,
		Query:         d.query,
		Semantic:      d.semantic,
		Ontology:      d.ontology,
		Search:        d.search,
		Transform:     d.transform,
		Writer:        d.writer,
		Registry:      d.tester,
		Box:           fakeBox{},
		Version:       "test",
		StorageMode:   "local",
	}
	return srv, d
}

// newTestServer returns a fully wired server for router-level tests that
// don't need to reach into the fakes.
func newTestServer() *api.Server {
	srv, _ := newTestDeps()
	return srv
}

// newRawRequest builds a request without decoding the response, for
// endpoints that stream non-JSON bodies.
func newRawRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serveRaw(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
