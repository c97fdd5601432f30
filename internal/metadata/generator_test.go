package metadata

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/tabular"
)

type fakeKnowledge struct {
	entries []domain.ColumnKnowledge
}

func (f *fakeKnowledge) ListColumnKnowledge(context.Context) ([]domain.ColumnKnowledge, error) {
	return f.entries, nil
}

type fakeLLM struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string, _ int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func sampleTable() *tabular.Table {
	return tabular.FromRows([]map[string]any{
		{"customer_id": int64(1), "email": "a@x.com", "amount": 10.5, "signup_date": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "notes": "first"},
		{"customer_id": int64(2), "email": "b@x.com", "amount": 20.0, "signup_date": time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "notes": nil},
		{"customer_id": int64(3), "email": nil, "amount": 4.5, "signup_date": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "notes": "third"},
	}, "customer_id", "email", "amount", "signup_date", "notes")
}

func TestGenerateProfilesColumns(t *testing.T) {
	g := NewGenerator(&fakeKnowledge{}, nil, testLogger())
	md, err := g.Generate(context.Background(), sampleTable(), "pipe-1", "Customers")
	require.NoError(t, err)

	assert.Equal(t, "pipe-1", md.PipelineID)
	assert.Equal(t, int64(3), md.RowCount)
	assert.Equal(t, 3, md.SampledRows)
	require.Len(t, md.Columns, 5)

	byName := map[string]domain.ColumnProfile{}
	for _, c := range md.Columns {
		byName[c.Name] = c
	}

	id := byName["customer_id"]
	assert.Equal(t, "int64", id.Type)
	assert.Equal(t, "identifier", id.SemanticType)
	assert.Equal(t, "Unique identifier - Customer Id", id.AutoDescription)
	assert.True(t, id.NeedsReview)

	email := byName["email"]
	assert.Equal(t, "email", email.SemanticType)
	assert.InDelta(t, 33.33, email.NullPercentage, 0.001)
	assert.Equal(t, int64(2), email.UniqueValues)

	amount := byName["amount"]
	assert.Equal(t, "currency", amount.SemanticType)
	require.NotNil(t, amount.Min)
	require.NotNil(t, amount.Max)
	require.NotNil(t, amount.Mean)
	assert.Equal(t, 4.5, *amount.Min)
	assert.Equal(t, 20.0, *amount.Max)
	assert.InDelta(t, 11.666, *amount.Mean, 0.001)

	assert.Equal(t, "datetime", byName["signup_date"].SemanticType)
	assert.Equal(t, "text", byName["notes"].SemanticType)
}

func TestGenerateAppliesVerifiedKnowledge(t *testing.T) {
	g := NewGenerator(&fakeKnowledge{entries: []domain.ColumnKnowledge{
		{Key: "customer_id", Description: "Primary customer key", BusinessMeaning: "One row per customer"},
	}}, nil, testLogger())

	md, err := g.Generate(context.Background(), sampleTable(), "pipe-1", "Customers")
	require.NoError(t, err)

	for _, c := range md.Columns {
		if c.Name == "customer_id" {
			assert.Equal(t, "Primary customer key", c.Description)
			assert.True(t, c.HumanVerified)
			assert.False(t, c.NeedsReview)
		} else {
			assert.True(t, c.NeedsReview)
			assert.False(t, c.HumanVerified)
		}
	}
}

func TestEnhanceAppliesAIDescriptions(t *testing.T) {
	client := &fakeLLM{response: `{"notes": {"description": "Free-form note", "business_meaning": "Agent comments"}}`}
	g := NewGenerator(&fakeKnowledge{}, client, testLogger())

	md, err := g.Generate(context.Background(), sampleTable(), "pipe-1", "Customers")
	require.NoError(t, err)
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "Customers")

	assert.True(t, md.AIEnhanced)
	for _, c := range md.Columns {
		if c.Name == "notes" {
			assert.Equal(t, "Free-form note", c.Description)
			assert.Equal(t, "Agent comments", c.BusinessMeaning)
			assert.True(t, c.NeedsReview, "ai text does not substitute for review")
		}
	}
}

func TestEnhanceFailureKeepsHeuristics(t *testing.T) {
	client := &fakeLLM{response: "I refuse to answer with JSON."}
	g := NewGenerator(&fakeKnowledge{}, client, testLogger())

	md, err := g.Generate(context.Background(), sampleTable(), "pipe-1", "Customers")
	require.NoError(t, err)
	assert.False(t, md.AIEnhanced)
	for _, c := range md.Columns {
		assert.Empty(t, c.Description)
		assert.NotEmpty(t, c.AutoDescription)
	}
}

func TestSampleRowsCapped(t *testing.T) {
	rows := make([]map[string]any, 2500)
	for i := range rows {
		rows[i] = map[string]any{"n": int64(i)}
	}
	table := tabular.FromRows(rows, "n")

	g := NewGenerator(&fakeKnowledge{}, nil, testLogger())
	md, err := g.Generate(context.Background(), table, "pipe-1", "Numbers")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), md.RowCount)
	assert.Equal(t, 1000, md.SampledRows)
}
