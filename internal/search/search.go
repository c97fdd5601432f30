// Package search implements keyword dataset discovery and join-key
// suggestions for agents exploring the catalog.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/camdencbrown/relay/internal/domain"
)

// DefaultTopK caps search results.
const DefaultTopK = 5

// PipelineSource lists the catalog being searched.
type PipelineSource interface {
	ListPipelines(ctx context.Context) ([]domain.Pipeline, error)
}

// MetadataSource supplies column profiles for scoring and join matching.
type MetadataSource interface {
	GetDatasetMetadata(ctx context.Context, pipelineID string) (*domain.DatasetMetadata, error)
}

// Searcher scores pipelines against keyword queries.
type Searcher struct {
	pipelines PipelineSource
	metadata  MetadataSource
	logger    *slog.Logger
}

// New wires a Searcher.
func New(pipelines PipelineSource, metadata MetadataSource, logger *slog.Logger) *Searcher {
	return &Searcher{
		pipelines: pipelines,
		metadata:  metadata,
		logger:    logger.With("component", "search"),
	}
}

// Match is one scored dataset.
type Match struct {
	PipelineID string    `json:"pipeline_id"`
	Name       string    `json:"name"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	SourceType string    `json:"source_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// JoinSuggestion is one candidate join key pair between two datasets.
type JoinSuggestion struct {
	LeftColumn  string  `json:"left_column"`
	RightColumn string  `json:"right_column"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

var wordPattern = regexp.MustCompile(`\w+`)

func words(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(s), -1) {
		out[w] = true
	}
	return out
}

// Search returns the topK pipelines scoring above zero, best first.
// topK <= 0 means DefaultTopK.
func (s *Searcher) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	pipelines, err := s.pipelines.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}

	queryWords := words(query)
	matches := []Match{}
	for _, p := range pipelines {
		score, reason := s.scorePipeline(ctx, p, queryWords)
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{
			PipelineID: p.ID,
			Name:       p.Name,
			Confidence: score,
			Reason:     reason,
			SourceType: p.Source.Type,
			CreatedAt:  p.CreatedAt,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// scorePipeline weighs name words at 0.5, source url/query words at 0.3,
// and column-name hits at 0.1 each, capped at 1.0.
func (s *Searcher) scorePipeline(ctx context.Context, p domain.Pipeline, queryWords map[string]bool) (float64, string) {
	score := 0.0
	var matched []string

	for w := range words(p.Name) {
		if queryWords[w] {
			score += 0.5
			matched = append(matched, w)
		}
	}

	sourceText := p.Source.URL
	if sourceText == "" {
		sourceText = p.Source.Query
	}
	for w := range words(sourceText) {
		if queryWords[w] {
			score += 0.3
			matched = append(matched, w)
		}
	}

	md, err := s.metadata.GetDatasetMetadata(ctx, p.ID)
	if err != nil {
		s.logger.Warn("metadata lookup failed during search", "pipeline_id", p.ID, "error", err)
	}
	if md != nil {
		for _, col := range md.Columns {
			colName := strings.ToLower(col.Name)
			for w := range queryWords {
				if strings.Contains(colName, w) {
					score += 0.1
					matched = append(matched, col.Name)
					break
				}
			}
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	if len(matched) == 0 {
		return score, "Low relevance"
	}
	sort.Strings(matched)
	return score, "Matched keywords: " + strings.Join(dedupe(matched), ", ")
}

// JoinSuggestions compares column names across two datasets and proposes
// join keys. Missing metadata on either side yields no suggestions.
func (s *Searcher) JoinSuggestions(ctx context.Context, leftID, rightID string) ([]JoinSuggestion, error) {
	left, err := s.metadata.GetDatasetMetadata(ctx, leftID)
	if err != nil {
		return nil, err
	}
	right, err := s.metadata.GetDatasetMetadata(ctx, rightID)
	if err != nil {
		return nil, err
	}
	if left == nil || right == nil {
		return []JoinSuggestion{}, nil
	}

	suggestions := []JoinSuggestion{}
	for _, l := range left.Columns {
		for _, r := range right.Columns {
			leftName := strings.ToLower(l.Name)
			rightName := strings.ToLower(r.Name)

			confidence := 0.0
			var reasons []string
			switch {
			case leftName == rightName:
				confidence = 0.95
				reasons = append(reasons, "Exact name match")
			case namesSimilar(leftName, rightName):
				confidence = 0.75
				reasons = append(reasons, fmt.Sprintf("Name similarity: %s <-> %s", leftName, rightName))
			}
			if l.SemanticType == "identifier" && r.SemanticType == "identifier" {
				confidence += 0.1
				reasons = append(reasons, "Both are identifiers")
			}
			if confidence <= 0.5 {
				continue
			}
			if confidence > 1.0 {
				confidence = 1.0
			}
			suggestions = append(suggestions, JoinSuggestion{
				LeftColumn:  l.Name,
				RightColumn: r.Name,
				Confidence:  confidence,
				Reason:      strings.Join(reasons, "; "),
			})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	return suggestions, nil
}

var separatorPattern = regexp.MustCompile(`[_\-\s]`)

// namesSimilar matches "id"-style variants: one name containing the other
// after separator stripping, or both carrying an id marker.
func namesSimilar(a, b string) bool {
	cleanA := separatorPattern.ReplaceAllString(a, "")
	cleanB := separatorPattern.ReplaceAllString(b, "")
	if cleanA == "" || cleanB == "" {
		return false
	}
	if strings.Contains(cleanA, cleanB) || strings.Contains(cleanB, cleanA) {
		return true
	}
	return strings.HasSuffix(a, "id") && strings.HasSuffix(b, "id")
}

func dedupe(in []string) []string {
	out := in[:0]
	seen := map[string]bool{}
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
