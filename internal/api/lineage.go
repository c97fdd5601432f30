package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/semantic"
)

// metricLineage is a metric plus the entity columns its expression reads.
type metricLineage struct {
	domain.Metric
	ColumnReferences []string `json:"column_references"`
}

// dimensionLineage is a dimension plus the entity columns it reads.
type dimensionLineage struct {
	domain.Dimension
	ColumnReferences []string `json:"column_references"`
}

// HandleLineage computes the lineage view for one entity: its source
// pipeline, the metrics and dimensions defined over it with their column
// references, and the entities connected through relationships.
// GET /api/v1/ontology/lineage/{name}
func (s *Server) HandleLineage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ent, err := s.Entities.GetEntityByName(r.Context(), name)
	if err != nil {
		internalError(w, "lookup entity failed", err)
		return
	}
	if ent == nil {
		errorJSON(w, fmt.Sprintf("Entity %q not found", name), "NOT_FOUND", http.StatusNotFound)
		return
	}

	resp := map[string]any{"entity": ent}

	pipeline, err := s.Pipelines.GetPipeline(r.Context(), ent.PipelineID)
	if err != nil {
		internalError(w, "get pipeline failed", err)
		return
	}
	if pipeline != nil {
		resp["pipeline"] = map[string]any{
			"id":     pipeline.ID,
			"name":   pipeline.Name,
			"type":   pipeline.Kind,
			"status": pipeline.Status,
		}
		resp["source"] = pipeline.Source
	}

	metrics, err := s.Metrics.ListMetrics(r.Context())
	if err != nil {
		internalError(w, "list metrics failed", err)
		return
	}
	entityMetrics := []metricLineage{}
	for _, m := range metrics {
		if m.EntityName != name {
			continue
		}
		entityMetrics = append(entityMetrics, metricLineage{
			Metric:           m,
			ColumnReferences: semantic.ExtractColumnReferences(m.Expression),
		})
	}
	resp["metrics"] = entityMetrics

	dims, err := s.Dimensions.ListDimensions(r.Context())
	if err != nil {
		internalError(w, "list dimensions failed", err)
		return
	}
	entityDims := []dimensionLineage{}
	for _, d := range dims {
		if d.EntityName != name {
			continue
		}
		entityDims = append(entityDims, dimensionLineage{
			Dimension:        d,
			ColumnReferences: semantic.ExtractColumnReferences(d.Expression),
		})
	}
	resp["dimensions"] = entityDims

	rels, err := s.Relationships.ListRelationships(r.Context())
	if err != nil {
		internalError(w, "list relationships failed", err)
		return
	}
	outgoing := []domain.Relationship{}
	incoming := []domain.Relationship{}
	downstream := []string{}
	upstream := []string{}
	seenDown := map[string]bool{}
	seenUp := map[string]bool{}
	for _, rel := range rels {
		if rel.FromEntity == name {
			outgoing = append(outgoing, rel)
			if !seenDown[rel.ToEntity] {
				seenDown[rel.ToEntity] = true
				downstream = append(downstream, rel.ToEntity)
			}
		}
		if rel.ToEntity == name {
			incoming = append(incoming, rel)
			if !seenUp[rel.FromEntity] {
				seenUp[rel.FromEntity] = true
				upstream = append(upstream, rel.FromEntity)
			}
		}
	}
	resp["relationships"] = map[string]any{
		"outgoing": outgoing,
		"incoming": incoming,
	}
	resp["downstream_entities"] = downstream
	resp["upstream_entities"] = upstream

	writeJSON(w, http.StatusOK, resp)
}
