package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/filter"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/scoring"
)

// GraphSource retrieves a scored subgraph from one knowledge base.
type GraphSource interface {
	KnowledgeBase() domain.KnowledgeBase
	Retrieve(ctx context.Context, query string, expr *filter.Expr) (domain.GraphResult, error)
}

type GraphRetrieverOptions struct {
	TopK           int
	CandidateLimit int
	MaxDistance    float64
	Alpha          float64
	WeightTable    []scoring.WeightRange
	UseDegree      bool
	DegreeCoeff    float64
	RangeSearch    scoring.RangeSearchPolicy
	EntityTopK     int
}

type GraphRetriever struct {
	kb       domain.KnowledgeBase
	index    ports.GraphIndex
	embedder ports.Embedder
	opts     GraphRetrieverOptions
}

func NewGraphRetriever(kb domain.KnowledgeBase, index ports.GraphIndex, embedder ports.Embedder, opts GraphRetrieverOptions) *GraphRetriever {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = opts.TopK * 5
	}
	if opts.MaxDistance <= 0 {
		opts.MaxDistance = 0.55
	}
	if opts.Alpha <= 0 {
		opts.Alpha = scoring.DefaultAlpha
	}
	if opts.WeightTable == nil {
		opts.WeightTable = scoring.DefaultWeightTable
	}
	if opts.DegreeCoeff == 0 {
		opts.DegreeCoeff = scoring.DefaultDegreeCoeff
	}
	if opts.RangeSearch == nil {
		opts.RangeSearch = scoring.DefaultRangeSearch
	}
	if opts.EntityTopK < 0 {
		opts.EntityTopK = 0
	}
	return &GraphRetriever{kb: kb, index: index, embedder: embedder, opts: opts}
}

func (r *GraphRetriever) KnowledgeBase() domain.KnowledgeBase {
	return r.kb
}

// minDistance keeps the 1/distance term finite for exact matches.
const minDistance = 1e-6

func (r *GraphRetriever) Retrieve(ctx context.Context, query string, expr *filter.Expr) (domain.GraphResult, error) {
	result := domain.GraphResult{Query: query, KnowledgeBaseIDs: []int64{r.kb.ID}}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return result, fmt.Errorf("embed graph query: %w", err)
	}
	req := ports.GraphSearchRequest{
		KnowledgeBaseID: r.kb.ID,
		Vector:          vector,
		Limit:           r.opts.CandidateLimit,
		MaxDistance:     r.opts.MaxDistance,
	}

	candidates, err := r.index.SearchRelationships(ctx, req)
	if err != nil {
		return result, fmt.Errorf("search relationships in kb %d: %w", r.kb.ID, err)
	}
	candidates = scoring.Select(r.opts.RangeSearch, candidates, func(c ports.RelationshipCandidate) float64 {
		return c.Distance
	})

	kept := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if err := validateCandidate(c); err != nil {
			slog.Warn("graph_candidate_dropped", "knowledge_base_id", r.kb.ID, "relationship_id", c.Relationship.ID, "error", err.Error())
			continue
		}
		if !filter.Evaluate(expr, c.Relationship.Metadata) ||
			!filter.Evaluate(expr, c.Source.Metadata) ||
			!filter.Evaluate(expr, c.Target.Metadata) {
			continue
		}

		rel := c.Relationship
		rel.KnowledgeBaseID = r.kb.ID
		rel.Score = scoring.Score(scoring.Params{
			Distance:    maxFloat(c.Distance, minDistance),
			Weight:      rel.Weight,
			InDegree:    c.InDegree,
			OutDegree:   c.OutDegree,
			Alpha:       r.opts.Alpha,
			WeightTable: r.opts.WeightTable,
			DegreeCoeff: r.opts.DegreeCoeff,
			UseDegree:   r.opts.UseDegree,
		})
		kept = append(kept, scoredCandidate{rel: rel, source: c.Source, target: c.Target})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].rel.Score != kept[j].rel.Score {
			return kept[i].rel.Score > kept[j].rel.Score
		}
		return kept[i].rel.Key() < kept[j].rel.Key()
	})
	if len(kept) > r.opts.TopK {
		kept = kept[:r.opts.TopK]
	}

	entities := newEntitySet()
	relationships := make([]domain.Relationship, 0, len(kept))
	for _, k := range kept {
		relationships = append(relationships, k.rel)
		entities.add(k.source, r.kb.ID)
		entities.add(k.target, r.kb.ID)
	}

	if r.opts.EntityTopK > 0 {
		req.Limit = r.opts.EntityTopK
		hits, err := r.index.SearchEntities(ctx, req)
		if err != nil {
			return result, fmt.Errorf("search entities in kb %d: %w", r.kb.ID, err)
		}
		for _, hit := range hits {
			if strings.TrimSpace(hit.Entity.Name) == "" {
				slog.Warn("graph_entity_dropped", "knowledge_base_id", r.kb.ID, "entity_id", hit.Entity.ID, "error", "missing name")
				continue
			}
			if filter.Evaluate(expr, hit.Entity.Metadata) {
				entities.add(hit.Entity, r.kb.ID)
			}
		}
	}

	result.Entities = entities.list()
	result.Relationships = relationships
	return result, nil
}

// scoredCandidate keeps a relationship with the endpoints it was filtered on.
type scoredCandidate struct {
	rel    domain.Relationship
	source domain.Entity
	target domain.Entity
}

func validateCandidate(c ports.RelationshipCandidate) error {
	switch {
	case strings.TrimSpace(c.Relationship.Description) == "":
		return fmt.Errorf("relationship without description")
	case strings.TrimSpace(c.Relationship.SourceEntity) == "" || strings.TrimSpace(c.Relationship.TargetEntity) == "":
		return fmt.Errorf("relationship without endpoints")
	case c.Relationship.Weight < 0:
		return fmt.Errorf("negative weight %v", c.Relationship.Weight)
	case c.Source.Name != c.Relationship.SourceEntity || c.Target.Name != c.Relationship.TargetEntity:
		return fmt.Errorf("endpoint entities do not match relationship")
	}
	return nil
}

// entitySet deduplicates by Entity.Key and keeps first-seen order.
type entitySet struct {
	index map[string]int
	items []domain.Entity
}

func newEntitySet() *entitySet {
	return &entitySet{index: make(map[string]int)}
}

func (s *entitySet) add(e domain.Entity, kbID int64) {
	if e.Name == "" {
		return
	}
	if e.KnowledgeBaseID == 0 {
		e.KnowledgeBaseID = kbID
	}
	key := e.Key()
	if _, ok := s.index[key]; ok {
		return
	}
	s.index[key] = len(s.items)
	s.items = append(s.items, e)
}

func (s *entitySet) list() []domain.Entity {
	return s.items
}

// sortRelationships orders by less, then by key for determinism.
func sortRelationships(rels []domain.Relationship, less func(a, b domain.Relationship) bool) {
	sort.SliceStable(rels, func(i, j int) bool {
		if less(rels[i], rels[j]) {
			return true
		}
		if less(rels[j], rels[i]) {
			return false
		}
		return rels[i].Key() < rels[j].Key()
	})
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
