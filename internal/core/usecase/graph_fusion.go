package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

type FusionOptions struct {
	UseQueryDecompose bool
	MaxConcurrency    int
}

// GraphFusionRetriever fans a query out to every graph source and merges the
// subgraphs. It holds no per-turn state.
type GraphFusionRetriever struct {
	sources    []GraphSource
	decomposer ports.QueryDecomposer
	opts       FusionOptions
}

func NewGraphFusionRetriever(sources []GraphSource, decomposer ports.QueryDecomposer, opts FusionOptions) *GraphFusionRetriever {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	return &GraphFusionRetriever{sources: sources, decomposer: decomposer, opts: opts}
}

func (f *GraphFusionRetriever) UsesIntentSearch() bool {
	return f.opts.UseQueryDecompose && f.decomposer != nil
}

func (f *GraphFusionRetriever) KnowledgeBases() []domain.KnowledgeBase {
	out := make([]domain.KnowledgeBase, 0, len(f.sources))
	for _, s := range f.sources {
		out = append(out, s.KnowledgeBase())
	}
	return out
}

func (f *GraphFusionRetriever) Retrieve(ctx context.Context, query string, scope RetrievalScope) *FusionStream[domain.GraphResult] {
	return startFusion(ctx, func(ctx context.Context, emit emitFunc) (domain.GraphResult, error) {
		if len(f.sources) == 0 {
			emit(domain.Progress{State: domain.FusionDone, MessageState: domain.StateKGRetrieval, Message: "No suitable knowledge sources found"})
			return domain.GraphResult{Query: query}, nil
		}

		var decompose decomposeFunc
		if f.UsesIntentSearch() {
			decompose = f.decomposer.Decompose
		}
		queries := subQueries(ctx, decompose, query)
		expr := scope.Filter()

		emit(domain.Progress{State: domain.FusionPreparing, MessageState: domain.StateKGRetrieval, Message: "Preparing to execute knowledge graph retrieval"})
		tasks := len(queries) * len(f.sources)
		emit(domain.Progress{
			State:        domain.FusionDispatched,
			MessageState: domain.StateKGQueryExecution,
			Message:      fmt.Sprintf("Executing %d knowledge graph retrievals in parallel", tasks),
		})

		children, err := fanOut(ctx, queries, len(f.sources), f.opts.MaxConcurrency, func(ctx context.Context, q string, si int) (domain.GraphResult, error) {
			return f.sources[si].Retrieve(ctx, q, expr)
		})
		if err != nil {
			emit(domain.Progress{State: domain.FusionFailed, MessageState: domain.StateKGQueryExecution, Message: "Knowledge graph retrieval failed"})
			return domain.GraphResult{Query: query}, domain.WrapError(domain.ErrRetrievalFailed, "graph_fusion", err)
		}

		found := 0
		for _, child := range children {
			found += len(child.Entities)
		}
		emit(domain.Progress{
			State:        domain.FusionFusing,
			MessageState: domain.StateKGQueryExecution,
			Message:      fmt.Sprintf("Retrieval completed and found %d related nodes", found),
		})

		fused := FuseGraphResults(query, children)
		emit(domain.Progress{
			State:        domain.FusionDone,
			MessageState: domain.StateKGQueryExecution,
			Message:      fmt.Sprintf("Result fusion completed and found %d related nodes", len(fused.Entities)),
		})
		return fused, nil
	})
}

// FuseGraphResults unions entities, merges relationships by normalized
// description summing their weights, unions knowledge base ids and keeps every
// child for traceability. Output order depends only on the input order.
func FuseGraphResults(query string, children []domain.GraphResult) domain.GraphResult {
	entities := newEntitySet()
	relIndex := make(map[string]int)
	relationships := make([]domain.Relationship, 0)
	kbSeen := make(map[int64]struct{})
	kbIDs := make([]int64, 0)

	for _, child := range children {
		for _, id := range child.KnowledgeBaseIDs {
			if _, ok := kbSeen[id]; !ok {
				kbSeen[id] = struct{}{}
				kbIDs = append(kbIDs, id)
			}
		}
		for _, e := range child.Entities {
			entities.add(e, 0)
		}
		for _, r := range child.Relationships {
			key := r.Key()
			if pos, ok := relIndex[key]; ok {
				relationships[pos].Weight += r.Weight
				if r.Score > relationships[pos].Score {
					relationships[pos].Score = r.Score
				}
				continue
			}
			relIndex[key] = len(relationships)
			relationships = append(relationships, r)
		}
	}

	sort.Slice(kbIDs, func(i, j int) bool { return kbIDs[i] < kbIDs[j] })
	ents := entities.list()
	sort.SliceStable(ents, func(i, j int) bool {
		if ents[i].Name != ents[j].Name {
			return ents[i].Name < ents[j].Name
		}
		return ents[i].Key() < ents[j].Key()
	})
	sortRelationships(relationships, func(a, b domain.Relationship) bool { return a.Weight > b.Weight })

	return domain.GraphResult{
		Query:            query,
		KnowledgeBaseIDs: kbIDs,
		Entities:         ents,
		Relationships:    relationships,
		Children:         children,
	}
}

func logDecomposeFailure(query string, err error) {
	slog.Warn("query_decompose_failed", "query", query, "error", err.Error())
}
