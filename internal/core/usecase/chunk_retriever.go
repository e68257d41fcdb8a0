package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/filter"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

// ChunkSource retrieves scored chunks from one knowledge base.
type ChunkSource interface {
	KnowledgeBase() domain.KnowledgeBase
	Retrieve(ctx context.Context, query string, expr *filter.Expr) ([]domain.Chunk, error)
}

type ChunkRetrieverOptions struct {
	TopK                int
	CandidateLimit      int
	SimilarityThreshold float64
}

type ChunkRetriever struct {
	kb       domain.KnowledgeBase
	index    ports.ChunkIndex
	embedder ports.Embedder
	opts     ChunkRetrieverOptions
}

func NewChunkRetriever(kb domain.KnowledgeBase, index ports.ChunkIndex, embedder ports.Embedder, opts ChunkRetrieverOptions) *ChunkRetriever {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.CandidateLimit < opts.TopK {
		opts.CandidateLimit = opts.TopK * 2
	}
	return &ChunkRetriever{kb: kb, index: index, embedder: embedder, opts: opts}
}

func (r *ChunkRetriever) KnowledgeBase() domain.KnowledgeBase {
	return r.kb
}

func (r *ChunkRetriever) Retrieve(ctx context.Context, query string, expr *filter.Expr) ([]domain.Chunk, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed chunk query: %w", err)
	}

	found, err := r.index.SearchChunks(ctx, ports.ChunkSearchRequest{
		KnowledgeBaseID: r.kb.ID,
		Vector:          vector,
		Limit:           r.opts.CandidateLimit,
		Filter:          expr,
	})
	if err != nil {
		return nil, fmt.Errorf("search chunks in kb %d: %w", r.kb.ID, err)
	}

	out := make([]domain.Chunk, 0, len(found))
	for _, chunk := range found {
		if chunk.Score < r.opts.SimilarityThreshold {
			continue
		}
		if !filter.Evaluate(expr, chunk.FilterMetadata()) {
			continue
		}
		if chunk.Hash == "" {
			chunk.Hash = domain.ChunkHash(chunk.Text)
		}
		chunk.KnowledgeBaseID = r.kb.ID
		out = append(out, chunk)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > r.opts.TopK {
		out = out[:r.opts.TopK]
	}
	return out, nil
}
