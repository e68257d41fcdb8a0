package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

type ChunkFusionRetriever struct {
	sources    []ChunkSource
	documents  ports.DocumentStore
	decomposer ports.QueryDecomposer
	opts       FusionOptions
}

func NewChunkFusionRetriever(sources []ChunkSource, documents ports.DocumentStore, decomposer ports.QueryDecomposer, opts FusionOptions) *ChunkFusionRetriever {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	return &ChunkFusionRetriever{sources: sources, documents: documents, decomposer: decomposer, opts: opts}
}

func (f *ChunkFusionRetriever) Retrieve(ctx context.Context, query string, scope RetrievalScope) *FusionStream[[]domain.Chunk] {
	return startFusion(ctx, func(ctx context.Context, emit emitFunc) ([]domain.Chunk, error) {
		if len(f.sources) == 0 {
			emit(domain.Progress{State: domain.FusionDone, MessageState: domain.StateSearchRelatedDocuments, Message: "No suitable knowledge sources found"})
			return nil, nil
		}

		var decompose decomposeFunc
		if f.opts.UseQueryDecompose && f.decomposer != nil {
			decompose = f.decomposer.Decompose
		}
		queries := subQueries(ctx, decompose, query)
		expr := scope.Filter()

		emit(domain.Progress{State: domain.FusionPreparing, MessageState: domain.StateSearchRelatedDocuments, Message: "Preparing to execute document retrieval"})
		emit(domain.Progress{
			State:        domain.FusionDispatched,
			MessageState: domain.StateSearchRelatedDocuments,
			Message:      fmt.Sprintf("Executing %d document retrievals in parallel", len(queries)*len(f.sources)),
		})

		lists, err := fanOut(ctx, queries, len(f.sources), f.opts.MaxConcurrency, func(ctx context.Context, q string, si int) ([]domain.Chunk, error) {
			return f.sources[si].Retrieve(ctx, q, expr)
		})
		if err != nil {
			emit(domain.Progress{State: domain.FusionFailed, MessageState: domain.StateSearchRelatedDocuments, Message: "Document retrieval failed"})
			return nil, domain.WrapError(domain.ErrRetrievalFailed, "chunk_fusion", err)
		}

		found := 0
		for _, l := range lists {
			found += len(l)
		}
		emit(domain.Progress{
			State:        domain.FusionFusing,
			MessageState: domain.StateSearchRelatedDocuments,
			Message:      fmt.Sprintf("Retrieval completed and found %d chunks", found),
		})

		fused := FuseChunks(lists)
		emit(domain.Progress{
			State:        domain.FusionDone,
			MessageState: domain.StateSearchRelatedDocuments,
			Message:      fmt.Sprintf("Result fusion completed and found %d chunks", len(fused)),
		})
		return fused, nil
	})
}

// RetrieveChunks runs the fusion and resolves the documents behind the chunks,
// ordered by first appearance. Without fullDocument only descriptors are kept.
func (f *ChunkFusionRetriever) RetrieveChunks(ctx context.Context, query string, scope RetrievalScope, fullDocument bool) (domain.ChunkResult, error) {
	chunks, err := f.Retrieve(ctx, query, scope).Wait()
	if err != nil {
		return domain.ChunkResult{}, err
	}
	docs, err := f.documentsFor(ctx, chunks)
	if err != nil {
		return domain.ChunkResult{}, err
	}
	if !fullDocument {
		for i := range docs {
			docs[i] = domain.Document{ID: docs[i].ID, Name: docs[i].Name, SourceURI: docs[i].SourceURI}
		}
	}
	return domain.ChunkResult{Chunks: chunks, Documents: docs}, nil
}

func (f *ChunkFusionRetriever) documentsFor(ctx context.Context, chunks []domain.Chunk) ([]domain.Document, error) {
	ids := make([]int64, 0, len(chunks))
	seen := make(map[int64]struct{}, len(chunks))
	for _, c := range chunks {
		if c.DocumentID == 0 {
			continue
		}
		if _, ok := seen[c.DocumentID]; ok {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		ids = append(ids, c.DocumentID)
	}
	if len(ids) == 0 || f.documents == nil {
		return []domain.Document{}, nil
	}

	docs, err := f.documents.FetchDocumentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}
	rank := make(map[int64]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}
	sort.SliceStable(docs, func(i, j int) bool { return rank[docs[i].ID] < rank[docs[j].ID] })
	return docs, nil
}

// FuseChunks deduplicates by content hash keeping the highest score and sorts
// by descending score. Ties keep encounter order.
func FuseChunks(lists [][]domain.Chunk) []domain.Chunk {
	index := make(map[string]int)
	out := make([]domain.Chunk, 0)
	for _, list := range lists {
		for _, chunk := range list {
			key := chunk.Hash
			if key == "" {
				key = domain.ChunkHash(chunk.Text)
			}
			if pos, ok := index[key]; ok {
				if chunk.Score > out[pos].Score {
					out[pos].Score = chunk.Score
				}
				continue
			}
			index[key] = len(out)
			out = append(out, chunk)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
