package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/authority"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

func TestChunkRetrieverFiltersInMemoryAndPassesFilterDown(t *testing.T) {
	index := &fakeChunkIndex{chunks: []domain.Chunk{
		{ID: "1", Text: "opportunity notes", Score: 0.9, Metadata: crmMeta(domain.CrmOpportunity, "o-1")},
		{ID: "2", Text: "stage definition", Score: 0.8, Metadata: crmMeta(domain.CrmStage, "st-1")},
		{ID: "3", Text: "product sheet", Score: 0.4, Metadata: map[string]any{domain.MetaDomainType: "document"}},
		{ID: "4", Text: "weak match", Score: 0.1, Metadata: map[string]any{domain.MetaDomainType: "document"}},
	}}
	r := NewChunkRetriever(domain.KnowledgeBase{ID: 3}, index, &fakeEmbedder{}, ChunkRetrieverOptions{TopK: 5, SimilarityThreshold: 0.2})

	expr := RetrievalScope{Authority: authority.Empty()}.Filter()
	got, err := r.Retrieve(context.Background(), "q", expr)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "3" {
		t.Fatalf("unexpected chunks: %+v", got)
	}
	for _, c := range got {
		if c.Hash == "" || c.KnowledgeBaseID != 3 {
			t.Fatalf("expected hash and knowledge base id, got %+v", c)
		}
	}
	if len(index.reqs) != 1 || index.reqs[0].Filter != expr || index.reqs[0].KnowledgeBaseID != 3 {
		t.Fatalf("expected filter pushed to index, got %+v", index.reqs)
	}
}

func TestChunkRetrieverKeepsTopK(t *testing.T) {
	index := &fakeChunkIndex{chunks: []domain.Chunk{
		{ID: "a", Text: "a", Score: 0.5},
		{ID: "b", Text: "b", Score: 0.7},
		{ID: "c", Text: "c", Score: 0.6},
	}}
	r := NewChunkRetriever(domain.KnowledgeBase{ID: 1}, index, &fakeEmbedder{}, ChunkRetrieverOptions{TopK: 2})

	got, err := r.Retrieve(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected top chunks: %+v", got)
	}
}

func TestChunkRetrieverAllowlistMatchesChunkDocumentID(t *testing.T) {
	index := &fakeChunkIndex{chunks: []domain.Chunk{
		{ID: "allowed", DocumentID: 3, Text: "pricing", Score: 0.9, Metadata: map[string]any{domain.MetaDomainType: "document"}},
		{ID: "other", DocumentID: 4, Text: "contract", Score: 0.8, Metadata: map[string]any{domain.MetaDomainType: "document"}},
		{ID: "crm", Text: "account notes", Score: 0.7, Metadata: crmMeta(domain.CrmAccount, "a-1")},
	}}
	r := NewChunkRetriever(domain.KnowledgeBase{ID: 1}, index, &fakeEmbedder{}, ChunkRetrieverOptions{TopK: 5})

	expr := RetrievalScope{Authority: authority.Bypass(), Allowlist: []int64{3}}.Filter()
	got, err := r.Retrieve(context.Background(), "q", expr)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 2 || got[0].ID != "allowed" || got[1].ID != "crm" {
		t.Fatalf("unexpected chunks: %+v", got)
	}
	if _, ok := got[0].Metadata[domain.MetaDocumentID]; ok {
		t.Fatalf("chunk metadata must not be rewritten, got %v", got[0].Metadata)
	}
}
