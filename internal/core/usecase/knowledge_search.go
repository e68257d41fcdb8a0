package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/authority"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

// KnowledgeSearch runs authorized graph and chunk retrieval without answer
// synthesis. It serves tool and CLI callers.
type KnowledgeSearch struct {
	authorities ports.AuthorityProvider
	permissions ports.FilePermissionStore
	graph       *GraphFusionRetriever
	chunks      *ChunkFusionRetriever
	crmEnabled  bool
}

func NewKnowledgeSearch(authorities ports.AuthorityProvider, permissions ports.FilePermissionStore, graph *GraphFusionRetriever, chunks *ChunkFusionRetriever, crmEnabled bool) *KnowledgeSearch {
	return &KnowledgeSearch{
		authorities: authorities,
		permissions: permissions,
		graph:       graph,
		chunks:      chunks,
		crmEnabled:  crmEnabled,
	}
}

func (s *KnowledgeSearch) Search(ctx context.Context, userID, question string) (domain.GraphResult, domain.ChunkResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.GraphResult{}, domain.ChunkResult{}, domain.WrapError(domain.ErrInvalidInput, "knowledge_search", errors.New("question is required"))
	}

	scope, err := s.scope(ctx, userID)
	if err != nil {
		return domain.GraphResult{}, domain.ChunkResult{}, err
	}

	graph := domain.GraphResult{Query: question}
	if s.graph != nil {
		graph, err = s.graph.Retrieve(ctx, question, scope).Wait()
		if err != nil {
			return domain.GraphResult{}, domain.ChunkResult{}, err
		}
	}
	chunks, err := s.chunks.RetrieveChunks(ctx, question, scope, false)
	if err != nil {
		return domain.GraphResult{}, domain.ChunkResult{}, err
	}
	return graph, chunks, nil
}

func (s *KnowledgeSearch) scope(ctx context.Context, userID string) (RetrievalScope, error) {
	scope := RetrievalScope{Authority: authority.Bypass()}
	if s.crmEnabled {
		if strings.TrimSpace(userID) == "" {
			return scope, domain.WrapError(domain.ErrUnauthorized, "knowledge_search", errors.New("user id is required"))
		}
		auth, _ := s.authorities.Fetch(ctx, userID)
		if auth == nil {
			auth = authority.Empty()
		}
		scope.Authority = auth
	}
	if s.permissions != nil && userID != "" {
		ids, err := s.permissions.FetchAuthorizedFileIDs(ctx, userID)
		if err != nil {
			return scope, fmt.Errorf("fetch authorized files: %w", err)
		}
		scope.Allowlist = ids
	}
	return scope, nil
}
