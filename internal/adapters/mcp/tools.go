package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/usecase"
)

type ChunkOutput struct {
	ID              string  `json:"id"`
	DocumentID      int64   `json:"document_id"`
	KnowledgeBaseID int64   `json:"knowledge_base_id"`
	Score           float64 `json:"score"`
	Text            string  `json:"text"`
}

type KnowledgeSearchOutput struct {
	GraphContext  string               `json:"graph_context"`
	Relationships int                  `json:"relationships"`
	Chunks        []ChunkOutput        `json:"chunks"`
	Documents     []domain.DocumentRef `json:"documents"`
}

type AuthorityOutput struct {
	UserID string         `json:"user_id"`
	Role   string         `json:"role,omitempty"`
	Bypass bool           `json:"bypass"`
	Empty  bool           `json:"empty"`
	Items  map[string]int `json:"items"`
	Filter map[string]any `json:"filter,omitempty"`
}

func (s *Server) handleKnowledgeSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	graph, chunks, err := s.searcher.Search(ctx, strings.TrimSpace(userID), strings.TrimSpace(question))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("knowledge search failed: %v", err)), nil
	}

	graphContext, err := usecase.FormatGraphContext(s.prompts, graph, len(graph.Children) > 0)
	if err != nil {
		return nil, fmt.Errorf("format graph context: %w", err)
	}

	out := KnowledgeSearchOutput{
		GraphContext:  graphContext,
		Relationships: len(graph.Relationships),
		Chunks:        make([]ChunkOutput, 0, len(chunks.Chunks)),
		Documents:     make([]domain.DocumentRef, 0, len(chunks.Documents)),
	}
	for _, c := range chunks.Chunks {
		out.Chunks = append(out.Chunks, ChunkOutput{
			ID:              c.ID,
			DocumentID:      c.DocumentID,
			KnowledgeBaseID: c.KnowledgeBaseID,
			Score:           c.Score,
			Text:            c.Text,
		})
	}
	for _, d := range chunks.Documents {
		out.Documents = append(out.Documents, d.Ref())
	}
	return jsonResult(out)
}

func (s *Server) handleInspectAuthority(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil || strings.TrimSpace(userID) == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	userID = strings.TrimSpace(userID)

	auth, role := s.authorities.Fetch(ctx, userID)
	out := AuthorityOutput{
		UserID: userID,
		Role:   role,
		Bypass: auth.IsBypass(),
		Empty:  auth.IsEmpty(),
		Items:  auth.Stats(),
	}
	if expr := auth.Filter(); expr != nil {
		out.Filter = expr.DSL()
	}
	return jsonResult(out)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}
