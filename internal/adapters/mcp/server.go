// Package mcpadapter exposes knowledge search and authority inspection as MCP tools.
package mcpadapter

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/usecase"
)

type Server struct {
	searcher    ports.KnowledgeSearcher
	authorities ports.AuthorityProvider
	prompts     usecase.Prompts
	mcp         *server.MCPServer
}

func NewServer(searcher ports.KnowledgeSearcher, authorities ports.AuthorityProvider, prompts usecase.Prompts, version string) *Server {
	s := &Server{
		searcher:    searcher,
		authorities: authorities,
		prompts:     prompts,
		mcp: server.NewMCPServer(
			"sales-knowledge-assistant",
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("knowledge_search",
		mcp.WithDescription("Search the sales knowledge graph and documents visible to a CRM user."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("CRM user whose permissions scope the search")),
		mcp.WithString("question", mcp.Required(), mcp.Description("natural language question")),
	), s.handleKnowledgeSearch)

	if s.authorities != nil {
		s.mcp.AddTool(mcp.NewTool("inspect_authority",
			mcp.WithDescription("Show the CRM records a user may see and the derived metadata filter."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("CRM user id")),
		), s.handleInspectAuthority)
	}
}

// ServeStdio blocks until stdin closes or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
