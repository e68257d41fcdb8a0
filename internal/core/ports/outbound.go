package ports

import (
	"context"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/authority"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/filter"
)

// AuthorityProvider queries the CRM authorization service. Implementations
// fail closed: any error yields an empty authority and an empty role.
type AuthorityProvider interface {
	Fetch(ctx context.Context, userID string) (*authority.Authority, string)
}

// Embedder builds vectors for query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LLM is an opaque text-completion capability.
type LLM interface {
	Predict(ctx context.Context, prompt string) (string, error)
	// Stream calls onToken for every fragment and returns the full completion.
	Stream(ctx context.Context, prompt string, onToken func(string) error) (string, error)
}

type GraphSearchRequest struct {
	KnowledgeBaseID int64
	Vector          []float32
	Limit           int
	MaxDistance     float64
}

// RelationshipCandidate is a relationship returned by a vector search over one
// knowledge graph, with its endpoint entities and their degrees.
type RelationshipCandidate struct {
	Relationship domain.Relationship
	Source       domain.Entity
	Target       domain.Entity
	Distance     float64
	InDegree     int
	OutDegree    int
}

type EntityCandidate struct {
	Entity   domain.Entity
	Distance float64
}

// GraphIndex searches the graph of a single knowledge base.
type GraphIndex interface {
	SearchRelationships(ctx context.Context, req GraphSearchRequest) ([]RelationshipCandidate, error)
	SearchEntities(ctx context.Context, req GraphSearchRequest) ([]EntityCandidate, error)
}

type ChunkSearchRequest struct {
	KnowledgeBaseID int64
	Vector          []float32
	Limit           int
	// Filter may be pushed down by the index. Callers still evaluate it.
	Filter *filter.Expr
}

// ChunkIndex searches document chunks of a single knowledge base. Chunk.Score
// is a similarity, higher is better.
type ChunkIndex interface {
	SearchChunks(ctx context.Context, req ChunkSearchRequest) ([]domain.Chunk, error)
}

// QueryDecomposer splits a question into sub-queries.
type QueryDecomposer interface {
	Decompose(ctx context.Context, question string) ([]string, error)
}

// ChatStore persists chats and their messages.
type ChatStore interface {
	MustGetChat(ctx context.Context, chatID, userID string) (*domain.Chat, error)
	GetMessages(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error)
	GetMessage(ctx context.Context, messageID string) (*domain.ChatMessage, error)
	CreateMessage(ctx context.Context, msg *domain.ChatMessage) error
	SaveMessage(ctx context.Context, msg *domain.ChatMessage) error
}

type DocumentStore interface {
	FetchDocumentsByIDs(ctx context.Context, ids []int64) ([]domain.Document, error)
}

// FilePermissionStore returns the document ids a user may read. An empty
// result means the user has no file restrictions.
type FilePermissionStore interface {
	FetchAuthorizedFileIDs(ctx context.Context, userID string) ([]int64, error)
}

type KnowledgeBaseStore interface {
	ListKnowledgeBases(ctx context.Context, ids []int64) ([]domain.KnowledgeBase, error)
}

// TurnNotifier announces finished chat turns to background consumers.
type TurnNotifier interface {
	PublishTurnFinished(ctx context.Context, event domain.TurnFinished) error
	SubscribeTurnFinished(ctx context.Context, handler func(context.Context, domain.TurnFinished) error) error
}

// PostVerifier submits an answered turn for offline verification and returns
// a link to the verification job.
type PostVerifier interface {
	Submit(ctx context.Context, externalRequestID, qaContent string) (string, error)
}
