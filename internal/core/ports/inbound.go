package ports

import (
	"context"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

// ChatService runs one chat turn. The returned channel is closed after the
// terminal event; cancelling ctx stops the turn.
type ChatService interface {
	Chat(ctx context.Context, req domain.ChatRequest) <-chan domain.ChatEvent
}

// KnowledgeSearcher runs authorized retrieval without answer synthesis.
type KnowledgeSearcher interface {
	Search(ctx context.Context, userID, question string) (domain.GraphResult, domain.ChunkResult, error)
}

// TurnVerifier handles finished turns in the background worker.
type TurnVerifier interface {
	VerifyTurn(ctx context.Context, event domain.TurnFinished) error
}
