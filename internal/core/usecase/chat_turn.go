package usecase

import (
	"context"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

// Turn is the state of one chat turn. It is owned by a single goroutine.
type Turn struct {
	Request          domain.ChatRequest
	Chat             domain.Chat
	UserMessage      domain.ChatMessage
	AssistantMessage domain.ChatMessage
	History          []domain.HistoryMessage
	Scope            RetrievalScope
	TraceID          string

	// Question is the refined question once REFINE_QUESTION ran.
	Question     string
	Graph        domain.GraphResult
	GraphContext string

	ctx       context.Context
	events    chan<- domain.ChatEvent
	answering bool
}

// Emit sends ev unless the turn context is done.
func (t *Turn) Emit(ev domain.ChatEvent) {
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

func (t *Turn) Annotate(state domain.MessageState, display string) {
	t.Emit(domain.AnnotationEvent(state, display))
}

// resetRetrieval clears what a strategy produced so another strategy can rerun
// the sequence on the same message shells and trace.
func (t *Turn) resetRetrieval() {
	t.Question = ""
	t.Graph = domain.GraphResult{}
	t.GraphContext = ""
}
