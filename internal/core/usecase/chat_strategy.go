package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

// ChatStrategy supplies the retrieval-specific steps of the chat sequence.
type ChatStrategy interface {
	Name() string
	Refine(ctx context.Context, t *Turn) (string, error)
	// SearchGraph returns the fused graph and its prompt context.
	SearchGraph(ctx context.Context, t *Turn) (domain.GraphResult, string, error)
	// EnhanceQuestion returns the input for chunk retrieval.
	EnhanceQuestion(ctx context.Context, t *Turn) (string, error)
}

type DefaultStrategy struct {
	fastLLM   ports.LLM
	graph     *GraphFusionRetriever
	prompts   Prompts
	kgEnabled bool
	now       func() time.Time
}

func NewDefaultStrategy(fastLLM ports.LLM, graph *GraphFusionRetriever, prompts Prompts, kgEnabled bool) *DefaultStrategy {
	return &DefaultStrategy{
		fastLLM:   fastLLM,
		graph:     graph,
		prompts:   prompts.withDefaults(),
		kgEnabled: kgEnabled,
		now:       time.Now,
	}
}

func (s *DefaultStrategy) Name() string {
	return string(domain.ChatFlowDefault)
}

func (s *DefaultStrategy) Refine(ctx context.Context, t *Turn) (string, error) {
	t.Annotate(domain.StateRefineQuestion, "Query rewriting for enhanced information retrieval")

	prompt, err := renderPrompt("condense_question", s.prompts.CondenseQuestion, map[string]any{
		"CurrentDate":    s.now().Format("2006-01-02"),
		"GraphKnowledge": t.GraphContext,
		"History":        t.History,
		"Question":       t.Request.Question,
	})
	if err != nil {
		return "", err
	}
	refined, err := s.fastLLM.Predict(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("refine question: %w", err)
	}
	refined = strings.TrimSpace(refined)
	if refined == "" {
		refined = strings.TrimSpace(t.Request.Question)
	}

	t.Emit(domain.ChatEvent{Type: domain.EventAnnotation, Payload: domain.AnnotationPayload{
		State:   domain.StateRefineQuestion,
		Message: refined,
	}})
	return refined, nil
}

func (s *DefaultStrategy) SearchGraph(ctx context.Context, t *Turn) (domain.GraphResult, string, error) {
	if !s.kgEnabled || s.graph == nil {
		return domain.GraphResult{Query: t.Question}, "", nil
	}
	display := "Searching the knowledge graph for relevant context"
	if s.graph.UsesIntentSearch() {
		display = "Identifying the question's intents and performing knowledge graph search"
	}
	return searchGraph(ctx, t, s.graph, s.prompts, display)
}

func (s *DefaultStrategy) EnhanceQuestion(_ context.Context, t *Turn) (string, error) {
	return t.Question, nil
}

// searchGraph runs a graph fusion for the turn's question and forwards its
// progress as annotations.
func searchGraph(ctx context.Context, t *Turn, retriever *GraphFusionRetriever, prompts Prompts, display string) (domain.GraphResult, string, error) {
	t.Annotate(domain.StateKGRetrieval, display)

	graph, err := retriever.Retrieve(ctx, t.Question, t.Scope).Forward(func(p domain.Progress) {
		t.Annotate(p.MessageState, p.Message)
	})
	if err != nil {
		return domain.GraphResult{}, "", err
	}
	graphContext, err := FormatGraphContext(prompts, graph, retriever.UsesIntentSearch())
	if err != nil {
		return domain.GraphResult{}, "", err
	}
	return graph, graphContext, nil
}
