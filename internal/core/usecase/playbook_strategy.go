package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

const featureTopic = "feature"

// PlaybookStrategy routes sales playbook questions to the playbook graph and
// folds the playbook features into the chunk retrieval question. Refinement
// and fusion are those of the default strategy.
type PlaybookStrategy struct {
	base     *DefaultStrategy
	llm      ports.LLM
	playbook *GraphFusionRetriever
}

func NewPlaybookStrategy(base *DefaultStrategy, classifier ports.LLM, playbook *GraphFusionRetriever) *PlaybookStrategy {
	return &PlaybookStrategy{base: base, llm: classifier, playbook: playbook}
}

func (s *PlaybookStrategy) Name() string {
	return string(domain.ChatFlowClientVisitGuide)
}

func (s *PlaybookStrategy) Refine(ctx context.Context, t *Turn) (string, error) {
	return s.base.Refine(ctx, t)
}

func (s *PlaybookStrategy) SearchGraph(ctx context.Context, t *Turn) (domain.GraphResult, string, error) {
	t.Annotate(domain.StateKGRetrieval, "Analyzing Question Type")

	playbook, err := s.isPlaybookQuestion(ctx, t.Request.Question)
	if err != nil {
		return domain.GraphResult{}, "", err
	}
	if !s.base.kgEnabled {
		return domain.GraphResult{Query: t.Question}, "", nil
	}

	retriever, display := s.base.graph, "Searching Knowledge Graph for Relevant Context"
	if playbook && s.playbook != nil {
		retriever, display = s.playbook, "Searching Sales Knowledge Graph for Relevant Context"
	}
	if retriever == nil {
		return domain.GraphResult{Query: t.Question}, "", nil
	}
	return searchGraph(ctx, t, retriever, s.base.prompts, display)
}

func (s *PlaybookStrategy) EnhanceQuestion(_ context.Context, t *Turn) (string, error) {
	return EnhancePlaybookQuestion(t.Question, PlaybookFeatures(t.Graph), t.GraphContext), nil
}

func (s *PlaybookStrategy) isPlaybookQuestion(ctx context.Context, question string) (bool, error) {
	prompt, err := renderPrompt("analyze_question_type", s.base.prompts.AnalyzeQuestionType, map[string]any{
		"Question": question,
	})
	if err != nil {
		return false, err
	}
	answer, err := s.llm.Predict(ctx, prompt)
	if err != nil {
		return false, domain.WrapError(domain.ErrSpecializedFlow, "analyze_question_type", err)
	}
	return strings.EqualFold(strings.TrimSpace(answer), "true"), nil
}

// PlaybookFeatures lists the names of entities tagged as product features.
func PlaybookFeatures(graph domain.GraphResult) []string {
	out := make([]string, 0)
	for _, e := range graph.Entities {
		if topic, ok := e.Metadata[domain.MetaTopic].(string); ok && topic == featureTopic {
			out = append(out, e.Name)
		}
	}
	return out
}

func EnhancePlaybookQuestion(question string, features []string, graphContext string) string {
	parts := []string{fmt.Sprintf("Original Question: %s", question)}
	if len(features) > 0 {
		parts = append(parts, fmt.Sprintf("Related Features: %s", strings.Join(features, ", ")))
	}
	if graphContext != "" {
		parts = append(parts, fmt.Sprintf("Knowledge Graph Context: %s", graphContext))
	}
	parts = append(parts, "Please provide information considering all the above context.")
	return strings.Join(parts, "\n")
}
