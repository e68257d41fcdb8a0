package usecase

import (
	"encoding/json"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

// FormatGraphContext renders the graph for prompts. Intent mode groups the
// knowledge by sub-query.
func FormatGraphContext(prompts Prompts, graph domain.GraphResult, intent bool) (string, error) {
	if graph.IsEmpty() {
		return "", nil
	}
	prompts = prompts.withDefaults()
	if intent {
		return renderPrompt("intent_graph_knowledge", prompts.IntentGraphKnowledge, map[string]any{
			"SubQueries": graph.Subqueries(),
		})
	}
	return renderPrompt("normal_graph_knowledge", prompts.NormalGraphKnowledge, map[string]any{
		"Entities":      graph.Entities,
		"Relationships": graph.Relationships,
	})
}

func toIndentedJSON(v any) string {
	if m, ok := v.(map[string]any); v == nil || (ok && len(m) == 0) {
		return "{}"
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}
