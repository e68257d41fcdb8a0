package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

// LLMQueryDecomposer asks the language model for sub-questions, one per line.
type LLMQueryDecomposer struct {
	llm        ports.LLM
	prompt     string
	maxQueries int
}

func NewLLMQueryDecomposer(llm ports.LLM, prompts Prompts, maxQueries int) *LLMQueryDecomposer {
	if maxQueries <= 0 {
		maxQueries = 3
	}
	return &LLMQueryDecomposer{llm: llm, prompt: prompts.withDefaults().DecomposeQuery, maxQueries: maxQueries}
}

func (d *LLMQueryDecomposer) Decompose(ctx context.Context, question string) ([]string, error) {
	prompt, err := renderPrompt("decompose_query", d.prompt, map[string]any{
		"Question":   question,
		"MaxQueries": d.maxQueries,
	})
	if err != nil {
		return nil, err
	}
	raw, err := d.llm.Predict(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("decompose query: %w", err)
	}
	return parseSubQueries(raw, d.maxQueries), nil
}

func parseSubQueries(raw string, limit int) []string {
	out := make([]string, 0, limit)
	seen := make(map[string]struct{})
	for _, line := range strings.Split(raw, "\n") {
		q := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.) "))
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}
