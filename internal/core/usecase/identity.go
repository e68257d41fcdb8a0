package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

const DefaultIdentityThreshold = 0.875

// IdentityDetector recognizes questions about the assistant itself by
// embedding similarity against example phrasings. Example embeddings are
// computed once per detector; they do not depend on the caller.
type IdentityDetector struct {
	embedder  ports.Embedder
	examples  map[string]string
	answers   map[string]string
	threshold float64

	mu       sync.Mutex
	phrases  []string
	vectors  [][]float32
	prepared bool
}

// NewIdentityDetector takes example phrasing -> category and category -> canned answer.
func NewIdentityDetector(embedder ports.Embedder, examples, answers map[string]string, threshold float64) *IdentityDetector {
	if threshold <= 0 {
		threshold = DefaultIdentityThreshold
	}
	if examples == nil {
		examples = DefaultIdentityExamples()
	}
	if answers == nil {
		answers = DefaultIdentityAnswers()
	}
	return &IdentityDetector{embedder: embedder, examples: examples, answers: answers, threshold: threshold}
}

// Detect returns the best matching category when its similarity reaches the threshold.
func (d *IdentityDetector) Detect(ctx context.Context, question string) (string, bool, error) {
	if err := d.prepare(ctx); err != nil {
		return "", false, err
	}
	if len(d.vectors) == 0 {
		return "", false, nil
	}
	query, err := d.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return "", false, fmt.Errorf("embed identity question: %w", err)
	}

	best, bestIdx := -1.0, -1
	for i, v := range d.vectors {
		if sim := cosine(query, v); sim > best {
			best, bestIdx = sim, i
		}
	}
	if bestIdx < 0 || best < d.threshold {
		return "", false, nil
	}
	return d.examples[d.phrases[bestIdx]], true, nil
}

func (d *IdentityDetector) Answer(category string) string {
	return d.answers[category]
}

func (d *IdentityDetector) prepare(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.prepared {
		return nil
	}

	phrases := make([]string, 0, len(d.examples))
	for p := range d.examples {
		phrases = append(phrases, p)
	}
	sort.Strings(phrases)
	if len(phrases) == 0 {
		d.prepared = true
		return nil
	}

	vectors, err := d.embedder.Embed(ctx, phrases)
	if err != nil {
		return fmt.Errorf("embed identity examples: %w", err)
	}
	if len(vectors) != len(phrases) {
		return fmt.Errorf("embed identity examples: got %d vectors for %d phrases", len(vectors), len(phrases))
	}
	d.phrases, d.vectors, d.prepared = phrases, vectors, true
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func DefaultIdentityExamples() map[string]string {
	return map[string]string{
		"Tell me more about yourself": "identity_full",
		"tell me about yourself":      "identity_full",

		"Who are you?":      "identity_brief",
		"what is your name": "identity_brief",

		"What can you do?":     "capabilities",
		"How can you help me?": "capabilities",

		"Are you just a knowledge base?":            "knowledge_base",
		"difference between you and knowledge base": "knowledge_base",

		"hello":          "greeting",
		"hi":             "greeting",
		"good morning":   "greeting",
		"good afternoon": "greeting",
	}
}

func DefaultIdentityAnswers() map[string]string {
	return map[string]string{
		"identity_full": "I am the sales knowledge assistant. I combine the company's CRM knowledge graph with " +
			"product and sales documents to answer questions about accounts, opportunities, orders and selling " +
			"playbooks, and I only use the records you are allowed to see.",
		"identity_brief": "I am the sales knowledge assistant.",
		"capabilities": "I can look up accounts, contacts, opportunities and orders you have access to, summarize " +
			"their history, prepare customer visits and answer product and playbook questions from the knowledge base.",
		"knowledge_base": "I search the knowledge base, but I also connect CRM records through a knowledge graph, " +
			"respect your data permissions and write answers grounded in the sources I find.",
		"greeting": "Hello! Ask me about your customers, opportunities or products.",
	}
}
