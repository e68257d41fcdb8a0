package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/usecase"
)

// ChatEngine holds the per-deployment retrieval and orchestration options.
type ChatEngine struct {
	Name                  string          `yaml:"name"`
	KnowledgeBaseIDs      []int64         `yaml:"knowledge_base_ids"`
	KnowledgeGraphEnabled *bool           `yaml:"knowledge_graph_enabled"`
	UsingIntentSearch     bool            `yaml:"using_intent_search"`
	MaxSubQueries         int             `yaml:"max_sub_queries"`
	MaxConcurrency        int             `yaml:"max_concurrency"`
	ClarifyQuestion       bool            `yaml:"clarify_question"`
	HistoryLimit          int             `yaml:"history_limit"`
	IdentityThreshold     float64         `yaml:"identity_threshold"`
	FullDocument          bool            `yaml:"full_document"`
	Graph                 GraphRetrieval  `yaml:"graph"`
	Chunks                ChunkRetrieval  `yaml:"chunks"`
	Prompts               usecase.Prompts `yaml:"prompts"`
}

type GraphRetrieval struct {
	TopK           int            `yaml:"top_k"`
	CandidateLimit int            `yaml:"candidate_limit"`
	MaxDistance    float64        `yaml:"max_distance"`
	Alpha          float64        `yaml:"alpha"`
	UseDegree      bool           `yaml:"use_degree"`
	DegreeCoeff    float64        `yaml:"degree_coeff"`
	EntityTopK     int            `yaml:"entity_top_k"`
	RangeSearch    []DistanceBand `yaml:"range_search"`
}

type DistanceBand struct {
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"`
	Ratio float64 `yaml:"ratio"`
}

type ChunkRetrieval struct {
	TopK                int     `yaml:"top_k"`
	CandidateLimit      int     `yaml:"candidate_limit"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

func DefaultChatEngine() ChatEngine {
	enabled := true
	return ChatEngine{
		Name:                  "default",
		KnowledgeGraphEnabled: &enabled,
		MaxSubQueries:         3,
		MaxConcurrency:        8,
		HistoryLimit:          20,
		IdentityThreshold:     0.875,
		Graph: GraphRetrieval{
			TopK:           10,
			CandidateLimit: 50,
			MaxDistance:    0.55,
			Alpha:          1,
			DegreeCoeff:    0.001,
		},
		Chunks: ChunkRetrieval{
			TopK:                10,
			CandidateLimit:      20,
			SimilarityThreshold: 0.5,
		},
	}
}

// LoadChatEngine reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func LoadChatEngine(path string) (ChatEngine, error) {
	cfg := DefaultChatEngine()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ChatEngine{}, fmt.Errorf("loading chat engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ChatEngine{}, fmt.Errorf("loading chat engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ChatEngine{}, fmt.Errorf("loading chat engine config: %w", err)
	}
	return cfg, nil
}

func (c ChatEngine) KGEnabled() bool {
	return c.KnowledgeGraphEnabled == nil || *c.KnowledgeGraphEnabled
}

func (c ChatEngine) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("engine name is required")
	}
	if c.Graph.TopK < 0 || c.Chunks.TopK < 0 {
		return fmt.Errorf("top_k must not be negative")
	}
	if c.Graph.MaxDistance < 0 || c.Graph.MaxDistance > 2 {
		return fmt.Errorf("graph max_distance must be within [0, 2], got %v", c.Graph.MaxDistance)
	}
	if c.Chunks.SimilarityThreshold < -1 || c.Chunks.SimilarityThreshold > 1 {
		return fmt.Errorf("chunk similarity_threshold must be within [-1, 1], got %v", c.Chunks.SimilarityThreshold)
	}
	if c.IdentityThreshold < 0 || c.IdentityThreshold > 1 {
		return fmt.Errorf("identity_threshold must be within [0, 1], got %v", c.IdentityThreshold)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must not be negative")
	}

	var previousUpper float64
	for i, band := range c.Graph.RangeSearch {
		if band.Upper <= band.Lower {
			return fmt.Errorf("range_search band %d: upper must exceed lower", i)
		}
		if band.Ratio <= 0 || band.Ratio > 1 {
			return fmt.Errorf("range_search band %d: ratio must be within (0, 1]", i)
		}
		if i > 0 && band.Lower < previousUpper {
			return fmt.Errorf("range_search band %d overlaps band %d", i, i-1)
		}
		previousUpper = band.Upper
	}

	seen := make(map[int64]struct{}, len(c.KnowledgeBaseIDs))
	for _, id := range c.KnowledgeBaseIDs {
		if id <= 0 {
			return fmt.Errorf("invalid knowledge base id %d", id)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate knowledge base id %d", id)
		}
		seen[id] = struct{}{}
	}

	if err := c.Prompts.Validate(); err != nil {
		return fmt.Errorf("prompts: %w", err)
	}
	return nil
}
