package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadIncludesRetrievalBackendDefaults(t *testing.T) {
	t.Setenv("CHUNK_BACKEND", "")
	t.Setenv("POSTGRES_DSN", "postgres://db/app")
	t.Setenv("PGVECTOR_DSN", "")
	t.Setenv("CRM_ENABLED", "")
	t.Setenv("NATS_SUBJECT", "")

	cfg := Load()
	if cfg.ChunkBackend != ChunkBackendPGVector {
		t.Fatalf("expected default chunk backend pgvector, got %q", cfg.ChunkBackend)
	}
	if cfg.PGVectorDSN != "postgres://db/app" {
		t.Fatalf("expected pgvector dsn to follow postgres dsn, got %q", cfg.PGVectorDSN)
	}
	if !cfg.CRMEnabled {
		t.Fatalf("expected crm enabled by default")
	}
	if cfg.NATSSubject != "chat.turns.finished" {
		t.Fatalf("expected default nats subject, got %q", cfg.NATSSubject)
	}
}

func TestLoadParsesTrafficOverrides(t *testing.T) {
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("API_RATE_LIMIT_BURST", "7")
	t.Setenv("API_MAX_IN_FLIGHT", "3")
	t.Setenv("CHUNK_BACKEND", "QDRANT")
	t.Setenv("CRM_ENABLED", "false")

	cfg := Load()
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected rps 2.5, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.APIRateLimitBurst != 7 || cfg.APIMaxInFlight != 3 {
		t.Fatalf("unexpected burst/in-flight %d/%d", cfg.APIRateLimitBurst, cfg.APIMaxInFlight)
	}
	if cfg.ChunkBackend != ChunkBackendQdrant {
		t.Fatalf("expected lower-cased qdrant backend, got %q", cfg.ChunkBackend)
	}
	if cfg.CRMEnabled {
		t.Fatalf("expected crm disabled")
	}
}

func TestLoadFallsBackOnMalformedNumbers(t *testing.T) {
	t.Setenv("API_RATE_LIMIT_RPS", "fast")
	t.Setenv("API_MAX_IN_FLIGHT", "many")

	cfg := Load()
	if cfg.APIRateLimitRPS != 20 || cfg.APIMaxInFlight != 64 {
		t.Fatalf("expected fallbacks, got %v/%d", cfg.APIRateLimitRPS, cfg.APIMaxInFlight)
	}
}

func TestLoadChatEngineWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadChatEngine("")
	if err != nil {
		t.Fatalf("LoadChatEngine() error = %v", err)
	}
	if !cfg.KGEnabled() || cfg.IdentityThreshold != 0.875 || cfg.Graph.MaxDistance != 0.55 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadChatEngineOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `
name: sales
knowledge_base_ids: [1, 2]
knowledge_graph_enabled: false
using_intent_search: true
clarify_question: true
graph:
  top_k: 5
  range_search:
    - {lower: 0, upper: 0.3, ratio: 1}
    - {lower: 0.3, upper: 0.5, ratio: 0.5}
chunks:
  similarity_threshold: 0.7
prompts:
  fallback: "No documents for {{.Question}}"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadChatEngine(path)
	if err != nil {
		t.Fatalf("LoadChatEngine() error = %v", err)
	}
	if cfg.Name != "sales" || len(cfg.KnowledgeBaseIDs) != 2 {
		t.Fatalf("unexpected engine identity %+v", cfg)
	}
	if cfg.KGEnabled() {
		t.Fatalf("expected knowledge graph disabled")
	}
	if cfg.Graph.TopK != 5 || cfg.Graph.CandidateLimit != 50 {
		t.Fatalf("expected top_k override with default candidate limit, got %+v", cfg.Graph)
	}
	if len(cfg.Graph.RangeSearch) != 2 || cfg.Chunks.SimilarityThreshold != 0.7 {
		t.Fatalf("unexpected retrieval overrides %+v %+v", cfg.Graph, cfg.Chunks)
	}
	if cfg.Prompts.Fallback == "" {
		t.Fatalf("expected fallback prompt override")
	}
}

func TestChatEngineValidateRejectsOverlappingBands(t *testing.T) {
	cfg := DefaultChatEngine()
	cfg.Graph.RangeSearch = []DistanceBand{
		{Lower: 0, Upper: 0.4, Ratio: 1},
		{Lower: 0.3, Upper: 0.5, Ratio: 0.5},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "overlaps") {
		t.Fatalf("expected overlap error, got %v", err)
	}
}

func TestChatEngineValidateRejectsDuplicateKnowledgeBases(t *testing.T) {
	cfg := DefaultChatEngine()
	cfg.KnowledgeBaseIDs = []int64{4, 4}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duplicate knowledge base error")
	}
}

func TestChatEngineValidateRejectsBrokenPrompt(t *testing.T) {
	cfg := DefaultChatEngine()
	cfg.Prompts.TextQA = "{{.Question"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected template parse error")
	}
}
