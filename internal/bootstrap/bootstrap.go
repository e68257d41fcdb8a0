package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/sales-knowledge-assistant/internal/config"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/scoring"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/usecase"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/crm"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/graph/neo4jgraph"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/verification"
	"github.com/kirillkom/sales-knowledge-assistant/internal/observability/metrics"
)

// App holds the wired chat engine for the api, mcp and cli entrypoints.
type App struct {
	Config config.Config
	Engine config.ChatEngine

	Chats       *postgres.ChatRepository
	Authorities ports.AuthorityProvider
	Chat        *usecase.ChatFlow
	Search      *usecase.KnowledgeSearch
	Prompts     usecase.Prompts
	Metrics     *metrics.HTTPServerMetrics

	closeFn func()
}

// Worker holds what the post-verification consumer needs.
type Worker struct {
	Config config.Config

	Notifier *nats.Notifier
	Verifier *usecase.PostVerificationUseCase
	Metrics  *metrics.WorkerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	engine, err := config.LoadChatEngine(cfg.ChatEngineConfigPath)
	if err != nil {
		return nil, err
	}
	prompts := engine.Prompts

	closers := make([]func(), 0, 4)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, error) {
		closeAll()
		return nil, err
	}

	db, err := openSchema(ctx, cfg.PostgresDSN)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = db.Close() })

	executor := newExecutor(cfg)

	graphIndex, err := neo4jgraph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, neo4jgraph.Options{
		Database:           cfg.Neo4jDatabase,
		Dimensions:         cfg.EmbeddingDimensions,
		ResilienceExecutor: executor,
	})
	if err != nil {
		return fail(fmt.Errorf("init graph index: %w", err))
	}
	closers = append(closers, func() { _ = graphIndex.Close(context.Background()) })
	if err := graphIndex.EnsureIndexes(ctx); err != nil {
		return fail(fmt.Errorf("ensure graph indexes: %w", err))
	}

	chunkIndex, closeChunks, err := newChunkIndex(ctx, cfg, executor)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeChunks)

	notifier, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		return fail(fmt.Errorf("init turn notifier: %w", err))
	}
	closers = append(closers, notifier.Close)

	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		ResilienceExecutor: executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)
	fastGenerator := generator.WithModel(cfg.OllamaFastModel)

	authorities := crm.NewAuthorityClient(cfg.CRMAuthorityURL, crm.Options{
		Timeout:            time.Duration(cfg.CRMAuthorityTimeoutSec) * time.Second,
		ResilienceExecutor: executor,
	})

	chats := postgres.NewChatRepository(db)
	documents := postgres.NewDocumentRepository(db)
	permissions := postgres.NewFilePermissionRepository(db)

	kbs, err := postgres.NewKnowledgeBaseRepository(db).ListKnowledgeBases(ctx, engine.KnowledgeBaseIDs)
	if err != nil {
		return fail(fmt.Errorf("list knowledge bases: %w", err))
	}
	if len(kbs) == 0 {
		slog.Warn("no_knowledge_bases_configured", "engine", engine.Name)
	}

	sources := buildSources(kbs, graphIndex, chunkIndex, embedder, engine)
	decomposer := usecase.NewLLMQueryDecomposer(fastGenerator, prompts, engine.MaxSubQueries)
	fusionOpts := usecase.FusionOptions{
		UseQueryDecompose: engine.UsingIntentSearch,
		MaxConcurrency:    engine.MaxConcurrency,
	}
	graphFusion := usecase.NewGraphFusionRetriever(sources.general, decomposer, fusionOpts)
	playbookFusion := usecase.NewGraphFusionRetriever(sources.playbook, decomposer, fusionOpts)
	chunkFusion := usecase.NewChunkFusionRetriever(sources.chunks, documents, decomposer, fusionOpts)

	defaultStrategy := usecase.NewDefaultStrategy(fastGenerator, graphFusion, prompts, engine.KGEnabled())
	strategies := map[domain.ChatFlowType]usecase.ChatStrategy{
		domain.ChatFlowClientVisitGuide: usecase.NewPlaybookStrategy(defaultStrategy, fastGenerator, playbookFusion),
	}

	httpMetrics := metrics.NewHTTPServerMetrics(service)
	flow := usecase.NewChatFlow(usecase.ChatFlowDeps{
		Store:       chats,
		Authorities: authorities,
		Permissions: permissions,
		LLM:         generator,
		FastLLM:     fastGenerator,
		Identity:    usecase.NewIdentityDetector(embedder, usecase.DefaultIdentityExamples(), usecase.DefaultIdentityAnswers(), engine.IdentityThreshold),
		Chunks:      chunkFusion,
		Notifier:    notifier,
		Observer:    httpMetrics,
	}, usecase.ChatFlowOptions{
		CRMEnabled:      cfg.CRMEnabled,
		ClarifyQuestion: engine.ClarifyQuestion,
		HistoryLimit:    engine.HistoryLimit,
		FullDocument:    engine.FullDocument,
		Prompts:         prompts,
	}, defaultStrategy, strategies)

	var searchGraph *usecase.GraphFusionRetriever
	if engine.KGEnabled() {
		searchGraph = graphFusion
	}

	slog.Info("chat_engine_ready",
		"engine", engine.Name,
		"knowledge_bases", len(kbs),
		"graph_sources", len(sources.general),
		"playbook_sources", len(sources.playbook),
		"chunk_backend", cfg.ChunkBackend,
		"crm_enabled", cfg.CRMEnabled,
	)

	return &App{
		Config:      cfg,
		Engine:      engine,
		Chats:       chats,
		Authorities: authorities,
		Chat:        flow,
		Search:      usecase.NewKnowledgeSearch(authorities, permissions, searchGraph, chunkFusion, cfg.CRMEnabled),
		Prompts:     prompts,
		Metrics:     httpMetrics,
		closeFn:     closeAll,
	}, nil
}

// NewWorker wires the consumer side only: no graph or chunk index is opened.
func NewWorker(ctx context.Context, cfg config.Config, service string) (*Worker, error) {
	db, err := openSchema(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	executor := newExecutor(cfg)
	notifier, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init turn notifier: %w", err)
	}

	verifier := verification.New(cfg.VerificationURL, verification.Options{
		Token:              cfg.VerificationToken,
		ResilienceExecutor: executor,
	})

	return &Worker{
		Config:   cfg,
		Notifier: notifier,
		Verifier: usecase.NewPostVerificationUseCase(postgres.NewChatRepository(db), verifier),
		Metrics:  metrics.NewWorkerMetrics(service),
		closeFn: func() {
			notifier.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func (w *Worker) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

func openSchema(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := postgres.OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func newExecutor(cfg config.Config) *resilience.Executor {
	policy := resilience.DefaultConfig()
	policy.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	policy.BreakerEnabled = cfg.ResilienceBreakerEnabled
	return resilience.NewExecutor(policy)
}

func newChunkIndex(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.ChunkIndex, func(), error) {
	switch cfg.ChunkBackend {
	case config.ChunkBackendQdrant:
		client := qdrant.NewWithOptions(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{ResilienceExecutor: executor})
		return client, func() {}, nil
	case config.ChunkBackendPGVector, "":
		pool, err := pgvector.Connect(ctx, cfg.PGVectorDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("init chunk index: %w", err)
		}
		return pgvector.New(pool, cfg.PGVectorTable), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown chunk backend %q", cfg.ChunkBackend)
	}
}

type retrievalSources struct {
	general  []usecase.GraphSource
	playbook []usecase.GraphSource
	chunks   []usecase.ChunkSource
}

// buildSources creates one graph and one chunk retriever per knowledge base.
// Playbook graphs are only searched by the visit guide flow.
func buildSources(kbs []domain.KnowledgeBase, graphIndex ports.GraphIndex, chunkIndex ports.ChunkIndex, embedder ports.Embedder, engine config.ChatEngine) retrievalSources {
	graphOpts := usecase.GraphRetrieverOptions{
		TopK:           engine.Graph.TopK,
		CandidateLimit: engine.Graph.CandidateLimit,
		MaxDistance:    engine.Graph.MaxDistance,
		Alpha:          engine.Graph.Alpha,
		UseDegree:      engine.Graph.UseDegree,
		DegreeCoeff:    engine.Graph.DegreeCoeff,
		RangeSearch:    rangeSearchPolicy(engine.Graph.RangeSearch),
		EntityTopK:     engine.Graph.EntityTopK,
	}
	chunkOpts := usecase.ChunkRetrieverOptions{
		TopK:                engine.Chunks.TopK,
		CandidateLimit:      engine.Chunks.CandidateLimit,
		SimilarityThreshold: engine.Chunks.SimilarityThreshold,
	}

	var out retrievalSources
	for _, kb := range kbs {
		graph := usecase.NewGraphRetriever(kb, graphIndex, embedder, graphOpts)
		if kb.GraphType == domain.GraphTypePlaybook {
			out.playbook = append(out.playbook, graph)
		} else {
			out.general = append(out.general, graph)
		}
		out.chunks = append(out.chunks, usecase.NewChunkRetriever(kb, chunkIndex, embedder, chunkOpts))
	}
	return out
}

func rangeSearchPolicy(bands []config.DistanceBand) scoring.RangeSearchPolicy {
	if len(bands) == 0 {
		return nil
	}
	policy := make(scoring.RangeSearchPolicy, 0, len(bands))
	for _, b := range bands {
		policy = append(policy, scoring.DistanceBand{Lower: b.Lower, Upper: b.Upper, Ratio: b.Ratio})
	}
	return policy
}
