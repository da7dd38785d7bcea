// Command nexusd wires together every NEXUS component (C1-C13) and runs the
// background job orchestrator plus an in-process query engine. It carries
// no HTTP routing, auth, or upload handling of its own — those surfaces, and
// whatever process embeds this wiring, are expected to call into the
// exported Server returned by build() directly.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"mnemosyne/internal/brain"
	"mnemosyne/internal/chunker"
	"mnemosyne/internal/config"
	"mnemosyne/internal/consolidation"
	"mnemosyne/internal/contextassembler"
	"mnemosyne/internal/diffusion"
	"mnemosyne/internal/embedclient"
	"mnemosyne/internal/fusion"
	"mnemosyne/internal/llm"
	"mnemosyne/internal/llm/anthropic"
	"mnemosyne/internal/llm/local"
	"mnemosyne/internal/llm/openai"
	"mnemosyne/internal/navigator"
	"mnemosyne/internal/observability"
	"mnemosyne/internal/orchestrator"
	"mnemosyne/internal/query"
	"mnemosyne/internal/search"
	"mnemosyne/internal/store"
	"mnemosyne/internal/store/postgres"
	"mnemosyne/internal/store/qdrant"
	"mnemosyne/internal/store/rediscache"
	"mnemosyne/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("nexusd")
	}
}

// Server bundles the two surfaces nexusd exposes to an embedding process:
// the query Engine (C7-C8-C2-C13's synchronous and streaming entrypoints)
// and the background WorkerPool driving C3, C9-C12, and per-entity
// embedding/analysis jobs (C13). Neither owns an HTTP listener.
type Server struct {
	Query    *query.Engine
	Jobs     *orchestrator.WorkerPool
	Store    store.Store
	NavCache *rediscache.NavigationCache
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	baseCtx := context.Background()

	shutdownOTel, err := observability.InitOTel(baseCtx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	srv, err := build(baseCtx, cfg)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer srv.Store.Close()
	defer srv.NavCache.Close()

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("version", version.Version).
		Int("orchestratorWorkers", cfg.OrchestratorWorkers).
		Str("localModel", cfg.LocalTextModel).
		Msg("nexusd starting")

	srv.Jobs.Start(ctx)
	return nil
}

// build constructs every C1-C13 component and wires them into a Server, in
// the teacher's load-config-then-construct-components order
// (cmd/orchestrator/main.go's run()), generalized from Kafka/tool-registry
// construction to NEXUS's store/embedding/LLM/graph component graph.
func build(ctx context.Context, cfg config.Config) (*Server, error) {
	pgStore, err := postgres.Open(ctx, cfg.PostgresDSN, cfg.EmbeddingDimension)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}

	embed := embedclient.New(embedclient.FromConfig(cfg))
	if err := embed.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("embedding service unreachable at startup, continuing")
	}

	llm.ConfigureLogging(false, 2048)
	registry := llm.NewRegistry(llm.NewUsageLogger(pgStore))
	registry.Register(local.New(cfg), cfg)
	if cfg.AnthropicAPIKey != "" {
		registry.Register(anthropic.New(anthropic.Config{
			APIKey: cfg.AnthropicAPIKey, Model: cfg.AnthropicModel, MaxTokens: 4096,
		}), cfg)
	}
	if cfg.OpenAIAPIKey != "" {
		registry.Register(openai.New(openai.Config{
			Name: openai.ProviderName, APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel,
		}), cfg)
	}

	chunks := chunker.NewService(pgStore, pgStore, pgStore, embed, 0, 0)

	navCache, err := rediscache.New(cfg.RedisAddr, pgStore, 10*time.Minute)
	if err != nil {
		log.Warn().Err(err).Msg("redis navigation cache unavailable, falling back to postgres only")
		navCache, _ = rediscache.New("", pgStore, 0)
	}

	var vectors store.VectorIndex = pgStore
	if cfg.QdrantAddr != "" {
		qdrantIndex, err := qdrant.New(cfg.QdrantAddr, "nexus_chunks", cfg.EmbeddingDimension, "cosine")
		if err != nil {
			log.Warn().Err(err).Msg("qdrant unavailable, falling back to pgvector")
		} else {
			vectors = qdrantIndex
		}
	}

	searchSvc := search.NewService(vectors, pgStore, embed)
	nav := navigator.New(navCache, pgStore, registry)
	rank := diffusion.New(pgStore, pgStore, pgStore, pgStore)
	router := fusion.NewRouter(searchSvc, nav, rank, embed)
	assembler := contextassembler.New(pgStore, pgStore, pgStore, pgStore, pgStore, pgStore)
	consolidationEngine := consolidation.New(pgStore, pgStore, pgStore, pgStore, pgStore, pgStore, pgStore, pgStore)

	builder := brain.New(pgStore, pgStore, consolidationEngine, registry, embed, local.ProviderName, cfg.BrainModel, cfg.BrainTemperature)
	updater := brain.NewUpdater(pgStore, pgStore, builder)
	pipeline := brain.NewPipeline(pgStore, registry, embed, local.ProviderName, cfg.BrainModel, cfg.BrainTemperature, cfg.BrainTokenBudget)

	queryEngine := query.New(router, assembler, registry, pgStore, query.Config{
		ProviderName:  local.ProviderName,
		Model:         cfg.LocalTextModel,
		Temperature:   cfg.RAGTemperature,
		MaxTokens:     2048,
		ContextBudget: cfg.RAGTokenBudget,
	})

	pool := orchestrator.NewWorkerPool(pgStore,
		cfg.OrchestratorWorkers,
		time.Duration(cfg.OrchestratorPollIntervalMS)*time.Millisecond,
		time.Duration(cfg.OrchestratorStuckAfterMin)*time.Minute,
	)
	orchestrator.RegisterDefaultHandlers(pool, orchestrator.Deps{
		Notes:         pgStore,
		Documents:     pgStore,
		Images:        pgStore,
		WikiLinks:     pgStore,
		Chunker:       chunks,
		Embed:         embed,
		Registry:      registry,
		Builder:       builder,
		Updater:       updater,
		Pipeline:      pipeline,
		Consolidation: consolidationEngine,
		ProviderName:  local.ProviderName,
		Model:         cfg.BrainModel,
		Temperature:   cfg.BrainTemperature,
	})

	return &Server{Query: queryEngine, Jobs: pool, Store: pgStore, NavCache: navCache}, nil
}
