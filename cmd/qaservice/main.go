// Command qaservice runs the property-management Q&A agent: session
// management, retrieval-augmented generation over a knowledge base, and the
// HTTP surface spec §6 describes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"manifold/internal/config"
	llmpkg "manifold/internal/llm"
	"manifold/internal/llm/anthropic"
	"manifold/internal/observability"
	"manifold/internal/persistence/databases"
	"manifold/internal/qa/analytics"
	"manifold/internal/qa/cache"
	"manifold/internal/qa/cost"
	"manifold/internal/qa/durable"
	"manifold/internal/qa/escalate"
	"manifold/internal/qa/generate"
	"manifold/internal/qa/intelligence"
	"manifold/internal/qa/orchestrator"
	"manifold/internal/qa/rerank"
	"manifold/internal/qa/search"
	"manifold/internal/qa/session"
	"manifold/internal/qa/summary"
	"manifold/internal/qa/vectorstore"
	"manifold/internal/qahttp"
)

func main() {
	configPath := flag.String("config", "config/qa.yaml", "path to the Q&A service YAML config")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}
	observability.InitLogger("qaservice.log", "info")

	cfg, err := config.LoadQAConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load qa config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if shutdown, err := observability.InitOTel(ctx, cfg.Obs); err != nil {
		log.Warn().Err(err).Msg("otel init skipped, continuing without tracing/metrics")
	} else if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)
	llmpkg.ConfigureLogging(cfg.OpenAI.LogPayloads, 0)

	embedder := vectorstore.NewOpenAIEmbedder(cfg.OpenAI, httpClient)
	chatProvider := anthropic.New(cfg.Anthropic, httpClient)

	store, err := vectorstore.NewQdrantStore(cfg.Qdrant.DSN, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions, cfg.Qdrant.Metric)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to qdrant")
	}

	conversationCache := cache.New(cfg.Redis, cfg.Agent.CacheTTLSeconds, cfg.Agent.MaxCachedTurns)

	pgPool, err := databases.OpenPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pgPool.Close()
	relational := durable.NewPostgresStore(pgPool)
	if err := relational.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap postgres schema")
	}

	analyticsStore, err := durable.NewClickHouseAnalyticsStore(cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to clickhouse")
	}
	if err := analyticsStore.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap clickhouse schema")
	}
	durableStore := durable.NewStore(relational, analyticsStore)

	prompts, err := generate.LoadPromptSet(cfg.PromptsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load generation prompts")
	}

	searchStrategy := search.New(store, embedder, search.Options{
		Threshold: cfg.Agent.MinConfidenceScore,
		TopK:      cfg.Agent.MaxSearchResults,
	})
	intelEngine := intelligence.New(chatProvider, cfg.Anthropic.Model)
	generator := generate.New(chatProvider, cfg.Anthropic.Model, prompts)
	escalationEngine := escalate.New(chatProvider, cfg.Anthropic.Model, cfg.Agent.MinConfidenceScore)
	costMeter := cost.New(cost.DefaultPriceTable())
	summariser := summary.New(chatProvider, cfg.Anthropic.Model)

	sessions := session.New(session.Config{
		IdleTimeout:        time.Duration(cfg.Agent.SessionIdleTimeoutSeconds) * time.Second,
		HardCap:            time.Duration(cfg.Agent.SessionHardCapSeconds) * time.Second,
		SummaryInterval:    cfg.Agent.SummaryInterval,
		RecentMessageCount: session.DefaultConfig().RecentMessageCount,
		DescriptorCap:      session.DefaultConfig().DescriptorCap,
	}, conversationCache, analytics.New(), costMeter, summariser, durableStore)

	orch := orchestrator.New(sessions, searchStrategy, store, rerank.New(), intelEngine, generator, escalationEngine, costMeter, cfg.Anthropic.Model, cfg.Anthropic.Model)

	health := qahttp.NewHealthChecker(conversationCache, store, embedder, chatProvider, cfg.Anthropic.Model)
	srv := qahttp.NewServer(orch, sessions, health, qahttp.Config{
		RateLimitPerMinute: cfg.Agent.RateLimitPerMinute,
		RateLimitBurst:     cfg.Agent.RateLimitBurst,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("qaservice graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Msg("qaservice listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("qaservice server failed")
	}
}
