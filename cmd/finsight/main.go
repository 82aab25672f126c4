// Command finsight serves the financial filings question-answering API.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/entities"
	"github.com/finsight-ai/finsight/internal/extract"
	"github.com/finsight-ai/finsight/internal/knowledge"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/orchestrator"
	"github.com/finsight-ai/finsight/internal/planner"
	"github.com/finsight-ai/finsight/internal/retrieval"
	"github.com/finsight-ai/finsight/internal/server"
	"github.com/finsight-ai/finsight/internal/synthesis"
	"github.com/finsight-ai/finsight/internal/validator"
	"github.com/finsight-ai/finsight/internal/vectordb"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional Redis: empty addr runs with in-process caching only.
	var redisClient *redis.Client
	if cfg.Cache.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr, DB: cfg.Cache.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without shared caches", zap.Error(err))
			redisClient = nil
		}
	}

	var vectorCache llm.VectorCache
	if redisClient != nil {
		vectorCache = llm.NewRedisVectorCache(redisClient)
	}
	llmClient := llm.NewClient(cfg.LLM, vectorCache, logger)

	store, err := knowledge.NewStore(cfg.Knowledge, logger)
	if err != nil {
		logger.Fatal("failed to connect to knowledge store", zap.Error(err))
	}
	defer store.Close()

	index := vectordb.NewClient(cfg.VectorDB, logger)

	normalizer, err := entities.NewNormalizer(cfg.Entities.AliasFile, logger)
	if err != nil {
		logger.Fatal("failed to load entity alias table", zap.Error(err))
	}
	if cfg.Entities.HotReload {
		if err := normalizer.Watch(ctx, cfg.Entities.AliasFile); err != nil {
			logger.Warn("alias hot reload unavailable", zap.Error(err))
		}
	}

	strategies := []retrieval.Strategy{
		retrieval.NewCachedStrategy(
			retrieval.NewStructuredLookup(store, logger),
			redisClient, cfg.Cache.RetrievalTTL, logger),
		retrieval.NewCachedStrategy(
			retrieval.NewFilteredSemantic(index, llmClient, cfg.VectorDB.TopK, logger),
			redisClient, cfg.Cache.RetrievalTTL, logger),
		retrieval.NewCachedStrategy(
			retrieval.NewPureSemantic(index, llmClient, cfg.VectorDB.TopK, logger),
			redisClient, cfg.Cache.RetrievalTTL, logger),
	}

	orch, err := orchestrator.New(
		extract.New(normalizer, llmClient, cfg.Extraction, logger),
		planner.New(cfg.Routing, cfg.Execution.MaxSubTasks, logger),
		validator.New(cfg.Validation, llmClient, logger),
		synthesis.New(llmClient, cfg.Synthesis, logger),
		strategies,
		cfg.Execution,
		logger,
	)
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}

	srv := server.New(orch, cfg.Service, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("stopped")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
