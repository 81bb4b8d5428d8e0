// Command worker consumes scoring tasks from the queue and runs the
// essay scoring pipeline.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	aiadapter "github.com/fairyhunter13/ai-essay-grader/internal/adapter/ai"
	realai "github.com/fairyhunter13/ai-essay-grader/internal/adapter/ai/real"
	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/ai/stub"
	adapterobs "github.com/fairyhunter13/ai-essay-grader/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-essay-grader/internal/config"
	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	"github.com/fairyhunter13/ai-essay-grader/internal/observability"
	"github.com/fairyhunter13/ai-essay-grader/internal/rag"
	"github.com/fairyhunter13/ai-essay-grader/internal/scoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := adapterobs.SetupLogger(cfg)
	slog.SetDefault(logger)
	adapterobs.InitMetrics()
	observability.RegisterBreakerMetrics()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := adapterobs.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	resRepo := postgres.NewResultRepo(pool)
	corpusRepo := postgres.NewCorpusRepo(pool)

	inferenceBreaker := observability.NewCircuitBreaker("inference",
		cfg.InferenceBreakerFailures, cfg.InferenceBreakerReset, cfg.BreakerHalfOpenSuccesses)
	storageBreaker := observability.NewCircuitBreaker("storage",
		cfg.StorageBreakerFailures, cfg.StorageBreakerReset, cfg.BreakerHalfOpenSuccesses)

	var aicl domain.AIClient
	if cfg.AIAPIKey == "" && !cfg.IsProd() {
		slog.Warn("no AI API key configured, using stub client")
		aicl = stub.New()
	} else {
		aicl = realai.New(cfg, inferenceBreaker)
	}
	aicl = aiadapter.NewEmbedCache(aicl, cfg.EmbedCacheSize, cfg.EmbedCacheTTL)

	retriever := rag.NewRetriever(corpusRepo, aicl, rag.Options{
		TopK:            cfg.RetrievalTopK,
		MinSimilarity:   cfg.RetrievalMinSimilarity,
		FallbackLimit:   cfg.RetrievalFallbackLimit,
		CorpusScanLimit: cfg.CorpusScanLimit,
	})
	composer := aiadapter.NewComposer(cfg.ActiveModel, cfg.PromptTokenLimit)
	window := scoring.NewDistributionWindow(cfg.DistributionWindow, cfg.TopBandWarnThreshold)
	cal := scoring.NewCalibrator(scoring.Thresholds{
		RelevanceFullCredit:    cfg.RelevanceFullCredit,
		RelevancePartial:       cfg.RelevancePartial,
		RelevanceMinimal:       cfg.RelevanceMinimal,
		OffTopicOverallCap:     cfg.OffTopicOverallCap,
		PartialTopicOverallCap: cfg.PartialTopicOverallCap,
		WordCountMin:           cfg.WordCountMin,
		WordCountMax:           cfg.WordCountMax,
	}, window)

	handler := redpanda.NewScoringHandler(jobRepo, resRepo, corpusRepo, aicl,
		retriever, composer, cal, storageBreaker, redpanda.ScoringHandlerConfig{
			ModelID:            cfg.ActiveModel,
			ChatMaxTokens:      cfg.ChatMaxTokens,
			JobTimeout:         cfg.JobTimeout,
			MinErrors:          cfg.MinHighlightedErrors,
			CoverageTarget:     cfg.ErrorCoverageTarget,
			PromotionThreshold: cfg.PromotionScoreThreshold,
		})

	dlq, err := redpanda.NewDLQProducer(cfg.KafkaBrokers, cfg.ScoreDLQTopic)
	if err != nil {
		slog.Error("dlq producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = dlq.Close() }()

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, cfg.ScoreTopic,
		handler, dlq, cfg.ConsumerConcurrency, cfg.JobMaxDeliveries)
	if err != nil {
		slog.Error("consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = consumer.Close() }()

	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker shut down")
}
