// Command server starts the essay grading HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/ai-essay-grader/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-essay-grader/internal/app"
	"github.com/fairyhunter13/ai-essay-grader/internal/config"
	"github.com/fairyhunter13/ai-essay-grader/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-essay-grader/internal/usecase"
)

// redisAdapter narrows *redis.Client to the readiness interface.
type redisAdapter struct{ *redis.Client }

func (r redisAdapter) Ping(ctx context.Context) app.RedisPingResult { return r.Client.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	resRepo := postgres.NewResultRepo(pool)

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers, cfg.ScoreTopic)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, ratelimiter.NewBucketConfigPerMinute(cfg.SubmitPerUserPerMin))

	submitSvc := usecase.NewSubmitService(jobRepo, producer)
	resultSvc := usecase.NewResultService(jobRepo, resRepo)

	dbCheck, redisCheck := app.BuildReadinessChecks(pool, redisAdapter{rdb})
	srv := httpserver.NewServer(cfg, submitSvc, resultSvc, limiter, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
