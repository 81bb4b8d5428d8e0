// Package observability provides logging, metrics, and tracing setup.
package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/ai-essay-grader/internal/config"
)

// SetupLogger builds the process logger: JSON in prod so the log pipeline
// can index it, text in dev for readability. Every record carries the
// service name and environment.
func SetupLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.IsProd() {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
