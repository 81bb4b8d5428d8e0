package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/fairyhunter13/ai-essay-grader/internal/config"
)

// SetupTracing wires the OTLP trace exporter when an endpoint is
// configured. The returned shutdown func is nil when tracing is disabled.
func SetupTracing(cfg config.Config) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		slog.Info("tracing disabled, no OTLP endpoint configured")
		return nil, nil
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("op=tracing.exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.OTELServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("op=tracing.resource: %w", err)
	}

	// Full sampling outside prod, 10% in prod.
	ratio := 1.0
	if cfg.IsProd() {
		ratio = 0.1
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	slog.Info("tracing configured",
		slog.String("endpoint", cfg.OTLPEndpoint),
		slog.Float64("sampling_ratio", ratio))
	return tp.Shutdown, nil
}
