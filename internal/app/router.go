// Package app wires the HTTP router, readiness probes, and process
// lifecycle for the server and worker binaries.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	httpserver "github.com/fairyhunter13/ai-essay-grader/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-grader/internal/config"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces.
// Empty input means all origins.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Mutating endpoints get a per-IP limit on top of the per-user token
	// bucket inside the submit handler.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/v1/essays", srv.SubmitHandler())
	})
	r.Get("/v1/results/{id}", srv.ResultHandler())

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(otelhttp.NewHandler(r, "http.server"))
}
