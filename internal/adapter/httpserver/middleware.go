package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

type loggerKey struct{}

// LoggerFrom returns the request-scoped logger, or the default logger when
// the request never passed through RequestID.
func LoggerFrom(r *http.Request) *slog.Logger {
	if lg, ok := r.Context().Value(loggerKey{}).(*slog.Logger); ok {
		return lg
	}
	return slog.Default()
}

// RequestID assigns each request a ULID (honoring an inbound X-Request-Id)
// and stores a logger carrying the request and trace ids in the context.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-Id")
			if reqID == "" {
				reqID = ulid.Make().String()
				r.Header.Set("X-Request-Id", reqID)
			}
			span := trace.SpanContextFromContext(r.Context())
			lg := slog.Default().With(
				slog.String("request_id", reqID),
				slog.String("trace_id", span.TraceID().String()),
			)
			w.Header().Set("X-Request-Id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey{}, lg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recoverer converts handler panics into a plain 500.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					LoggerFrom(r).Error("panic recovered", slog.Any("recover", rec))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// TimeoutMiddleware bounds handler time; slow requests get a 503 body from
// http.TimeoutHandler.
func TimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, http.StatusText(http.StatusGatewayTimeout))
	}
}

var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Content-Security-Policy": "default-src 'none'",
	"Referrer-Policy":         "no-referrer",
}

// SecurityHeaders sets the strict headers a JSON-only API can afford.
// HSTS belongs at the TLS-terminating edge, not here.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// AccessLog emits one info record per request with the chi route pattern,
// so log labels line up with the Prometheus route label.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			LoggerFrom(r).Info("http request",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
