package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type", "outcome"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)

	OverallScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scoring_overall_score",
			Help:    "Distribution of calibrated overall scores ([0,90])",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90},
		},
	)
	DistributionWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scoring_distribution_warnings_total",
			Help: "Population-level score skew warnings emitted by the calibrator",
		},
	)
	PartialRecoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scoring_partial_recoveries_total",
			Help: "Model responses salvaged by partial recovery",
		},
	)
	FallbackResultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scoring_fallback_results_total",
			Help: "Jobs completed with a zero-score fallback result",
		},
	)
)

// InitMetrics registers all collectors on the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(OverallScoreHistogram)
	prometheus.MustRegister(DistributionWarningsTotal)
	prometheus.MustRegister(PartialRecoveriesTotal)
	prometheus.MustRegister(FallbackResultsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueJob(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func StartProcessingJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Inc()
}

func CompleteJob(jobType, outcome string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType, outcome).Inc()
}

func FailJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}

// ObserveOverallScore records a calibrated score for monitoring.
func ObserveOverallScore(score int) {
	if score >= 0 && score <= 90 {
		OverallScoreHistogram.Observe(float64(score))
	}
}
