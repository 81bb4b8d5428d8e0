package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	breakerStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state by breaker name (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker"},
	)
	breakerShortCircuitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_short_circuits_total",
			Help: "Calls rejected without invoking the guarded operation",
		},
		[]string{"breaker"},
	)
)

// RegisterBreakerMetrics registers breaker metrics on the default registry.
// Safe to call once per process.
func RegisterBreakerMetrics() {
	prometheus.MustRegister(breakerStateGauge, breakerShortCircuitsTotal)
}

// RecordBreakerState records a breaker state transition.
func RecordBreakerState(name, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	breakerStateGauge.WithLabelValues(name).Set(v)
}

// RecordBreakerShortCircuit counts a fast-failed call.
func RecordBreakerShortCircuit(name string) {
	breakerShortCircuitsTotal.WithLabelValues(name).Inc()
}
