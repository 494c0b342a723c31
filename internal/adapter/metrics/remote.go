package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RemoteMetrics holds Prometheus metrics for calls to external services and Redis.
type RemoteMetrics struct {
	RequestDuration     *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
	RedisOps            *prometheus.CounterVec
	RedisOpDuration     *prometheus.HistogramVec
}

// NewRemoteMetrics creates and registers remote call metrics on the given registry.
func NewRemoteMetrics(reg prometheus.Registerer) *RemoteMetrics {
	m := &RemoteMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Duration of calls to external services, by service, operation and result.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"service", "operation", "result"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open), by component.",
		}, []string{"component"}),
		CircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state_changes_total",
			Help:      "Total number of circuit breaker state changes, by component and new state.",
		}, []string{"component", "state"}),
		RedisOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operations_total",
			Help:      "Total number of Redis commands, by command and status.",
		}, []string{"operation", "status"}),
		RedisOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis commands in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"operation"}),
	}

	reg.MustRegister(m.RequestDuration, m.CircuitBreakerState, m.CircuitBreakerTrips, m.RedisOps, m.RedisOpDuration)
	return m
}

func (m *RemoteMetrics) ObserveRequest(service, operation string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RequestDuration.WithLabelValues(service, operation, result).Observe(d.Seconds())
}

// BreakerStateChanged records a transition. state is 0 (closed), 1 (half-open) or 2 (open).
func (m *RemoteMetrics) BreakerStateChanged(component, stateName string, state float64) {
	m.CircuitBreakerTrips.WithLabelValues(component, stateName).Inc()
	m.CircuitBreakerState.WithLabelValues(component).Set(state)
}

func (m *RemoteMetrics) RedisCommand(operation string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RedisOps.WithLabelValues(operation, status).Inc()
	m.RedisOpDuration.WithLabelValues(operation).Observe(d.Seconds())
}
