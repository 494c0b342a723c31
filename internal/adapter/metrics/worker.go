package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics holds Prometheus metrics for the task worker.
type WorkerMetrics struct {
	TasksProcessed *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
}

// NewWorkerMetrics creates and registers worker metrics on the given registry.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	m := &WorkerMetrics{
		TasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tasks_processed_total",
			Help:      "Total number of tasks processed, by kind and result.",
		}, []string{"kind", "result"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Duration of task execution in seconds, by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	reg.MustRegister(m.TasksProcessed, m.TaskDuration)
	return m
}

// TaskProcessed records one execution. result is one of ok, retried, dead, skipped.
func (m *WorkerMetrics) TaskProcessed(kind, result string, d time.Duration) {
	m.TasksProcessed.WithLabelValues(kind, result).Inc()
	m.TaskDuration.WithLabelValues(kind).Observe(d.Seconds())
}
