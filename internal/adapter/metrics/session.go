package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/testtrack-client/internal/analyticscookie"
)

// SessionMetrics holds Prometheus metrics for request sessions and task dispatch.
// It satisfies both session.Recorder and queue.Recorder.
type SessionMetrics struct {
	AnalyticsCookies *prometheus.CounterVec
	TasksScheduled   *prometheus.CounterVec
	TasksPushed      *prometheus.CounterVec
	BufferDepthGauge prometheus.Gauge
}

// NewSessionMetrics creates and registers session metrics on the given registry.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		AnalyticsCookies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "analytics_cookie_decodes_total",
			Help:      "Total number of analytics cookie reads, by outcome.",
		}, []string{"outcome"}),
		TasksScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "tasks_scheduled_total",
			Help:      "Total number of tasks scheduled by sessions, by kind and result.",
		}, []string{"kind", "result"}),
		TasksPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "tasks_pushed_total",
			Help:      "Total number of tasks pushed to the queue backend, by kind and result.",
		}, []string{"kind", "result"}),
		BufferDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "buffer_depth",
			Help:      "Number of tasks waiting to be pushed.",
		}),
	}

	reg.MustRegister(m.AnalyticsCookies, m.TasksScheduled, m.TasksPushed, m.BufferDepthGauge)
	return m
}

func (m *SessionMetrics) AnalyticsCookieDecoded(outcome analyticscookie.Outcome) {
	m.AnalyticsCookies.WithLabelValues(string(outcome)).Inc()
}

func (m *SessionMetrics) TaskScheduled(kind string) {
	m.TasksScheduled.WithLabelValues(kind, "ok").Inc()
}

func (m *SessionMetrics) TaskScheduleFailed(kind string) {
	m.TasksScheduled.WithLabelValues(kind, "error").Inc()
}

func (m *SessionMetrics) TaskPushed(kind string) {
	m.TasksPushed.WithLabelValues(kind, "ok").Inc()
}

func (m *SessionMetrics) TaskPushFailed(kind string) {
	m.TasksPushed.WithLabelValues(kind, "error").Inc()
}

func (m *SessionMetrics) BufferDepth(depth int) {
	m.BufferDepthGauge.Set(float64(depth))
}
