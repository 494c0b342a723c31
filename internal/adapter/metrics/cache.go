package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics holds Prometheus metrics for split registry cache performance.
type CacheMetrics struct {
	Hits   *prometheus.CounterVec
	Misses *prometheus.CounterVec
}

// NewCacheMetrics creates and registers cache metrics on the given registry.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry_cache",
			Name:      "hits_total",
			Help:      "Total number of split registry cache hits, by layer.",
		}, []string{"layer"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry_cache",
			Name:      "misses_total",
			Help:      "Total number of split registry cache misses, by layer.",
		}, []string{"layer"}),
	}

	reg.MustRegister(m.Hits, m.Misses)
	return m
}

func (m *CacheMetrics) Hit(layer string)  { m.Hits.WithLabelValues(layer).Inc() }
func (m *CacheMetrics) Miss(layer string) { m.Misses.WithLabelValues(layer).Inc() }
