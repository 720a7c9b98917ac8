package process

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exports process manager activity as Prometheus
// collectors, namespaced "conductor":
//
//  1. active_processes (gauge): processes currently tracked and alive.
//  2. processes_spawned_total (counter): successful spawns over the
//     manager's lifetime.
//  3. processes_terminated_total (counter): observed process exits.
//  4. process_lifetime_ms (histogram): wall-clock lifetime of exited
//     processes, buckets 10ms to 10m.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := process.NewPrometheusMetrics(registry)
//	manager := process.NewManager(process.Options{Metrics: metrics})
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe; collectors handle concurrent updates internally.
type PrometheusMetrics struct {
	active     prometheus.Gauge
	spawned    prometheus.Counter
	terminated prometheus.Counter
	lifetime   prometheus.Histogram
}

// NewPrometheusMetrics creates and registers the process metrics with the
// given registry. A nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &PrometheusMetrics{
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "conductor",
			Name:      "active_processes",
			Help:      "Number of spawned agent processes currently running",
		}),
		spawned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "processes_spawned_total",
			Help:      "Cumulative count of successfully spawned agent processes",
		}),
		terminated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "processes_terminated_total",
			Help:      "Cumulative count of agent process exits, voluntary or signalled",
		}),
		lifetime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conductor",
			Name:      "process_lifetime_ms",
			Help:      "Wall-clock lifetime of exited agent processes in milliseconds",
			Buckets:   []float64{10, 100, 500, 1000, 5000, 30000, 60000, 300000, 600000},
		}),
	}
}

func (pm *PrometheusMetrics) processSpawned() {
	pm.active.Inc()
	pm.spawned.Inc()
}

func (pm *PrometheusMetrics) processExited(lifetime time.Duration) {
	pm.active.Dec()
	pm.terminated.Inc()
	pm.lifetime.Observe(float64(lifetime.Milliseconds()))
}
