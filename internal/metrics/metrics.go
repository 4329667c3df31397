// Package metrics exposes the engine's Prometheus instrumentation: a
// single registry wired at the composition root. The engine session
// records equity, drawdown, entry orders and per-task durations; no
// caller outside this package updates the exit or KV hit/miss collectors.
//
// Nothing in this package decides policy — it only counts and measures
// what already happened elsewhere.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the engine reports, backed by its own
// prometheus.Registry so a single process can run more than one engine
// session (e.g. in tests) without collector name collisions.
type Registry struct {
	registry *prometheus.Registry

	Drawdown        prometheus.Gauge
	SessionEquity   prometheus.Gauge
	ExitsTotal      *prometheus.CounterVec
	OrdersTotal     *prometheus.CounterVec
	KVHits          prometheus.Counter
	KVMisses        prometheus.Counter
	TaskDuration     *prometheus.HistogramVec
	CircuitBreakerTrips prometheus.Counter
}

// New creates a Registry with every collector registered against a fresh
// prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scalper",
			Name:      "drawdown_rupees",
			Help:      "Current session drawdown from peak equity, in rupees.",
		}),
		SessionEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scalper",
			Name:      "session_equity_rupees",
			Help:      "Current total equity (available + used + open P&L), in rupees.",
		}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scalper",
			Name:      "exits_total",
			Help:      "Forced position exits, partitioned by reason (take_profit, stop_loss, time_stop, trailing_stop, daily_loss_cap).",
		}, []string{"reason"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scalper",
			Name:      "orders_total",
			Help:      "Orders placed, partitioned by side and outcome.",
		}, []string{"side", "status"}),
		KVHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scalper",
			Name:      "kv_cache_hits_total",
			Help:      "Tick cache hits served from the in-process hot cache or KV store, without falling through to the broker.",
		}),
		KVMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scalper",
			Name:      "kv_cache_misses_total",
			Help:      "Tick cache misses that required (or failed) a fallback fetch.",
		}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scalper",
			Name:      "scheduler_task_duration_seconds",
			Help:      "Wall-clock duration of each scheduler task run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		CircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scalper",
			Name:      "circuit_breaker_trips_total",
			Help:      "Times the circuit breaker has tripped, halting new entries.",
		}),
	}

	reg.MustRegister(
		r.Drawdown,
		r.SessionEquity,
		r.ExitsTotal,
		r.OrdersTotal,
		r.KVHits,
		r.KVMisses,
		r.TaskDuration,
		r.CircuitBreakerTrips,
	)

	return r
}

// Handler returns an http.Handler serving this registry's metrics in the
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordExit increments the exit counter for reason.
func (r *Registry) RecordExit(reason string) {
	r.ExitsTotal.WithLabelValues(reason).Inc()
}

// RecordOrder increments the order counter for (side, status).
func (r *Registry) RecordOrder(side, status string) {
	r.OrdersTotal.WithLabelValues(side, status).Inc()
}

// RecordTaskDuration observes a task's run duration in seconds.
func (r *Registry) RecordTaskDuration(task string, seconds float64) {
	r.TaskDuration.WithLabelValues(task).Observe(seconds)
}
