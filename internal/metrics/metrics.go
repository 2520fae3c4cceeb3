// Package metrics exposes reconciliation and publish counters in Prometheus
// format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for reconcile passes.
const (
	OutcomeApplied   = "applied"
	OutcomeUnchanged = "unchanged"
	OutcomeBlocked   = "blocked"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// Metrics holds the collectors for the reconciliation engine.
type Metrics struct {
	registry *prometheus.Registry

	ReconcilesTotal *prometheus.CounterVec
	PublishesTotal  prometheus.Counter
	PublishFailures prometheus.Counter
	ApplyDuration   prometheus.Histogram
	Routes          prometheus.Gauge
	Blocked         prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ReconcilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingress_reconciles_total",
			Help: "Reconciliation passes by outcome.",
		}, []string{"outcome"}),
		PublishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingress_publishes_total",
			Help: "Successful config publishes to the proxy.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingress_publish_failures_total",
			Help: "Failed config publishes to the proxy.",
		}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingress_apply_duration_seconds",
			Help:    "Time spent resolving and applying configuration.",
			Buckets: prometheus.DefBuckets,
		}),
		Routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingress_routes",
			Help: "Route rules in the currently applied configuration.",
		}),
		Blocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingress_blocked",
			Help: "1 when the engine is blocked and needs external correction.",
		}),
	}

	reg.MustRegister(
		m.ReconcilesTotal,
		m.PublishesTotal,
		m.PublishFailures,
		m.ApplyDuration,
		m.Routes,
		m.Blocked,
	)
	return m
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
