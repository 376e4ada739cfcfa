// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"CreatorScanner/internal/domain"
)

const namespace = "creator_scanner"

// Media store outcomes.
const (
	OutcomeStored       = "stored"
	OutcomeDeduplicated = "deduplicated"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	ItemsDiscovered *prometheus.CounterVec
	Attempts        *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	MediaStores     *prometheus.CounterVec
	SourceRuns      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		ItemsDiscovered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_discovered_total",
			Help:      "Items created by the discovery phase.",
		}, []string{"platform"}),
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_attempts_total",
			Help:      "Processing attempts per phase.",
		}, []string{"phase"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_failures_total",
			Help:      "Failed processing attempts per phase.",
		}, []string{"phase"}),
		MediaStores: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_stores_total",
			Help:      "Media store calls by outcome.",
		}, []string{"outcome"}),
		SourceRuns: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_run_seconds",
			Help:      "Duration of one pipeline pass over a source.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"platform", "status"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Attempt counts one attempt of phase and, when failed, one failure.
func (m *Metrics) Attempt(phase domain.Phase, failed bool) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(string(phase)).Inc()
	if failed {
		m.Failures.WithLabelValues(string(phase)).Inc()
	}
}

// Discovered counts n new items of a platform.
func (m *Metrics) Discovered(platform string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsDiscovered.WithLabelValues(platform).Add(float64(n))
}

// MediaStored counts one media store call. It matches media.WithObserver.
func (m *Metrics) MediaStored(deduplicated bool) {
	if m == nil {
		return
	}
	outcome := OutcomeStored
	if deduplicated {
		outcome = OutcomeDeduplicated
	}
	m.MediaStores.WithLabelValues(outcome).Inc()
}

// SourceRun records how long a source pass took.
func (m *Metrics) SourceRun(platform string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SourceRuns.WithLabelValues(platform, status).Observe(seconds)
}
