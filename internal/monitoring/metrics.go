// Package monitoring exposes ingestion run metrics and the last-run health
// snapshot served by the read API.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wildfire"

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion runs.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec // labels: outcome={complete,partial,failed}
	CentersDiscovered  prometheus.Gauge
	ExtractionAttempts *prometheus.CounterVec // labels: strategy, outcome={complete,incomplete,error}
	IncidentsUpserted  prometheus.Counter
	CenterFetchSeconds prometheus.Histogram
	StoreErrors        prometheus.Counter
	RunInProgress      prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs by outcome.",
		}, []string{"outcome"}),
		CentersDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "centers_discovered",
			Help:      "Dispatch centers found by the most recent directory resolution.",
		}),
		ExtractionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_attempts_total",
			Help:      "Per-center extraction attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		IncidentsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_upserted_total",
			Help:      "Incidents written to the store.",
		}),
		CenterFetchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "center_fetch_duration_seconds",
			Help:      "Wall time to fetch one center, retries included.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed store writes.",
		}),
		RunInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while an ingestion run is active, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RunsTotal,
		m.CentersDiscovered,
		m.ExtractionAttempts,
		m.IncidentsUpserted,
		m.CenterFetchSeconds,
		m.StoreErrors,
		m.RunInProgress,
	}
}

// NewMetrics creates all ingestion metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics on a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}
