package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "riskmap"

// Metrics holds the Prometheus counters, histograms and gauges of the risk
// pipeline.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec // labels: status={complete,failed}
	RunsActive   prometheus.Gauge
	RunDuration  prometheus.Histogram
	PhaseSeconds *prometheus.HistogramVec // labels: phase
	PhaseErrors  *prometheus.CounterVec   // labels: phase

	// Data metrics.
	LayerPixels  *prometheus.GaugeVec // labels: layer, kind={valid,nodata}
	RiskMean     prometheus.Gauge
	OutputsTotal *prometheus.CounterVec // labels: kind={geotiff,png,xlsx}
	LookupsTotal *prometheus.CounterVec // labels: outcome={hit,out_of_bounds,error}
	AlertsTotal  *prometheus.CounterVec // labels: type
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final status.",
		}, []string{"status"}),
		RunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of pipeline runs in progress.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete pipeline run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		PhaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of each pipeline phase.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"phase"}),
		PhaseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_errors_total",
			Help:      "Failed pipeline phases.",
		}, []string{"phase"}),
		LayerPixels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "layer_pixels",
			Help:      "Pixels of each aligned layer in the last run by validity.",
		}, []string{"layer", "kind"}),
		RiskMean: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_mean",
			Help:      "Mean composite risk of the last run.",
		}),
		OutputsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outputs_total",
			Help:      "Exported files by kind.",
		}, []string{"kind"}),
		LookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Coordinate lookups served by outcome.",
		}, []string{"outcome"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts triggered by type.",
		}, []string{"type"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RunsTotal,
		m.RunsActive,
		m.RunDuration,
		m.PhaseSeconds,
		m.PhaseErrors,
		m.LayerPixels,
		m.RiskMean,
		m.OutputsTotal,
		m.LookupsTotal,
		m.AlertsTotal,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsWithRegistry creates metrics registered on reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
