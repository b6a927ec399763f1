package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// alert engine.
type Metrics struct {
	SweepsTotal   prometheus.Counter
	SweepFailures prometheus.Counter
	SweepDuration prometheus.Histogram
	SweepRunning  prometheus.Gauge

	// Per-(user, reach) evaluation metrics.
	EvaluationsTotal   prometheus.Counter
	EvaluationsSkipped prometheus.Counter
	ItemErrors         prometheus.Counter
	CooldownSuppressed prometheus.Counter

	// Return-period cache metrics.
	CacheLookups       *prometheus.CounterVec // labels: result={fresh,stale,miss,none}
	CacheFetchDuration prometheus.Histogram

	// Delivery metrics.
	DeliveriesTotal *prometheus.CounterVec // labels: channel={push,sms,email}, outcome={success,error}
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.SweepsTotal,
		m.SweepFailures,
		m.SweepDuration,
		m.SweepRunning,
		m.EvaluationsTotal,
		m.EvaluationsSkipped,
		m.ItemErrors,
		m.CooldownSuppressed,
		m.CacheLookups,
		m.CacheFetchDuration,
		m.DeliveriesTotal,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests
// can construct as many instances as they like without "already registered"
// panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow_alert",
			Name:      "sweeps_total",
			Help:      "Total evaluation sweeps started.",
		}),
		SweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow_alert",
			Name:      "sweep_failures_total",
			Help:      "Sweeps aborted before evaluating any items (user store or gateway failure).",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flow_alert",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a complete evaluation sweep.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		SweepRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flow_alert",
			Name:      "sweep_running",
			Help:      "1 while a sweep is in progress.",
		}),
		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow_alert",
			Name:      "evaluations_total",
			Help:      "Total (user, reach) evaluations attempted.",
		}),
		EvaluationsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow_alert",
			Name:      "evaluations_skipped_total",
			Help:      "Evaluations skipped because no forecast or threshold data was available.",
		}),
		ItemErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow_alert",
			Name:      "item_errors_total",
			Help:      "Per-item failures caught and isolated during a sweep.",
		}),
		CooldownSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow_alert",
			Name:      "cooldown_suppressed_total",
			Help:      "Alerts suppressed because the same category was sent within the cool-down window.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow_alert",
			Name:      "return_period_cache_lookups_total",
			Help:      "Return-period cache lookups by result.",
		}, []string{"result"}),
		CacheFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flow_alert",
			Name:      "return_period_fetch_duration_seconds",
			Help:      "Upstream return-period fetch duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow_alert",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
	}
}
