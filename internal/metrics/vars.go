package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OpportunitiesDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kalshibot_opportunities_detected_total",
		Help: "Opportunities that passed the profit threshold, by relation kind",
	}, []string{"relation"})

	OpportunitiesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kalshibot_opportunities_dropped_total",
		Help: "Opportunities dropped before execution, by reason (queue_full, superseded, stale)",
	}, []string{"reason"})

	FeedResyncs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kalshibot_feed_resyncs_total",
		Help: "Snapshot resyncs triggered by sequence gaps or reconnects",
	})

	RiskDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kalshibot_risk_denials_total",
		Help: "Opportunities denied by the risk gate, by failed check",
	}, []string{"check"})

	ExecutionOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kalshibot_execution_outcomes_total",
		Help: "Terminal execution attempt states",
	}, []string{"state"})

	UnwindRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kalshibot_unwind_retries_total",
		Help: "Retries of compensating unwind orders",
	})

	BooksLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalshibot_books_live",
		Help: "Number of orderbooks currently in the live state",
	})

	DetectionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kalshibot_detection_latency_seconds",
		Help:    "Time from book change to opportunity evaluation",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		OpportunitiesDetected,
		OpportunitiesDropped,
		FeedResyncs,
		RiskDenials,
		ExecutionOutcomes,
		UnwindRetries,
		BooksLive,
		DetectionLatency,
	)
}
