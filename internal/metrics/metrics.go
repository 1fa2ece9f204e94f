package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LearnPulse
type Metrics struct {
	// Ingestion metrics
	EventsIngested *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	IngestionLag   prometheus.Histogram

	// Derivation metrics
	PatternsDetected    *prometheus.CounterVec
	BreakthroughsScored prometheus.Histogram
	FocusRuns           *prometheus.CounterVec
	DerivationDuration  *prometheus.HistogramVec

	// Recommendation metrics
	RecommendationsGenerated *prometheus.CounterVec
	RecommendationsActive    prometheus.Gauge
	OutcomesRecorded         *prometheus.CounterVec
	BundlesBuilt             prometheus.Counter

	// Insight collaborator metrics
	InsightRequests  *prometheus.CounterVec
	InsightLatency   prometheus.Histogram
	InsightCacheHits prometheus.Counter

	// Scheduler metrics
	JobsQueued    prometheus.Gauge
	JobsCompleted *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// New creates and registers all Prometheus metrics. Safe to call more
// than once; the same set is returned.
func New() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			EventsIngested: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnpulse_events_ingested_total",
					Help: "Total number of events accepted into the log",
				},
				[]string{"tool", "kind"},
			),
			EventsRejected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnpulse_events_rejected_total",
					Help: "Total number of events rejected at ingestion",
				},
				[]string{"reason"},
			),
			IngestionLag: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "learnpulse_ingestion_lag_seconds",
					Help:    "Delay between event timestamp and ingestion",
					Buckets: prometheus.ExponentialBuckets(0.1, 4, 8), // 100ms to ~7h
				},
			),
			PatternsDetected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnpulse_patterns_detected_total",
					Help: "Total patterns detected by type",
				},
				[]string{"type"},
			),
			BreakthroughsScored: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "learnpulse_breakthrough_confidence",
					Help:    "Confidence distribution of detected breakthroughs",
					Buckets: prometheus.LinearBuckets(0, 0.1, 11),
				},
			),
			FocusRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnpulse_focus_runs_total",
					Help: "Focus synthesis runs by narrative usage",
				},
				[]string{"narrative"},
			),
			DerivationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "learnpulse_derivation_duration_seconds",
					Help:    "Duration of derivation stages",
					Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
				},
				[]string{"stage"},
			),
			RecommendationsGenerated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnpulse_recommendations_generated_total",
					Help: "Recommendations generated by type",
				},
				[]string{"type"},
			),
			RecommendationsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "learnpulse_recommendations_active",
					Help: "Currently active recommendations across users",
				},
			),
			OutcomesRecorded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnpulse_outcomes_recorded_total",
					Help: "Recorded outcomes by outcome type",
				},
				[]string{"type"},
			),
			BundlesBuilt: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "learnpulse_bundles_built_total",
					Help: "Activity bundles assembled",
				},
			),
			InsightRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnpulse_insight_requests_total",
					Help: "Insight collaborator requests by result",
				},
				[]string{"result"},
			),
			InsightLatency: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "learnpulse_insight_latency_seconds",
					Help:    "Insight collaborator request latency",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
				},
			),
			InsightCacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "learnpulse_insight_cache_hits_total",
					Help: "Insight responses served from the content-hash cache",
				},
			),
			JobsQueued: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "learnpulse_scheduler_jobs_queued",
					Help: "Jobs currently waiting in the scheduler queue",
				},
			),
			JobsCompleted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnpulse_scheduler_jobs_completed_total",
					Help: "Scheduler jobs completed by result",
				},
				[]string{"result"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnpulse_http_requests_total",
					Help: "HTTP requests by route and status",
				},
				[]string{"route", "method", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "learnpulse_http_request_duration_seconds",
					Help:    "HTTP request duration by route",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"route", "method"},
			),
		}
	})
	return sharedMetrics
}
