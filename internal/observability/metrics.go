package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the full-text retrieval
// service. Metrics are organized by subsystem: attempts, retrievals, retry
// queue, and batches. All counters and histograms are registered via
// promauto with the registry passed to NewMetrics.
type Metrics struct {
	// AttemptsTotal counts recorded attempts, labeled by provider and outcome.
	AttemptsTotal *prometheus.CounterVec

	// FetchDuration observes fetch duration in seconds, labeled by provider.
	FetchDuration *prometheus.HistogramVec

	// FetchBytes observes retrieved document sizes in bytes, labeled by provider.
	FetchBytes *prometheus.HistogramVec

	// RetrievalsStarted counts identifier retrievals initiated.
	RetrievalsStarted prometheus.Counter

	// RetrievalsSucceeded counts retrievals that ended in success, labeled by provider.
	RetrievalsSucceeded *prometheus.CounterVec

	// RetrievalsExhausted counts retrievals where every candidate failed, labeled by final category.
	RetrievalsExhausted *prometheus.CounterVec

	// RetrievalsShortCircuited counts retrievals satisfied by an existing artifact.
	RetrievalsShortCircuited prometheus.Counter

	// ProvidersTried observes how many providers were tried per retrieval.
	ProvidersTried prometheus.Histogram

	// RetryQueueDepth gauges the number of pending retry entries.
	RetryQueueDepth prometheus.Gauge

	// RetriesScheduled counts retry entries created or advanced, labeled by category.
	RetriesScheduled *prometheus.CounterVec

	// RetriesExhausted counts identifiers demoted to manual intervention.
	RetriesExhausted prometheus.Counter

	// BatchesStarted counts batch runs initiated.
	BatchesStarted prometheus.Counter

	// BatchIdentifiers counts identifiers processed in batches, labeled by result.
	BatchIdentifiers *prometheus.CounterVec

	// BatchDuration observes end-to-end batch duration in seconds.
	BatchDuration prometheus.Histogram
}

// NewMetrics creates a Metrics instance registered against reg. The
// namespace is used as a prefix for all metric names. Passing a dedicated
// registry keeps independent service instances (and tests) from colliding
// on the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total number of retrieval attempts recorded in the ledger",
		}, []string{"provider", "outcome"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of provider fetches in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		FetchBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_bytes",
			Help:      "Size of retrieved documents in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"provider"}),
		RetrievalsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_started_total",
			Help:      "Total number of identifier retrievals started",
		}),
		RetrievalsSucceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_succeeded_total",
			Help:      "Total number of retrievals that ended in success",
		}, []string{"provider"}),
		RetrievalsExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_exhausted_total",
			Help:      "Total number of retrievals where every candidate provider failed",
		}, []string{"category"}),
		RetrievalsShortCircuited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_short_circuited_total",
			Help:      "Total number of retrievals satisfied by an existing artifact",
		}),
		ProvidersTried: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "providers_tried_per_retrieval",
			Help:      "Number of providers tried per retrieval",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),
		RetryQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_depth",
			Help:      "Number of pending entries in the retry queue",
		}),
		RetriesScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Total number of retry entries created or advanced",
		}, []string{"category"}),
		RetriesExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_exhausted_total",
			Help:      "Total number of identifiers demoted to manual intervention",
		}),
		BatchesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_started_total",
			Help:      "Total number of batch runs started",
		}),
		BatchIdentifiers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_identifiers_total",
			Help:      "Total number of identifiers processed in batches",
		}, []string{"result"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "End-to-end duration of batch runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		}),
	}
}
