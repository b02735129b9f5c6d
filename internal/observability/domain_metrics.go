package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	askRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_ask_requests_total",
			Help: "Total number of ask requests by outcome.",
		},
		[]string{"outcome"},
	)
	translationLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querylens_translation_latency_ms",
			Help:    "Latency of calls to the query generation service in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
	)
	queryExecutionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querylens_query_execution_latency_ms",
			Help:    "Dataset query execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
	shortcutQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylens_shortcut_queries_total",
			Help: "Total number of questions answered without calling the generation service.",
		},
	)
	datasetLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_dataset_loads_total",
			Help: "Total number of file-to-table loads by status.",
		},
		[]string{"status"},
	)
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_auth_failures_total",
			Help: "Total number of rejected API credentials by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		askRequestsTotal,
		translationLatencyMs,
		queryExecutionLatencyMs,
		shortcutQueriesTotal,
		datasetLoadsTotal,
		authFailuresTotal,
	)
}

// ObserveAsk counts one finished ask request. outcome is "ok" or the error
// kind that ended it.
func ObserveAsk(outcome string) {
	askRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObserveTranslation(elapsed time.Duration) {
	translationLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveQueryExecution(elapsed time.Duration) {
	queryExecutionLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementShortcutQueries() {
	shortcutQueriesTotal.Inc()
}

func ObserveDatasetLoad(status string) {
	datasetLoadsTotal.WithLabelValues(status).Inc()
}

// ObserveAuthFailure counts one rejected request. reason is "missing",
// "unsupported_scheme" or "invalid".
func ObserveAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}
