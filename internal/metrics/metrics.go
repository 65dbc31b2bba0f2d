package metrics

//
// Metrics definitions shared by the ETL and the API binaries
//

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Period outcome labels for PeriodsProcessed.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailure = "failure"
)

var (
	// PeriodsProcessed counts period attempts by outcome.
	PeriodsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bpc_periods_processed_total",
		Help: "Total number of periods attempted, by outcome",
	}, []string{"status"})

	// FetchFailures counts periods whose fetch returned no data.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bpc_fetch_failures_total",
		Help: "Total number of failed portal fetches, by reason",
	}, []string{"reason"})

	// DownloadRetries counts retried portal requests.
	DownloadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bpc_download_retries_total",
		Help: "Total number of retried portal download attempts",
	})

	// DownloadDurationSeconds summarizes how long a full period download takes.
	DownloadDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bpc_download_duration_seconds",
		Help:    "Time to download one period archive (in seconds)",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// BreakerOpen is 1 while the portal circuit breaker is open.
	BreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bpc_portal_breaker_open",
		Help: "Whether the portal circuit breaker is currently open",
	})

	// RowsRejected counts raw rows dropped by the anonymizer, by reason.
	RowsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bpc_rows_rejected_total",
		Help: "Total number of raw rows dropped during normalisation",
	}, []string{"reason"})

	// SchemaDrift counts periods processed with a positional unique-count fallback.
	SchemaDrift = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bpc_schema_drift_total",
		Help: "Total number of periods missing the beneficiary column",
	})

	// InconsistentAggregates gauges the rows labelled INCONSISTENT by the last run.
	InconsistentAggregates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bpc_inconsistent_aggregates",
		Help: "Aggregates labelled INCONSISTENT after the last labelling pass",
	})

	// CheckpointPeriod exposes the checkpoint as YYYYMM.
	CheckpointPeriod = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bpc_checkpoint_period",
		Help: "Last period incorporated into the consolidated store (YYYYMM)",
	})

	// RunDurationSeconds summarizes controller invocations.
	RunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bpc_run_duration_seconds",
		Help:    "Time to complete one pipeline invocation (in seconds)",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// HeapAllocBytes and Goroutines are sampled by the ETL memory monitor.
	HeapAllocBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bpc_etl_heap_alloc_bytes",
		Help: "Heap bytes allocated, sampled during a run",
	})
	Goroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bpc_etl_goroutines",
		Help: "Number of goroutines, sampled during a run",
	})

	// APIRequests counts API requests by route and status code.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bpc_api_requests_total",
		Help: "Total number of API requests served",
	}, []string{"route", "code"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
