package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "turpe_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	runTotal   *prometheus.CounterVec
	runLatency *prometheus.HistogramVec

	contractsProcessed prometheus.Counter
	contractFailures   *prometheus.CounterVec
	dataQualityFlags   *prometheus.CounterVec

	recordsWritten prometheus.Counter

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
)

// Init registers billing metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		runTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "billing_runs_total",
				Help: "Total billing pipeline runs by result",
			},
			[]string{"result"},
		)
		runLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "billing_run_latency_seconds",
				Help:    "Billing pipeline run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		contractsProcessed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "contracts_processed_total",
				Help: "Total contracts processed by the pipeline",
			},
		)
		contractFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "contract_failures_total",
				Help: "Total contracts rejected by failure kind",
			},
			[]string{"kind"},
		)
		dataQualityFlags = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "data_quality_flags_total",
				Help: "Total data-quality flags raised by kind",
			},
			[]string{"kind"},
		)

		recordsWritten = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "monthly_records_written_total",
				Help: "Total monthly billing records persisted",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total monthly record exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Monthly record export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total API requests by route and status class",
			},
			[]string{"route", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_latency_seconds",
				Help:    "API request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)

		prometheus.MustRegister(
			runTotal,
			runLatency,
			contractsProcessed,
			contractFailures,
			dataQualityFlags,
			recordsWritten,
			exportTotal,
			exportLatency,
			httpRequests,
			httpLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveRun records pipeline run duration and result.
func ObserveRun(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if runTotal != nil {
		runTotal.WithLabelValues(result).Inc()
	}
	if runLatency != nil {
		runLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddContractsProcessed increments the processed contracts counter.
func AddContractsProcessed(n int) {
	if contractsProcessed != nil && n > 0 {
		contractsProcessed.Add(float64(n))
	}
}

// IncContractFailure increments rejected contracts by kind.
func IncContractFailure(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if contractFailures != nil {
		contractFailures.WithLabelValues(kind).Inc()
	}
}

// IncDataQuality increments data-quality flags by kind.
func IncDataQuality(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if dataQualityFlags != nil {
		dataQualityFlags.WithLabelValues(kind).Inc()
	}
}

// AddRecordsWritten increments persisted records.
func AddRecordsWritten(n int) {
	if recordsWritten != nil && n > 0 {
		recordsWritten.Add(float64(n))
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveHTTP records an API request.
func ObserveHTTP(route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	class := "5xx"
	switch {
	case status < 300:
		class = "2xx"
	case status < 400:
		class = "3xx"
	case status < 500:
		class = "4xx"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(route, class).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(route).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
