package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wastewater_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion
// runs and the read API.
type Metrics struct {
	// Upstream feature-service metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: endpoint={metadata,query,export}, outcome={success,error}
	UpstreamDuration *prometheus.HistogramVec // labels: endpoint

	// Fetch and load metrics.
	RecordsFetched   *prometheus.GaugeVec   // labels: format={json,csv}
	SnapshotsWritten *prometheus.CounterVec // labels: format, complete={true,false}
	RowsLoaded       prometheus.Gauge
	RowsDropped      prometheus.Counter
	LoadDuration     prometheus.Histogram

	// Run metrics.
	Runs                *prometheus.CounterVec // labels: outcome
	LastRunTimestamp    prometheus.Gauge
	LastUpdateTimestamp prometheus.Gauge

	// Read API metrics.
	APIRequests *prometheus.CounterVec // labels: route, status
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.RecordsFetched,
		m.SnapshotsWritten,
		m.RowsLoaded,
		m.RowsDropped,
		m.LoadDuration,
		m.Runs,
		m.LastRunTimestamp,
		m.LastUpdateTimestamp,
		m.APIRequests,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Feature-service requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Feature-service request duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"}),
		RecordsFetched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_fetched",
			Help:      "Records accumulated by the most recent fetch, by source format.",
		}, []string{"format"}),
		SnapshotsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_written_total",
			Help:      "Raw snapshots persisted, by format and completeness.",
		}, []string{"format", "complete"}),
		RowsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_loaded",
			Help:      "Rows inserted into the live table by the most recent load.",
		}),
		RowsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Upstream rows dropped during normalization for lack of a usable date.",
		}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Duration of the rotate-insert-convert store transaction.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Update runs by outcome.",
		}, []string{"outcome"}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the most recent update run finished.",
		}),
		LastUpdateTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix time the live table was last replaced.",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Read API requests by route and status code.",
		}, []string{"route", "status"}),
	}
}
