package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides application metrics collection
type Collector struct {
	registry *prometheus.Registry

	// Remote API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration prometheus.Histogram

	// Record metrics
	RecordsExtractedTotal prometheus.Counter
	RecordsAcceptedTotal  prometheus.Counter
	RecordsRejectedTotal  *prometheus.CounterVec

	// Pipeline metrics
	LocationsTotal   *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	StageDurationMS  *prometheus.HistogramVec

	// Sink metrics
	ArtifactsWrittenTotal *prometheus.CounterVec
	RowsWrittenTotal      *prometheus.CounterVec
	SinkErrorsTotal       *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBErrorsTotal   *prometheus.CounterVec

	// Status server metrics
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewCollector creates a new metrics collector on its own registry
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of air pollution history requests by status",
			},
			[]string{"status"}, // 2xx, 4xx, 5xx, transport, decode
		),

		APIRequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Air pollution history request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
		),

		RecordsExtractedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_extracted_total",
				Help:      "Total number of raw records returned by the API",
			},
		),

		RecordsAcceptedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_accepted_total",
				Help:      "Total number of records that passed validation",
			},
		),

		RecordsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_rejected_total",
				Help:      "Total number of rejected records by reason",
			},
			[]string{"reason"},
		),

		LocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "locations_processed_total",
				Help:      "Total number of locations processed by outcome",
			},
			[]string{"outcome"}, // done, no_data, no_valid_data, load_failed
		),

		PipelineDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Duration of a full run over all locations in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),

		StageDurationMS: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_milliseconds",
				Help:      "Per-location stage duration in milliseconds",
				Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
			},
			[]string{"stage"}, // extract, transform, load
		),

		ArtifactsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_written_total",
				Help:      "Total number of tables persisted by sink",
			},
			[]string{"sink"},
		),

		RowsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_written_total",
				Help:      "Total number of rows persisted by sink",
			},
			[]string{"sink"},
		),

		SinkErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_errors_total",
				Help:      "Total number of sink write failures by sink",
			},
			[]string{"sink"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Status server requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),
	}
}

// Handler exposes the collector's registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
	scale    float64
}

// NewTimer creates a timer reporting seconds
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{start: time.Now(), observer: histogram, scale: 1}
}

// NewStageTimer creates a timer reporting milliseconds for one pipeline stage
func (c *Collector) NewStageTimer(stage string) *Timer {
	return &Timer{start: time.Now(), observer: c.StageDurationMS.WithLabelValues(stage), scale: 1000}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds() * t.scale)
	}
	return duration
}

// RecordAPIRequest increments the API request counter for a status class
func (c *Collector) RecordAPIRequest(status string) {
	c.APIRequestsTotal.WithLabelValues(status).Inc()
}

// RecordReject increments the reject counter
func (c *Collector) RecordReject(reason string) {
	c.RecordsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordLocation increments the per-outcome location counter
func (c *Collector) RecordLocation(outcome string) {
	c.LocationsTotal.WithLabelValues(outcome).Inc()
}

// RecordWrite counts one persisted table and its rows
func (c *Collector) RecordWrite(sink string, rows int) {
	c.ArtifactsWrittenTotal.WithLabelValues(sink).Inc()
	c.RowsWrittenTotal.WithLabelValues(sink).Add(float64(rows))
}

// RecordSinkError increments the sink error counter
func (c *Collector) RecordSinkError(sink string) {
	c.SinkErrorsTotal.WithLabelValues(sink).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordHTTPRequest increments the status server request counter
func (c *Collector) RecordHTTPRequest(endpoint, method, status string) {
	c.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// StatusClass buckets an HTTP status code into 2xx/3xx/4xx/5xx
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
