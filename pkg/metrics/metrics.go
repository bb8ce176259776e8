package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the per-binary Prometheus series set. Construct it exactly
// once per process (promauto registers globally; a second New with the
// same namespace panics on duplicate registration).
type Metrics struct {
	// API metrics
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestSize     prometheus.Histogram
	HTTPResponseSize    prometheus.Histogram

	// Command lifecycle metrics
	CommandsAccepted   *prometheus.CounterVec
	CommandTransitions *prometheus.CounterVec
	CommandRetries     prometheus.Counter
	HandlerDuration    *prometheus.HistogramVec

	// Outbox metrics
	OutboxPublished      *prometheus.CounterVec
	OutboxPublishFailed  *prometheus.CounterVec
	OutboxClaimBatchSize prometheus.Histogram
	OutboxLag            prometheus.Gauge

	// Process metrics
	ProcessTransitions *prometheus.CounterVec

	// Cache metrics
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheSetDuration prometheus.Histogram
	CacheGetDuration prometheus.Histogram

	// Broker metrics
	EventsPublished         *prometheus.CounterVec
	EventsConsumed          *prometheus.CounterVec
	EventProcessingDuration *prometheus.HistogramVec
	EventLag                *prometheus.GaugeVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBConnections   *prometheus.GaugeVec

	// Stream (WebSocket) metrics
	WSConnections    prometheus.Gauge
	WSMessagesIn     prometheus.Counter
	WSMessagesOut    prometheus.Counter
	WSMessageDropped prometheus.Counter
}

func New(namespace string) *Metrics {
	return &Metrics{
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
		),
		HTTPResponseSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
		),
		CommandsAccepted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_accepted_total",
				Help:      "Commands durably accepted by the bus",
			},
			[]string{"command"},
		),
		CommandTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_transitions_total",
				Help:      "Command lifecycle transitions by resulting status",
			},
			[]string{"command", "status"},
		),
		CommandRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_retries_total",
				Help:      "Transient retries scheduled for commands",
			},
		),
		HandlerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_handler_duration_seconds",
				Help:      "Command handler execution duration",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 30, 60, 300},
			},
			[]string{"command"},
		),
		OutboxPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_published_total",
				Help:      "Outbox rows successfully published",
			},
			[]string{"category"},
		),
		OutboxPublishFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_publish_failed_total",
				Help:      "Outbox publish attempts that failed and were requeued",
			},
			[]string{"category"},
		),
		OutboxClaimBatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "outbox_claim_batch_size",
				Help:      "Rows claimed per relay sweep",
				Buckets:   []float64{0, 1, 10, 50, 100, 500, 1000, 2000},
			},
		),
		OutboxLag: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outbox_lag",
				Help:      "Unpublished outbox rows past due at last sweep",
			},
		),
		ProcessTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_transitions_total",
				Help:      "Process instance transitions by resulting status",
			},
			[]string{"process_type", "status"},
		),
		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total cache hits",
			},
		),
		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total cache misses",
			},
		),
		CacheSetDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_set_duration_seconds",
				Help:      "Cache SET operation duration",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1},
			},
		),
		CacheGetDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_get_duration_seconds",
				Help:      "Cache GET operation duration",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1},
			},
		),
		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total broker messages published",
			},
			[]string{"topic", "status"},
		),
		EventsConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_consumed_total",
				Help:      "Total broker messages consumed",
			},
			[]string{"topic", "status"},
		),
		EventProcessingDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_processing_duration_seconds",
				Help:      "Broker message processing duration",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 10},
			},
			[]string{"topic", "handler"},
		),
		EventLag: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_lag",
				Help:      "Current consumer group lag",
			},
			[]string{"topic", "partition"},
		),
		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Current database connections",
			},
			[]string{"type"},
		),
		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_connections",
				Help:      "Current stream subscriber connections",
			},
		),
		WSMessagesIn: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_messages_in_total",
				Help:      "Control frames received from stream subscribers",
			},
		),
		WSMessagesOut: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_messages_out_total",
				Help:      "Updates delivered to stream subscribers",
			},
		),
		WSMessageDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_messages_dropped_total",
				Help:      "Updates dropped due to subscriber backpressure",
			},
		),
	}
}

// ObserveHTTP records HTTP request metrics
func (m *Metrics) ObserveHTTP(method, endpoint, status string, duration time.Duration, reqSize, respSize int) {
	m.HTTPRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
	m.HTTPRequestTotal.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestSize.Observe(float64(reqSize))
	m.HTTPResponseSize.Observe(float64(respSize))
}
