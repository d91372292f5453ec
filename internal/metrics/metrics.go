package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "HTTP response size in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 5),
	}, []string{"method", "path"})

	// gRPC метрики
	GRPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests",
	}, []string{"method", "status"})

	GRPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grpc_request_duration_seconds",
		Help:    "gRPC request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})

	// DB метрики
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Database query duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	DBActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_active_connections",
		Help: "Number of active database connections",
	})

	DBIdleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_idle_connections",
		Help: "Number of idle database connections",
	})

	// метрики приёма показаний
	IngestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_requests_total",
		Help: "Ingestion requests by device type and result",
	}, []string{"device_type", "result"})

	// метрики outbox публикатора
	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Readings published to the broker by routing key",
	}, []string{"routing_key"})

	OutboxFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_failures_total",
		Help: "Outbox failures by stage (encode, publish, mark)",
	}, []string{"stage"})

	OutboxCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_cycle_duration_seconds",
		Help:    "Duration of one outbox polling cycle",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	})

	OutboxBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_size",
		Help:    "Number of pending readings fetched per cycle",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	// метрики консьюмера
	ConsumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_total",
		Help: "Delivered messages by queue and outcome",
	}, []string{"queue", "outcome"})

	ConsumerHandleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_handle_duration_seconds",
		Help:    "Time to handle one delivery up to ack or nack",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"queue"})

	ConsumerInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "consumer_in_flight",
		Help: "Deliveries currently being handled per queue",
	}, []string{"queue"})

	// метрики алертов
	AlertsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_opened_total",
		Help: "Alerts opened by type",
	}, []string{"type"})

	AlertsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_resolved_total",
		Help: "Alerts resolved by type",
	}, []string{"type"})

	AlertEvaluationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_evaluation_errors_total",
		Help: "Rule evaluations that failed by type",
	}, []string{"type"})

	// метрики websocket потока
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alert_stream_clients",
		Help: "Connected alert stream websocket clients",
	})
)
