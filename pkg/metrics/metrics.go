package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DecodeMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decode_messages_total",
			Help: "Total number of messages processed by decoder service (count)",
		},
		[]string{"status"},
	)

	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decode_errors_total",
			Help: "Total number of decode failures by error type (count)",
		},
		[]string{"type"},
	)

	DecodeProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "decode_processing_duration_ms",
			Help:    "Processing duration for decoder service in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	DuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedupe_duplicates_total",
			Help: "Total number of documents flagged as duplicates (count)",
		},
	)

	DedupeFilterEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dedupe_filter_entries",
			Help: "Number of document ids currently held per dedupe partition (count)",
		},
		[]string{"partition"},
	)

	DedupeSnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedupe_snapshots_total",
			Help: "Total number of dedupe snapshot save and restore operations (count)",
		},
		[]string{"operation", "status"},
	)

	GeoLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geo_lookups_total",
			Help: "Total number of city database lookups by outcome (count)",
		},
		[]string{"status"},
	)

	DropRuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drop_rule_matches_total",
			Help: "Total number of records discarded by drop rules (count)",
		},
		[]string{"rule"},
	)

	SchemaValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_validations_total",
			Help: "Total number of schema validations by document type and outcome (count)",
		},
		[]string{"doc_type", "status"},
	)

	EdgeSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_submissions_total",
			Help: "Total number of submissions accepted by the edge service (count)",
		},
		[]string{"namespace", "status"},
	)

	EdgeSubmissionSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edge_submission_size_bytes",
			Help:    "Size of submission bodies received by the edge service in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
		[]string{"namespace"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of message processing retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to dead letter queue (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of circuit breaker failures (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Consumer lag per topic partition (messages)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of Kafka write operations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)
)

func RegisterDecoderMetrics() {
	prometheus.MustRegister(DecodeMessagesTotal)
	prometheus.MustRegister(DecodeErrorsTotal)
	prometheus.MustRegister(DecodeProcessingDuration)
	prometheus.MustRegister(DuplicatesTotal)
	prometheus.MustRegister(DedupeFilterEntries)
	prometheus.MustRegister(DedupeSnapshotsTotal)
	prometheus.MustRegister(GeoLookupsTotal)
	prometheus.MustRegister(DropRuleMatchesTotal)
	prometheus.MustRegister(SchemaValidationsTotal)
	registerFallbackUsageTotalOnce()
}

func RegisterEdgeMetrics() {
	prometheus.MustRegister(EdgeSubmissionsTotal)
	prometheus.MustRegister(EdgeSubmissionSizeBytes)
	prometheus.MustRegister(RateLimitRequestsTotal)
	registerFallbackUsageTotalOnce()
}

func registerFallbackUsageTotalOnce() {
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaConsumerLag)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func ObserveDecodeDuration(duration time.Duration, status string) {
	DecodeProcessingDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func SetDedupeFilterEntries(partition int, count uint) {
	DedupeFilterEntries.WithLabelValues(fmt.Sprintf("%d", partition)).Set(float64(count))
}

func IncGeoLookup(status string) {
	GeoLookupsTotal.WithLabelValues(status).Inc()
}

func IncSchemaValidation(docType, status string) {
	SchemaValidationsTotal.WithLabelValues(docType, status).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}
