package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultRawTopic     = "telemetry_raw"
	DefaultDecodedTopic = "telemetry_decoded"
	DefaultErrorTopic   = "telemetry_errors"
	DefaultRawCopyTopic = "telemetry_raw_copy"
)

const (
	DefaultContentField = "content"
	DefaultURIField     = "uri"
)

const (
	DefaultNamespace     = "telemetry"
	DefaultMaxPathLength = 10240
	SubmitPrefix         = "submit"
)

const (
	LoggerName = "telemetry"
)

const (
	SnapshotKeyPrefix = "dedupe:partition:"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	MaxSubmissionBytes = 8 << 20
)
