package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Broker         BrokerConfig
	Redis          RedisConfig
	Logging        LoggingConfig
	Decoder        DecoderConfig
	Edge           EdgeConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string    `mapstructure:"brokers"`
	GroupID      string      `mapstructure:"group_id"`
	RawTopic     string      `mapstructure:"raw_topic"`
	DecodedTopic string      `mapstructure:"decoded_topic"`
	ErrorTopic   string      `mapstructure:"error_topic"`
	RawCopyTopic string      `mapstructure:"raw_copy_topic"`
	DLQTopic     string      `mapstructure:"dlq_topic"`
	Retry        RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// RedisConfig is optional; when a host is configured the dedupe filter
// snapshots its partitions there across restarts.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DecoderConfig is the decode pipeline's own surface.
type DecoderConfig struct {
	SchemaPath   string `mapstructure:"schema_path"`
	ContentField string `mapstructure:"content_field"`
	URIField     string `mapstructure:"uri_field"`
	CityDBFile   string `mapstructure:"city_db_file"`
	InjectRaw    bool   `mapstructure:"inject_raw"`

	// Namespaces maps a submission namespace to its route. The default
	// telemetry route is installed when the map is empty.
	Namespaces map[string]RouteConfig `mapstructure:"namespaces"`

	Dedupe DedupeConfig `mapstructure:"dedupe"`

	// DropRules are CEL expressions over the canonical record; a record
	// matching any rule is counted and not emitted.
	DropRules []string `mapstructure:"drop_rules"`
}

type RouteConfig struct {
	Dimensions    []string `mapstructure:"dimensions"`
	MaxPathLength int      `mapstructure:"max_path_length"`
}

type DedupeConfig struct {
	Items        uint `mapstructure:"cf_items"`
	Partitions   int  `mapstructure:"cf_partitions"`
	IntervalSize int  `mapstructure:"cf_interval_size"` // minutes

	SnapshotIntervalSeconds int `mapstructure:"snapshot_interval_seconds"`
}

// Enabled reports whether a dedupe filter should be constructed at all.
func (c DedupeConfig) Enabled() bool {
	return c.Partitions > 0 && c.Items > 0
}

type EdgeConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}
