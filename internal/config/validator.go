package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks everything that must hold before the pipeline
// enters service. A failure here is fatal to startup.
func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDecoder(cfg.Decoder); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.InitialInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	return nil
}

func validateDecoder(cfg DecoderConfig) error {
	if cfg.SchemaPath == "" {
		return &ValidationError{
			Field:   "decoder.schema_path",
			Message: "schema_path is required",
		}
	}

	for ns, route := range cfg.Namespaces {
		if ns == "" {
			return &ValidationError{
				Field:   "decoder.namespaces",
				Message: "namespace name cannot be empty",
			}
		}
		if route.MaxPathLength < 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("decoder.namespaces.%s.max_path_length", ns),
				Message: "max_path_length must be non-negative",
			}
		}
	}

	return validateDedupe(cfg.Dedupe)
}

func validateDedupe(cfg DedupeConfig) error {
	if cfg.Partitions == 0 && cfg.Items == 0 {
		return nil // dedupe disabled
	}

	switch cfg.Partitions {
	case 1, 2, 4, 8, 16:
	default:
		return &ValidationError{
			Field:   "decoder.dedupe.cf_partitions",
			Message: fmt.Sprintf("cf_partitions must be one of 1, 2, 4, 8, 16, got %d", cfg.Partitions),
		}
	}

	if cfg.Items == 0 {
		return &ValidationError{
			Field:   "decoder.dedupe.cf_items",
			Message: "cf_items must be positive when dedupe is enabled",
		}
	}

	if cfg.IntervalSize <= 0 {
		return &ValidationError{
			Field:   "decoder.dedupe.cf_interval_size",
			Message: "cf_interval_size must be positive",
		}
	}

	return nil
}
