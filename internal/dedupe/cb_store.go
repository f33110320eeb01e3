package dedupe

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"taiga/internal/config"
	"taiga/pkg/circuitbreaker"
)

// CircuitBreakerStore guards a snapshot store so a broken Redis cannot
// stall the snapshot loop with slow failures.
type CircuitBreakerStore struct {
	store SnapshotStore
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store SnapshotStore, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{
			store: store,
			cb:    nil,
		}
	}

	cbConfig := circuitbreaker.DefaultConfig("redis-snapshot")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) Save(ctx context.Context, partition int, data []byte) error {
	if s.cb == nil {
		return s.store.Save(ctx, partition, data)
	}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.Save(ctx, partition, data)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil {
		if s.cb.IsOpen() {
			return fmt.Errorf("circuit breaker is open for redis-snapshot: %w", err)
		}
		return err
	}
	return nil
}

func (s *CircuitBreakerStore) Load(ctx context.Context, partition int) ([]byte, error) {
	if s.cb == nil {
		return s.store.Load(ctx, partition)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.Load(ctx, partition)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil {
		if s.cb.IsOpen() {
			return nil, fmt.Errorf("circuit breaker is open for redis-snapshot: %w", err)
		}
		return nil, err
	}

	data, ok := result.([]byte)
	if !ok && result != nil {
		return nil, fmt.Errorf("snapshot store returned invalid result type")
	}
	return data, nil
}

func (s *CircuitBreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}
