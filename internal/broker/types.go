package broker

import (
	"context"

	"taiga/pkg/models"
)

// Producer publishes opaque record bytes. The decoder emits canonical
// records that downstream consumers parse themselves, so the producer
// does not impose an envelope.
type Producer interface {
	Publish(ctx context.Context, topic string, key string, value []byte) error
	Close() error
}

// Consumer delivers raw submissions to a handler. Handler errors trigger
// the retry policy and eventually the DLQ.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, msg models.RawMessage) error
