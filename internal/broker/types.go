package broker

import (
	"context"

	"nudge/pkg/models"
)

// Producer publishes charge lifecycle and delivery events. Publish must be
// safe for concurrent use; the dispatcher calls it from its worker pool.
type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

// Consumer reads a topic until the context is cancelled. The callback
// consumer uses it to drain provider callbacks into the tracker.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error
