package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"nudge/internal/broker"
	"nudge/internal/config"
	"nudge/internal/logger"
	"nudge/pkg/models"
)

// CallbackConsumer drains the callback topic and hands each provider event
// to the tracker. Decode failures are returned so the broker's retry and
// dead letter handling take over.
type CallbackConsumer struct {
	consumer broker.Consumer
	tracker  *Tracker
	topics   config.KafkaConfig
	log      logger.Logger
}

func NewCallbackConsumer(consumer broker.Consumer, tracker *Tracker, topics config.KafkaConfig, log logger.Logger) *CallbackConsumer {
	consumer.SetServiceName("dispatcher-service")
	return &CallbackConsumer{
		consumer: consumer,
		tracker:  tracker,
		topics:   topics,
		log:      log,
	}
}

// Run blocks until the context is cancelled.
func (c *CallbackConsumer) Run(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.topics.CallbackTopic, c.handle)
}

func (c *CallbackConsumer) handle(ctx context.Context, msg models.MessageEnvelope) error {
	cb, rawBody, err := decodeCallback(msg)
	if err != nil {
		return err
	}

	return c.tracker.Ingest(ctx, cb, rawBody)
}

func decodeCallback(msg models.MessageEnvelope) (Callback, string, error) {
	var cb Callback

	encoded, err := json.Marshal(msg.Payload["callback"])
	if err != nil {
		return cb, "", fmt.Errorf("failed to re-encode callback payload: %w", err)
	}
	if err := json.Unmarshal(encoded, &cb); err != nil {
		return cb, "", fmt.Errorf("failed to decode callback payload: %w", err)
	}
	if cb.Event == "" || cb.ProviderMessageID == "" {
		return cb, "", fmt.Errorf("callback payload missing event or message_id")
	}

	rawBody, _ := msg.Payload["raw_body"].(string)
	return cb, rawBody, nil
}
