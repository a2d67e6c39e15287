package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/broker"
	"nudge/internal/config"
	"nudge/pkg/models"
)

func TestKafkaBrokerRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka round trip in short mode")
	}

	infra := SetupTestInfraWithOptions(t, false, false, false, true)

	brokerCfg := config.BrokerConfig{
		Type: "kafka",
		Kafka: config.KafkaConfig{
			Brokers:       infra.KafkaBrokers,
			GroupID:       "integration-test",
			CallbackTopic: "provider_callbacks_test",
		},
	}

	log := createTestLogger()

	producer, err := broker.NewProducer(brokerCfg, log)
	require.NoError(t, err)
	defer producer.Close()

	consumer, err := broker.NewConsumer(brokerCfg, log)
	require.NoError(t, err)
	consumer.SetServiceName("integration-test")
	defer consumer.Close()

	envelope := models.NewMessageEnvelopeBuilder().
		WithID(uuid.New().String()).
		WithSource("api-service").
		WithType(models.EventTypeCallbackReceived).
		WithTimestamp(time.Now().UTC()).
		WithPayload(map[string]interface{}{
			"callback": map[string]interface{}{
				"event":      "delivered",
				"message_id": "msg-kafka-1",
			},
		}).
		Build()

	var (
		mu       sync.Mutex
		received *models.MessageEnvelope
	)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		consumer.Consume(ctx, brokerCfg.Kafka.CallbackTopic, func(_ context.Context, msg models.MessageEnvelope) error {
			mu.Lock()
			defer mu.Unlock()
			if msg.ID == envelope.ID {
				received = &msg
				cancel()
			}
			return nil
		})
	}()

	// Topic creation can race the first write on a fresh broker.
	require.Eventually(t, func() bool {
		return producer.Publish(ctx, brokerCfg.Kafka.CallbackTopic, *envelope) == nil
	}, 30*time.Second, time.Second)

	<-consumeDone

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, received, "published envelope should be consumed")
	assert.Equal(t, envelope.ID, received.ID)
	assert.Equal(t, models.EventTypeCallbackReceived, received.Type)
	assert.Equal(t, "api-service", received.Source)

	callback, ok := received.Payload["callback"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "delivered", callback["event"])
	assert.Equal(t, "msg-kafka-1", callback["message_id"])
}
