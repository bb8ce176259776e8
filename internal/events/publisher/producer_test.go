package publisher_test

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/corebus/platform/internal/events/publisher"
	"github.com/corebus/platform/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerPublish(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := publisher.NewFromSyncProducer(mockProducer, logger.NewTestLogger())

	t.Run("successful publish", func(t *testing.T) {
		mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			assert.Equal(t, "APP.CMD.ECHO.Q", msg.Topic)
			key, _ := msg.Key.Encode()
			assert.Equal(t, "biz-1", string(key))
			value, _ := msg.Value.Encode()
			assert.Equal(t, `{"a":1}`, string(value))
			return nil
		})

		err := producer.Publish(context.Background(), "APP.CMD.ECHO.Q", "biz-1", []byte(`{"a":1}`))
		require.NoError(t, err)
	})

	t.Run("publish carries application headers", func(t *testing.T) {
		mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			headers := make(map[string]string, len(msg.Headers))
			for _, h := range msg.Headers {
				headers[string(h.Key)] = string(h.Value)
			}
			assert.Equal(t, "c-1", headers["commandId"])
			assert.Equal(t, "echo", headers["commandName"])
			return nil
		})

		err := producer.PublishWithHeaders(context.Background(), "APP.CMD.ECHO.Q", "biz-1", []byte(`{}`),
			map[string]string{"commandId": "c-1", "commandName": "echo"})
		require.NoError(t, err)
	})

	t.Run("failed publish surfaces the broker error", func(t *testing.T) {
		mockProducer.ExpectSendMessageAndFail(sarama.ErrBrokerNotAvailable)

		err := producer.Publish(context.Background(), "APP.CMD.ECHO.Q", "biz-1", []byte(`{}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to publish message")
		assert.ErrorIs(t, err, sarama.ErrBrokerNotAvailable)
	})
}
