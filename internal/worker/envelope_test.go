package worker

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/corebus/platform/internal/naming"
	"github.com/stretchr/testify/assert"
)

func consumerMessage(headers map[string]string) *sarama.ConsumerMessage {
	msg := &sarama.ConsumerMessage{Topic: "APP.CMD.ECHO.Q", Partition: 1, Offset: 42}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, &sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return msg
}

func TestParseEnvelope(t *testing.T) {
	env := parseEnvelope(consumerMessage(map[string]string{
		"commandId":     "c-1",
		"commandName":   "echo",
		"businessKey":   "biz-1",
		"correlationId": "corr-1",
		"replyTo":       "CUSTOM.REPLY.Q",
		"replyTopic":    "events.custom",
	}))

	assert.Equal(t, "c-1", env.CommandID)
	assert.Equal(t, "echo", env.CommandName)
	assert.Equal(t, "biz-1", env.BusinessKey)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.Equal(t, "CUSTOM.REPLY.Q", env.ReplyTo)
	assert.Equal(t, "events.custom", env.ReplyTopic)
}

func TestReplyToFallsBackToDefaultQueue(t *testing.T) {
	queues := naming.DefaultQueues()

	env := parseEnvelope(consumerMessage(map[string]string{"commandId": "c-1", "commandName": "echo"}))
	assert.Equal(t, "APP.CMD.REPLY.Q", env.replyTo(queues))

	env.ReplyTo = "OTHER.Q"
	assert.Equal(t, "OTHER.Q", env.replyTo(queues))
}

func TestReplyHeadersCarryType(t *testing.T) {
	env := envelope{CommandID: "c-1", CommandName: "echo", BusinessKey: "biz-1", CorrelationID: "corr-1"}

	h := env.replyHeadersWithType("CommandCompleted")
	assert.Equal(t, "CommandCompleted", h["type"])
	assert.Equal(t, "c-1", h["commandId"])
	assert.Equal(t, "corr-1", h["correlationId"])

	// The untyped header set must not leak a type key.
	_, ok := env.replyHeaders()["type"]
	assert.False(t, ok)
}

func TestRetryDelayIsBoundedWithJitter(t *testing.T) {
	const maxDelay = 2 * time.Minute

	for retries := 1; retries <= 30; retries++ {
		d := retryDelay(retries)
		assert.Greater(t, d, time.Duration(0), "retry %d", retries)
		// Backoff caps at maxDelay; jitter adds at most a quarter on top.
		assert.LessOrEqual(t, d, maxDelay+maxDelay/4, "retry %d", retries)
	}
}
