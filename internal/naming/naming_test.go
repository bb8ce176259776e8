package naming_test

import (
	"testing"

	"github.com/corebus/platform/internal/naming"
	"github.com/stretchr/testify/assert"
)

func TestDefaultQueues(t *testing.T) {
	q := naming.DefaultQueues()

	assert.Equal(t, "APP.CMD.CREATEUSER.Q", q.CommandQueue("CreateUser"))
	assert.Equal(t, "APP.CMD.REPLY.Q", q.ReplyTo())
	assert.Equal(t, "events.CreateUser", q.EventTopic("CreateUser"))
}

func TestCustomNaming(t *testing.T) {
	q := naming.Queues{
		CommandPrefix: "ORDERS.CMD.",
		QueueSuffix:   ".IN",
		ReplyQueue:    "ORDERS.REPLY",
		EventPrefix:   "orders.events.",
	}

	tests := []struct {
		name    string
		command string
		queue   string
		topic   string
	}{
		{"lowercase command", "reserve", "ORDERS.CMD.RESERVE.IN", "orders.events.reserve"},
		{"mixed case command", "ChargeCard", "ORDERS.CMD.CHARGECARD.IN", "orders.events.ChargeCard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.queue, q.CommandQueue(tt.command))
			assert.Equal(t, tt.topic, q.EventTopic(tt.command))
		})
	}

	assert.Equal(t, "ORDERS.REPLY", q.ReplyTo())
}
