package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/corebus/platform/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type recordingHandler struct {
	messages []*sarama.ConsumerMessage
	failOn   string
}

func (h *recordingHandler) Handle(_ context.Context, msg *sarama.ConsumerMessage) error {
	if h.failOn != "" && string(msg.Key) == h.failOn {
		return errors.New("handler rejected message")
	}
	h.messages = append(h.messages, msg)
	return nil
}

type fakeSession struct {
	marked []*sarama.ConsumerMessage
}

func (s *fakeSession) Claims() map[string][]int32               { return map[string][]int32{"test-topic": {0}} }
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg)
}
func (s *fakeSession) Context() context.Context { return context.Background() }

type fakeClaim struct {
	ch chan *sarama.ConsumerMessage
}

func newFakeClaim(msgs ...*sarama.ConsumerMessage) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeClaim{ch: ch}
}

func (c *fakeClaim) Topic() string                            { return "test-topic" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return sarama.OffsetOldest }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func testConsumer(h Handler) *Consumer {
	return &Consumer{
		handler: h,
		log:     logger.NewTestLogger(),
		tracer:  otel.GetTracerProvider().Tracer("kafka-consumer-test"),
	}
}

func TestConsumeClaimDispatchesAndMarks(t *testing.T) {
	handler := &recordingHandler{}
	c := testConsumer(handler)

	msgs := []*sarama.ConsumerMessage{
		{Topic: "test-topic", Key: []byte("key1"), Value: []byte("value1")},
		{Topic: "test-topic", Key: []byte("key2"), Value: []byte("value2")},
	}
	session := &fakeSession{}

	err := c.ConsumeClaim(session, newFakeClaim(msgs...))
	require.NoError(t, err)

	require.Len(t, handler.messages, 2)
	assert.Equal(t, []byte("value1"), handler.messages[0].Value)
	assert.Len(t, session.marked, 2, "handled messages must be acked")
}

func TestConsumeClaimDoesNotMarkFailedMessages(t *testing.T) {
	handler := &recordingHandler{failOn: "poison"}
	c := testConsumer(handler)

	msgs := []*sarama.ConsumerMessage{
		{Topic: "test-topic", Key: []byte("poison"), Value: []byte("bad")},
		{Topic: "test-topic", Key: []byte("key2"), Value: []byte("good")},
	}
	session := &fakeSession{}

	err := c.ConsumeClaim(session, newFakeClaim(msgs...))
	require.NoError(t, err)

	// The failed message is not marked, so the group redelivers it; the
	// good one is.
	require.Len(t, session.marked, 1)
	assert.Equal(t, []byte("key2"), session.marked[0].Key)
}
