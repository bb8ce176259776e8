package projector_test

import (
	"context"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/corebus/platform/internal/projector"
	"github.com/corebus/platform/internal/streaming"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	mu      sync.Mutex
	updates map[string][]streaming.Update
}

func (f *fakeHub) PublishUpdate(_ context.Context, room string, u streaming.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = make(map[string][]streaming.Update)
	}
	f.updates[room] = append(f.updates[room], u)
	return nil
}

var testMetrics = metrics.New("projector_test")

func replyMessage(headers map[string]string, payload string) *sarama.ConsumerMessage {
	msg := &sarama.ConsumerMessage{Topic: "APP.CMD.REPLY.Q", Value: []byte(payload)}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, &sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return msg
}

func TestHandleFansOutToBusinessKeyRoom(t *testing.T) {
	hub := &fakeHub{}
	svc := projector.NewService(nil, hub, logger.NewTestLogger(), testMetrics)

	err := svc.Handle(context.Background(), replyMessage(map[string]string{
		"commandId":   "c-1",
		"commandName": "echo",
		"businessKey": "biz-1",
		"type":        "CommandCompleted",
	}, `{"userId":"u-123"}`))
	require.NoError(t, err)

	room := streaming.RoomForBusinessKey("biz-1")
	require.Len(t, hub.updates[room], 1)
	u := hub.updates[room][0]
	assert.Equal(t, "CommandCompleted", u.Type)
	assert.Equal(t, "c-1", u.CommandID)
	assert.Equal(t, "SUCCEEDED", u.Status)
	assert.Empty(t, u.ProcessID, "a plain command reply has no process room")
}

func TestHandleRoutesProcessOwnedReplies(t *testing.T) {
	hub := &fakeHub{}
	svc := projector.NewService(nil, hub, logger.NewTestLogger(), testMetrics)

	err := svc.Handle(context.Background(), replyMessage(map[string]string{
		"commandId":     "c-2",
		"commandName":   "ReserveStock",
		"businessKey":   "order-9",
		"correlationId": "proc-1",
		"type":          "CommandFailed",
	}, `{}`))
	require.NoError(t, err)

	procRoom := streaming.RoomForProcess("proc-1")
	require.Len(t, hub.updates[procRoom], 1)
	assert.Equal(t, "FAILED", hub.updates[procRoom][0].Status)

	keyRoom := streaming.RoomForBusinessKey("order-9")
	assert.Len(t, hub.updates[keyRoom], 1)
}

func TestHandleToleratesMissingHeaders(t *testing.T) {
	hub := &fakeHub{}
	svc := projector.NewService(nil, hub, logger.NewTestLogger(), testMetrics)

	err := svc.Handle(context.Background(), replyMessage(nil, `{}`))
	require.NoError(t, err)
	assert.Empty(t, hub.updates)
}
