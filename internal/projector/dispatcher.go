package projector

import (
	"context"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/corebus/platform/internal/events"
	"github.com/corebus/platform/internal/events/schemas"
	"github.com/corebus/platform/internal/streaming"
	"github.com/corebus/platform/pkg/logger"
)

// DLQRoom is the stream room operators join to watch transport-level
// dead letters.
const DLQRoom = "system:dlq"

// EventDispatcher adapts consumer.Handler onto the event router: it
// decodes schemas.Event envelopes off a topic and routes them by type.
// Frames that do not decode are logged and dropped — an envelope topic
// carries no raw payloads, so there is nothing else to do with them.
type EventDispatcher struct {
	router *events.Router
	log    *logger.Logger
}

// NewEventDispatcher builds a dispatcher over router.
func NewEventDispatcher(router *events.Router, log *logger.Logger) *EventDispatcher {
	return &EventDispatcher{router: router, log: log}
}

// Handle implements consumer.Handler.
func (d *EventDispatcher) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev schemas.Event
	if err := ev.Unmarshal(msg.Value); err != nil {
		d.log.Warn("dropping undecodable event envelope",
			zap.String("topic", msg.Topic), zap.Error(err))
		return nil
	}
	return d.router.HandleEvent(ctx, &ev)
}

// DeadLetterMonitor surfaces dead-lettered transport messages on the
// operator stream, so a poison message is visible the moment it is
// parked rather than when someone inspects the DLQ topic.
type DeadLetterMonitor struct {
	hub UpdatePublisher
	log *logger.Logger
}

// NewDeadLetterMonitor builds a monitor publishing to hub.
func NewDeadLetterMonitor(hub UpdatePublisher, log *logger.Logger) *DeadLetterMonitor {
	return &DeadLetterMonitor{hub: hub, log: log}
}

// HandleEvent implements events.EventHandler.
func (m *DeadLetterMonitor) HandleEvent(ctx context.Context, ev *schemas.Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}

	m.log.Warn("transport message dead-lettered", zap.Any("data", ev.Data))
	return m.hub.PublishUpdate(ctx, DLQRoom, streaming.Update{
		Type: string(ev.Type),
		Data: data,
	})
}
