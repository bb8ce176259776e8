// Package projector keeps the read side current: it consumes command
// reply and domain event topics, invalidates the Redis status cache for
// commands that reached a terminal state, and pushes live updates to
// stream subscribers. It is purely a latency/read-path concern — the
// database stays the source of truth, and a lost or re-delivered event
// costs at most a stale cache entry until its TTL lapses.
package projector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/corebus/platform/internal/database/repository"
	"github.com/corebus/platform/internal/streaming"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
)

// UpdatePublisher pushes a live update to stream subscribers. Satisfied by
// *streaming.Hub.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, room string, u streaming.Update) error
}

// Service is the projection consumer. It implements consumer.Handler and
// is attached to the reply queue and event topics by cmd/projector.
type Service struct {
	statuses *repository.CachedRepository
	hub      UpdatePublisher
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewService wires a projector from its collaborators. statuses may be
// nil when no Redis cache is configured; the live stream still works.
func NewService(statuses *repository.CachedRepository, hub UpdatePublisher, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{statuses: statuses, hub: hub, log: log, metrics: m}
}

// terminalReplyTypes are the reply types after which a cached command
// status is guaranteed stale.
var terminalReplyTypes = map[string]bool{
	"CommandCompleted": true,
	"CommandFailed":    true,
	"CommandTimedOut":  true,
}

// Handle processes one reply/event message: cache invalidation first,
// then stream fan-out. Errors are logged and swallowed — the projection
// is best-effort and must never hold the consumer group back.
func (s *Service) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var commandID, commandName, businessKey, correlationID, updateType string
	for _, h := range msg.Headers {
		switch string(h.Key) {
		case "commandId":
			commandID = string(h.Value)
		case "commandName":
			commandName = string(h.Value)
		case "businessKey":
			businessKey = string(h.Value)
		case "correlationId":
			correlationID = string(h.Value)
		case "type":
			updateType = string(h.Value)
		}
	}
	if updateType == "" {
		updateType = "event"
	}

	if s.statuses != nil && commandID != "" && terminalReplyTypes[updateType] {
		if err := s.statuses.Delete(ctx, commandID); err != nil {
			s.log.Warn("failed to invalidate command status cache",
				zap.String("command_id", commandID), zap.Error(err))
		}
	}

	s.publish(ctx, streaming.Update{
		Type:        updateType,
		CommandID:   commandID,
		ProcessID:   processIDFrom(correlationID, commandID),
		BusinessKey: businessKey,
		Status:      statusFor(updateType),
		Data:        json.RawMessage(msg.Value),
	})

	s.metrics.EventsConsumed.WithLabelValues(msg.Topic, "ok").Inc()
	s.metrics.EventProcessingDuration.WithLabelValues(msg.Topic, "projector").Observe(time.Since(start).Seconds())

	s.log.Debug("projected message",
		zap.String("topic", msg.Topic),
		zap.String("type", updateType),
		zap.String("command_id", commandID),
		zap.String("command_name", commandName),
	)
	return nil
}

// publish fans the update out to every room it belongs to.
func (s *Service) publish(ctx context.Context, u streaming.Update) {
	if s.hub == nil {
		return
	}
	if u.BusinessKey != "" {
		if err := s.hub.PublishUpdate(ctx, streaming.RoomForBusinessKey(u.BusinessKey), u); err != nil {
			s.log.Warn("failed to publish stream update", zap.String("business_key", u.BusinessKey), zap.Error(err))
		}
	}
	if u.ProcessID != "" {
		if err := s.hub.PublishUpdate(ctx, streaming.RoomForProcess(u.ProcessID), u); err != nil {
			s.log.Warn("failed to publish stream update", zap.String("process_id", u.ProcessID), zap.Error(err))
		}
	}
}

// processIDFrom distinguishes a process-owned command (whose
// correlationId carries the process instance id) from a plain API-submitted
// one (whose correlationId defaults to its own command id).
func processIDFrom(correlationID, commandID string) string {
	if correlationID == "" || correlationID == commandID {
		return ""
	}
	return correlationID
}

func statusFor(updateType string) string {
	switch updateType {
	case "CommandCompleted":
		return "SUCCEEDED"
	case "CommandFailed":
		return "FAILED"
	case "CommandTimedOut":
		return "TIMED_OUT"
	default:
		return ""
	}
}
