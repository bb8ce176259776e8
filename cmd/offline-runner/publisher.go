package main

import (
	"context"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/corebus/platform/internal/outbox"
	"github.com/corebus/platform/internal/worker"
	"github.com/corebus/platform/pkg/logger"
	"go.uber.org/zap"
)

// inProcessPublisher adapts a claimed outbox row directly into the same
// worker.Runtime.Handle call a Sarama consumer would make, so this demo
// exercises the real dispatch path without a broker. Reply-category rows
// (a command's own completion) have no consumer registered here and are
// simply logged.
func inProcessPublisher(rt *worker.Runtime, log *logger.Logger) outbox.PublisherFunc {
	// The worker keys inbox dedup on (topic, partition, offset), so each
	// synthetic delivery needs a distinct offset the way a real broker
	// would assign one.
	var offset int64

	return func(ctx context.Context, msg *outbox.Message) error {
		if msg.Category != outbox.CategoryCommand {
			log.Info("offline runner: reply/event delivered",
				zap.String("topic", msg.Topic), zap.String("type", msg.Type), zap.ByteString("payload", msg.Payload))
			return nil
		}

		headers := make([]*sarama.RecordHeader, 0, len(msg.Headers))
		for k, v := range msg.Headers {
			headers = append(headers, &sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
		}

		consumerMsg := &sarama.ConsumerMessage{
			Topic:   msg.Topic,
			Key:     []byte(msg.Key),
			Value:   msg.Payload,
			Offset:  atomic.AddInt64(&offset, 1),
			Headers: headers,
		}
		return rt.Handle(ctx, consumerMsg)
	}
}
