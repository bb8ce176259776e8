package outbox

import (
	"context"
	"time"

	"github.com/corebus/platform/internal/notify"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher delivers a claimed outbox row to its external system. category
// selects which concrete adapter a Relay dispatches to: command/reply
// messages go to the MQ publisher, event messages to the event-stream
// publisher — two wire adapters sharing one claim/publish/retry path, per
// spec §4.2.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// PublisherFunc adapts a plain function to the Publisher interface.
type PublisherFunc func(ctx context.Context, msg *Message) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Relay is the reliability heart of the system (C3): a sweep loop that
// claims due rows in batches, and a fast-path loop that claims a single
// row the instant it is inserted. Both share the same claim/publish path.
type Relay struct {
	store         *Store
	commandPub    Publisher
	eventPub      Publisher
	notifyBus     *notify.Bus
	workerID      string
	sweepInterval time.Duration
	batchSize     int
	log           *logger.Logger
	metrics       *metrics.Metrics
}

// NewRelay creates a Relay. commandPub handles category=command/reply rows;
// eventPub handles category=event rows. m may be nil in tests.
func NewRelay(store *Store, commandPub, eventPub Publisher, notifyBus *notify.Bus, sweepInterval time.Duration, batchSize int, log *logger.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		store:         store,
		commandPub:    commandPub,
		eventPub:      eventPub,
		notifyBus:     notifyBus,
		workerID:      uuid.New().String(),
		sweepInterval: sweepInterval,
		batchSize:     batchSize,
		log:           log,
		metrics:       m,
	}
}

// Run blocks, driving the sweep loop and the fast-path loop concurrently
// until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	go r.runFastPath(ctx)
	r.runSweep(ctx)
}

func (r *Relay) runSweep(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sweepOnce(ctx); err != nil {
				r.log.Error("outbox sweep failed", zap.Error(err))
			}
		}
	}
}

func (r *Relay) sweepOnce(ctx context.Context) error {
	msgs, err := r.store.ClaimBatch(ctx, r.workerID, r.batchSize)
	if err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.OutboxClaimBatchSize.Observe(float64(len(msgs)))
	}
	for _, msg := range msgs {
		r.publishClaimed(ctx, msg)
	}
	return nil
}

// runFastPath attempts an immediate single-row claim for every id the
// Command Bus (or any other outbox producer) notifies after commit. A
// failed claim — because the sweep already took the row, or another
// fast-path goroutine won it — is simply dropped: correctness never
// depends on the fast path, only latency does.
func (r *Relay) runFastPath(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-r.notifyBus.C():
			if !ok {
				return
			}
			msg, err := r.store.ClaimByID(ctx, r.workerID, id)
			if err != nil {
				r.log.Warn("fast-path claim failed", zap.String("outbox_id", id), zap.Error(err))
				continue
			}
			if msg == nil {
				continue // already claimed or published; sweep will have handled it
			}
			r.publishClaimed(ctx, msg)
		}
	}
}

func (r *Relay) publishClaimed(ctx context.Context, msg *Message) {
	pub := r.commandPub
	if msg.Category == CategoryEvent {
		pub = r.eventPub
	}

	if err := pub.Publish(ctx, msg); err != nil {
		if r.metrics != nil {
			r.metrics.OutboxPublishFailed.WithLabelValues(string(msg.Category)).Inc()
		}
		r.log.Warn("outbox publish failed, will retry",
			zap.String("outbox_id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.Int("attempts", msg.Attempts+1),
			zap.Error(err),
		)
		if markErr := r.store.MarkFailed(ctx, msg.ID, err); markErr != nil {
			r.log.Error("failed to record publish failure", zap.String("outbox_id", msg.ID), zap.Error(markErr))
		}
		return
	}

	if r.metrics != nil {
		r.metrics.OutboxPublished.WithLabelValues(string(msg.Category)).Inc()
	}
	if err := r.store.MarkPublished(ctx, msg.ID); err != nil {
		r.log.Error("failed to mark outbox row published", zap.String("outbox_id", msg.ID), zap.Error(err))
	}
}
