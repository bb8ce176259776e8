package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corebus/platform/internal/database"
	"github.com/corebus/platform/internal/idempotency"
	"github.com/corebus/platform/internal/naming"
	"github.com/corebus/platform/internal/notify"
	"github.com/corebus/platform/internal/outbox"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Bus is the API-facing entry point (C6): validate, dedup, persist, enqueue,
// all inside a single database transaction, per spec §4.1.
type Bus struct {
	db         database.DB
	commands   *Store
	idempotent *idempotency.Store
	outboxes   *outbox.Store
	notifyBus  *notify.Bus
	queues     naming.Queues
	validator  *Validator
	log        *logger.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// NewBus wires a Command Bus from its collaborator stores. m may be nil
// in tests.
func NewBus(db database.DB, commands *Store, idempotent *idempotency.Store, outboxes *outbox.Store, notifyBus *notify.Bus, queues naming.Queues, log *logger.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		db:         db,
		commands:   commands,
		idempotent: idempotent,
		outboxes:   outboxes,
		notifyBus:  notifyBus,
		queues:     queues,
		validator:  NewValidator(),
		log:        log,
		metrics:    m,
		tracer:     otel.GetTracerProvider().Tracer("command-bus"),
	}
}

// Accept validates, persists, and enqueues req, returning the durably
// assigned command id. It returns ErrDuplicateIdempotencyKey, unwrapped,
// if req.IdempotencyKey is already owned by any earlier command.
func (b *Bus) Accept(ctx context.Context, req *AcceptRequest) (string, error) {
	ctx, span := b.tracer.Start(ctx, "command_bus.accept",
		trace.WithAttributes(attribute.String("command.name", req.Name)),
	)
	defer span.End()

	if err := b.validator.Validate(ctx, req); err != nil {
		return "", err
	}

	ctx = notify.WithHooks(ctx)

	tx, err := b.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("command bus: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	cmd, _, err := b.Enqueue(ctx, tx, req)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("command bus: commit: %w", err)
	}
	notify.Flush(ctx)

	if b.metrics != nil {
		b.metrics.CommandsAccepted.WithLabelValues(cmd.Name).Inc()
	}
	b.log.Info("command accepted",
		zap.String("command_id", cmd.ID),
		zap.String("command_name", cmd.Name),
		zap.String("idempotency_key", cmd.IdempotencyKey),
	)
	return cmd.ID, nil
}

// Enqueue performs the dedup-persist-enqueue sequence of spec §4.1 within
// tx, WITHOUT starting or committing a transaction itself. It does not
// validate req; Accept does that before calling it. The caller owns tx's
// lifecycle and must arrange for
// notify.Flush to run after a successful commit (ctx must have been
// produced by notify.WithHooks). This lets a caller — the Process
// Manager, in particular — persist its own state change in the very same
// transaction that enqueues the next command, satisfying the determinism
// requirement of spec §4.5.
func (b *Bus) Enqueue(ctx context.Context, tx database.Tx, req *AcceptRequest) (*Command, *outbox.Message, error) {
	cmd := New(req.Name, req.BusinessKey, req.Payload, req.IdempotencyKey, req.Reply)

	if _, err := b.idempotent.Acquire(ctx, tx, req.IdempotencyKey, cmd.ID); err != nil {
		if errors.Is(err, idempotency.ErrDuplicateKey) {
			return nil, nil, ErrDuplicateIdempotencyKey
		}
		return nil, nil, fmt.Errorf("command bus: acquire idempotency key: %w", err)
	}

	if err := b.commands.Insert(ctx, tx, cmd); err != nil {
		return nil, nil, fmt.Errorf("command bus: insert command: %w", err)
	}

	msg := b.buildRequestedMessage(cmd, req.CorrelationID)
	if err := b.outboxes.Insert(ctx, tx, msg); err != nil {
		return nil, nil, fmt.Errorf("command bus: insert outbox row: %w", err)
	}
	notify.AfterCommit(ctx, func() { b.notifyBus.Notify(msg.ID) })

	return cmd, msg, nil
}

// buildRequestedMessage builds the category=command outbox row per spec
// §4.1 step 3: topic derived from queue naming, key=businessKey, headers
// carrying the routing information a consumer and the eventual reply path
// both need.
func (b *Bus) buildRequestedMessage(cmd *Command, correlationID string) *outbox.Message {
	if correlationID == "" {
		correlationID = cmd.ID
	}
	headers := map[string]string{
		"commandId":     cmd.ID,
		"commandName":   cmd.Name,
		"businessKey":   cmd.BusinessKey,
		"correlationId": correlationID,
		"replyTo":       b.queues.ReplyTo(),
	}
	if cmd.Reply != nil {
		if cmd.Reply.Queue != "" {
			headers["replyTo"] = cmd.Reply.Queue
		}
		if cmd.Reply.Topic != "" {
			headers["replyTopic"] = cmd.Reply.Topic
		}
	}

	return outbox.New(outbox.CategoryCommand, b.queues.CommandQueue(cmd.Name), cmd.BusinessKey,
		"CommandRequested", cmd.Payload, headers)
}

// Get returns the current state of a command by id, for status reads.
func (b *Bus) Get(ctx context.Context, id string) (*Command, error) {
	return b.commands.Get(ctx, id)
}

// AcceptAndWait implements the sync_wait>0 mode (spec §9 Open Questions):
// Accept, then poll the Command Store until the command reaches a
// terminal status or syncWait elapses, whichever comes first. It is a
// convenience wrapper, not a new reliability mechanism — the command
// keeps processing asynchronously even if the wait times out.
func (b *Bus) AcceptAndWait(ctx context.Context, req *AcceptRequest, syncWait time.Duration) (*Command, error) {
	id, err := b.Accept(ctx, req)
	if err != nil {
		return nil, err
	}
	if syncWait <= 0 {
		return b.commands.Get(ctx, id)
	}

	deadline := time.Now().Add(syncWait)
	const pollInterval = 50 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		cmd, err := b.commands.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if cmd.Terminal() || time.Now().After(deadline) {
			return cmd, nil
		}
		select {
		case <-ctx.Done():
			return cmd, ctx.Err()
		case <-ticker.C:
		}
	}
}
