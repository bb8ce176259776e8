// Package worker implements the Worker Runtime (C7): a consumer pool that
// idempotently processes command messages, holds a processing lease while
// a handler runs, and classifies the outcome into success, permanent
// failure, or transient retry, per spec §4.3.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/IBM/sarama"
	"github.com/corebus/platform/internal/command"
	"github.com/corebus/platform/internal/database"
	"github.com/corebus/platform/internal/dlq"
	"github.com/corebus/platform/internal/inbox"
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

// Config bounds the Worker Runtime's lease and retry policy (spec §6).
type Config struct {
	CommandLease        time.Duration
	MaxTransientRetries int
}

// DefaultConfig returns the spec's documented defaults: a 5 minute lease
// and the recommended bounded transient-retry cap (spec §9 Open Questions).
func DefaultConfig() Config {
	return Config{CommandLease: 5 * time.Minute, MaxTransientRetries: 10}
}

// Runtime consumes command messages and drives a command through its
// lifecycle: lease, handle, classify, transition.
type Runtime struct {
	db        database.DB
	commands  *command.Store
	inboxes   *inbox.Store
	outboxes  *outbox.Store
	dlqs      *dlq.Store
	registry  *command.Registry
	queues    naming.Queues
	notifyBus *notify.Bus
	cfg       Config
	log       *logger.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// NewRuntime wires a Worker Runtime from its collaborator stores. m may
// be nil in tests.
func NewRuntime(db database.DB, commands *command.Store, inboxes *inbox.Store, outboxes *outbox.Store, dlqs *dlq.Store, registry *command.Registry, queues naming.Queues, notifyBus *notify.Bus, cfg Config, log *logger.Logger, m *metrics.Metrics) *Runtime {
	return &Runtime{
		db: db, commands: commands, inboxes: inboxes, outboxes: outboxes, dlqs: dlqs,
		registry: registry, queues: queues, notifyBus: notifyBus, cfg: cfg, log: log, metrics: m,
		tracer: otel.GetTracerProvider().Tracer("worker-runtime"),
	}
}

// Handle implements consumer.Handler, the broker-facing entry point for a
// single command message delivery.
func (r *Runtime) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	env := parseEnvelope(msg)
	if env.CommandID == "" || env.CommandName == "" {
		return fmt.Errorf("worker: message missing commandId/commandName headers")
	}

	ctx, span := r.tracer.Start(ctx, "worker.handle",
		trace.WithAttributes(
			attribute.String("command.id", env.CommandID),
			attribute.String("command.name", env.CommandName),
		),
	)
	defer span.End()

	messageID := fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
	if err := r.inboxes.Claim(ctx, messageID, "worker:"+env.CommandName); err != nil {
		if errors.Is(err, inbox.ErrAlreadyProcessed) {
			r.log.Debug("duplicate command delivery, skipping", zap.String("message_id", messageID))
			return nil
		}
		return fmt.Errorf("worker: inbox claim: %w", err)
	}

	cmd, ok, err := r.acquireLease(ctx, env.CommandID)
	if err != nil {
		return err
	}
	if !ok {
		r.log.Debug("command not claimable, treating as duplicate", zap.String("command_id", env.CommandID))
		return nil
	}

	started := time.Now()
	result, handleErr := r.invoke(ctx, cmd)
	if r.metrics != nil {
		r.metrics.HandlerDuration.WithLabelValues(cmd.Name).Observe(time.Since(started).Seconds())
	}
	return r.finish(ctx, cmd, env, result, handleErr)
}

func (r *Runtime) acquireLease(ctx context.Context, commandID string) (*command.Command, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("worker: begin lease tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cmd, ok, err := r.commands.AcquireLease(ctx, tx, commandID, r.cfg.CommandLease)
	if err != nil {
		return nil, false, fmt.Errorf("worker: acquire lease: %w", err)
	}
	if !ok {
		return nil, false, tx.Commit(ctx)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("worker: commit lease tx: %w", err)
	}
	return cmd, true, nil
}

// invoke runs the registered handler outside any database transaction,
// per spec §4.3 step 4 ("handler may be long-running"). An unknown
// command type is classified as permanent, matching spec §7's requirement
// that it "returns a failed reply synchronously... not a silent swallow".
func (r *Runtime) invoke(ctx context.Context, cmd *command.Command) (*command.Result, error) {
	handler, ok := r.registry.Lookup(cmd.Name)
	if !ok {
		return nil, command.NewPermanentError("unknown command type", fmt.Errorf("%q", cmd.Name))
	}
	return handler.HandleCommand(ctx, cmd)
}

func (r *Runtime) finish(ctx context.Context, cmd *command.Command, env envelope, result *command.Result, handleErr error) error {
	ctx = notify.WithHooks(ctx)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("worker: begin finish tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	switch {
	case handleErr == nil:
		err = r.finishSuccess(ctx, tx, cmd, env, result)
	case command.IsPermanent(handleErr):
		err = r.finishPermanent(ctx, tx, cmd, env, handleErr, dlq.ErrorClassPermanent)
	default:
		// TransientError and any uncategorized error are both retried,
		// per spec §4.3 step 5.
		err = r.finishTransient(ctx, tx, cmd, env, handleErr)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("worker: commit finish tx: %w", err)
	}
	notify.Flush(ctx)
	return nil
}

func (r *Runtime) finishSuccess(ctx context.Context, tx database.Tx, cmd *command.Command, env envelope, result *command.Result) error {
	var payload = []byte(`{}`)
	var eventType string
	if result != nil {
		if len(result.Payload) > 0 {
			payload = result.Payload
		}
		eventType = result.EventType
	}

	if err := r.commands.MarkSucceeded(ctx, tx, cmd.ID, payload); err != nil {
		return err
	}

	reply := outbox.New(outbox.CategoryReply, env.replyTo(r.queues), cmd.BusinessKey, "CommandCompleted", payload, env.replyHeadersWithType("CommandCompleted"))
	if err := r.outboxes.Insert(ctx, tx, reply); err != nil {
		return fmt.Errorf("worker: insert reply outbox row: %w", err)
	}
	r.onCommit(ctx, reply.ID)

	if eventType != "" {
		event := outbox.New(outbox.CategoryEvent, r.queues.EventTopic(cmd.Name), cmd.BusinessKey, eventType, payload, env.replyHeaders())
		if err := r.outboxes.Insert(ctx, tx, event); err != nil {
			return fmt.Errorf("worker: insert event outbox row: %w", err)
		}
		r.onCommit(ctx, event.ID)
	}

	if r.metrics != nil {
		r.metrics.CommandTransitions.WithLabelValues(cmd.Name, string(command.StatusSucceeded)).Inc()
	}
	r.log.Info("command succeeded", zap.String("command_id", cmd.ID), zap.String("command_name", cmd.Name))
	return nil
}

func (r *Runtime) finishPermanent(ctx context.Context, tx database.Tx, cmd *command.Command, env envelope, handleErr error, class dlq.ErrorClass) error {
	if err := r.commands.MarkFailed(ctx, tx, cmd.ID, handleErr.Error()); err != nil {
		return err
	}

	reply := outbox.New(outbox.CategoryReply, env.replyTo(r.queues), cmd.BusinessKey, "CommandFailed", []byte(`{}`), env.replyHeadersWithType("CommandFailed"))
	if err := r.outboxes.Insert(ctx, tx, reply); err != nil {
		return fmt.Errorf("worker: insert failed-reply outbox row: %w", err)
	}
	r.onCommit(ctx, reply.ID)

	entry := &dlq.Entry{
		CommandID: cmd.ID, CommandName: cmd.Name, BusinessKey: cmd.BusinessKey, Payload: cmd.Payload,
		FailedStatus: string(command.StatusFailed), ErrorClass: class, ErrorMessage: handleErr.Error(),
		Attempts: cmd.Retries, ParkedBy: "worker",
	}
	if err := r.dlqs.Park(ctx, tx, entry); err != nil {
		return fmt.Errorf("worker: park dlq entry: %w", err)
	}

	if r.metrics != nil {
		r.metrics.CommandTransitions.WithLabelValues(cmd.Name, string(command.StatusFailed)).Inc()
	}
	r.log.Warn("command permanently failed", zap.String("command_id", cmd.ID), zap.Error(handleErr))
	return nil
}

func (r *Runtime) finishTransient(ctx context.Context, tx database.Tx, cmd *command.Command, env envelope, handleErr error) error {
	if cmd.Retries >= r.cfg.MaxTransientRetries {
		// Retries exhausted: promote to permanent, per spec §7.
		return r.finishPermanent(ctx, tx, cmd, env, handleErr, dlq.ErrorClassExhausted)
	}

	retries, err := r.commands.RetryTransient(ctx, tx, cmd.ID, handleErr.Error())
	if err != nil {
		return err
	}

	requeue := outbox.New(outbox.CategoryCommand, r.queues.CommandQueue(cmd.Name), cmd.BusinessKey, "CommandRequested", cmd.Payload, env.requeueHeaders())
	requeue.NextAt = time.Now().UTC().Add(retryDelay(retries))
	if err := r.outboxes.Insert(ctx, tx, requeue); err != nil {
		return fmt.Errorf("worker: insert retry outbox row: %w", err)
	}
	r.onCommit(ctx, requeue.ID)

	if r.metrics != nil {
		r.metrics.CommandRetries.Inc()
	}
	r.log.Info("command scheduled for transient retry",
		zap.String("command_id", cmd.ID), zap.Int("retries", retries), zap.Error(handleErr))
	return nil
}

func (r *Runtime) onCommit(ctx context.Context, outboxID string) {
	notify.AfterCommit(ctx, func() { r.notifyBus.Notify(outboxID) })
}

// retryDelay computes a bounded exponential backoff with jitter for the
// nth transient retry, mirroring the outbox store's own backoff shape.
func retryDelay(retries int) time.Duration {
	const maxDelay = 2 * time.Minute
	backoff := time.Duration(1<<uint(min(retries, 10))) * 200 * time.Millisecond
	if backoff > maxDelay {
		backoff = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/4 + 1))
	return backoff + jitter
}
