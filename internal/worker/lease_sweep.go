package worker

import (
	"context"
	"time"

	"github.com/corebus/platform/internal/command"
	"github.com/corebus/platform/internal/database"
	"github.com/corebus/platform/internal/dlq"
	"github.com/corebus/platform/internal/notify"
	"github.com/corebus/platform/internal/outbox"
	"go.uber.org/zap"
)

// LeaseSweep reclaims RUNNING commands whose processing_lease_until has
// passed, per spec §4.3 "Lease expiry". It runs on its own interval,
// independent of the per-message consumer path.
type LeaseSweep struct {
	rt       *Runtime
	interval time.Duration
	batch    int
}

// NewLeaseSweep creates a lease-expiry sweeper sharing rt's stores and
// config.
func NewLeaseSweep(rt *Runtime, interval time.Duration, batch int) *LeaseSweep {
	return &LeaseSweep{rt: rt, interval: interval, batch: batch}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *LeaseSweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				s.rt.log.Error("lease sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *LeaseSweep) sweepOnce(ctx context.Context) error {
	ctx = notify.WithHooks(ctx)

	tx, err := s.rt.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	reclaimed, err := s.rt.commands.ReclaimExpiredLeases(ctx, tx, s.rt.cfg.MaxTransientRetries, s.batch)
	if err != nil {
		return err
	}

	for _, cmd := range reclaimed {
		if cmd.Status == command.StatusTimedOut {
			if err := s.parkTimedOut(ctx, tx, cmd); err != nil {
				return err
			}
			continue
		}
		// Reclaimed back to PENDING: the command needs a fresh command
		// outbox row, since its prior broker delivery was already
		// acknowledged by the crashed/slow worker.
		requeue := outbox.New(outbox.CategoryCommand, s.rt.queues.CommandQueue(cmd.Name), cmd.BusinessKey,
			"CommandRequested", cmd.Payload, map[string]string{
				"commandId": cmd.ID, "commandName": cmd.Name, "businessKey": cmd.BusinessKey,
			})
		if err := s.rt.outboxes.Insert(ctx, tx, requeue); err != nil {
			return err
		}
		s.rt.onCommit(ctx, requeue.ID)
		s.rt.log.Info("reclaimed expired lease, rescheduled", zap.String("command_id", cmd.ID), zap.Int("retries", cmd.Retries))
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	notify.Flush(ctx)
	return nil
}

func (s *LeaseSweep) parkTimedOut(ctx context.Context, tx database.Tx, cmd *command.Command) error {
	reply := outbox.New(outbox.CategoryReply, s.rt.queues.ReplyTo(), cmd.BusinessKey, "CommandTimedOut",
		[]byte(`{}`), map[string]string{
			"commandId": cmd.ID, "commandName": cmd.Name, "businessKey": cmd.BusinessKey, "type": "CommandTimedOut",
		})
	if err := s.rt.outboxes.Insert(ctx, tx, reply); err != nil {
		return err
	}
	s.rt.onCommit(ctx, reply.ID)

	entry := &dlq.Entry{
		CommandID: cmd.ID, CommandName: cmd.Name, BusinessKey: cmd.BusinessKey, Payload: cmd.Payload,
		FailedStatus: string(command.StatusTimedOut), ErrorClass: dlq.ErrorClassTimeout,
		ErrorMessage: "processing lease expired after exhausting retries", Attempts: cmd.Retries, ParkedBy: "worker-lease-sweep",
	}
	if err := s.rt.dlqs.Park(ctx, tx, entry); err != nil {
		return err
	}
	s.rt.log.Warn("command timed out after exhausting retries", zap.String("command_id", cmd.ID))
	return nil
}
