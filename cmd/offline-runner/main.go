// offline-runner drives the full Bus -> Outbox -> Relay -> Worker Runtime
// pipeline against a real Postgres database without needing a live
// broker: a stub publisher claims outbox rows and invokes the Worker
// Runtime in-process, the same contract a Sarama consumer would exercise.
// Useful for local development and for demonstrating the system end to
// end in an environment with no Kafka cluster.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/corebus/platform/internal/command"
	"github.com/corebus/platform/internal/database/postgres"
	"github.com/corebus/platform/internal/dlq"
	"github.com/corebus/platform/internal/idempotency"
	"github.com/corebus/platform/internal/inbox"
	"github.com/corebus/platform/internal/naming"
	"github.com/corebus/platform/internal/notify"
	"github.com/corebus/platform/internal/outbox"
	"github.com/corebus/platform/internal/worker"
	"github.com/corebus/platform/pkg/config"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Printf("offline-runner: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New("offline-runner", "debug")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	m := metrics.New("offline_runner")

	db, err := postgres.InitFromConfig(cfg, log, m)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	queues := naming.DefaultQueues()

	idempotentStore := idempotency.NewStore(db)
	commandStore := command.NewStore(db)
	outboxStore := outbox.NewStore(db, log, cfg.Outbox.MaxBackoff, cfg.Outbox.ClaimTimeout)
	inboxStore := inbox.NewStore(db)
	dlqStore := dlq.NewStore(db)
	notifyBus := notify.NewBus(256)

	bus := command.NewBus(db, commandStore, idempotentStore, outboxStore, notifyBus, queues, log, m)

	registry := command.NewRegistry()
	registry.Register("echo", command.HandlerFunc(func(_ context.Context, cmd *command.Command) (*command.Result, error) {
		return &command.Result{Payload: cmd.Payload, EventType: "EchoCompleted"}, nil
	}))

	rt := worker.NewRuntime(db, commandStore, inboxStore, outboxStore, dlqStore, registry, queues, notifyBus, worker.DefaultConfig(), log, m)

	relayPub := inProcessPublisher(rt, log)
	relay := outbox.NewRelay(outboxStore, relayPub, relayPub, notifyBus, 200*time.Millisecond, 10, log, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	id, err := bus.Accept(ctx, &command.AcceptRequest{
		Name:           "echo",
		IdempotencyKey: fmt.Sprintf("offline-run-%d", time.Now().UnixNano()),
		BusinessKey:    "offline-demo",
		Payload:        []byte(`{"message":"hello from the offline runner"}`),
	})
	if err != nil {
		return fmt.Errorf("accept demo command: %w", err)
	}
	log.Info("submitted demo command", zap.String("command_id", id))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		cmd, err := bus.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("read command status: %w", err)
		}
		if cmd.Terminal() {
			log.Info("demo command reached terminal state", zap.String("status", string(cmd.Status)))
			fmt.Printf("command %s finished with status %s\n", id, cmd.Status)
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("demo command %s did not reach a terminal state in time", id)
}
