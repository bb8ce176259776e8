package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corebus/platform/internal/api/handlers"
	"github.com/corebus/platform/internal/command"
	"github.com/corebus/platform/internal/database/postgres"
	"github.com/corebus/platform/internal/dlq"
	"github.com/corebus/platform/internal/events/consumer"
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

// Run wires and starts the worker: the Worker Runtime (C7) consuming
// command queues, plus its lease sweeper (spec §4.3 "Lease expiry").
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New("worker", "info")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	m := metrics.New("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.InitFromConfig(cfg, log, m)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	queues := naming.Queues{
		CommandPrefix: cfg.QueueNaming.CommandPrefix,
		QueueSuffix:   cfg.QueueNaming.QueueSuffix,
		ReplyQueue:    cfg.QueueNaming.ReplyQueue,
		EventPrefix:   cfg.TopicNaming.EventPrefix,
	}

	commandStore := command.NewStore(db)
	inboxStore := inbox.NewStore(db)
	outboxStore := outbox.NewStore(db, log, cfg.Outbox.MaxBackoff, cfg.Outbox.ClaimTimeout)
	dlqStore := dlq.NewStore(db)
	notifyBus := notify.NewBus(256)

	registry := command.NewRegistry()
	registerHandlers(registry)

	workerCfg := worker.Config{
		CommandLease:        cfg.Command.CommandLease,
		MaxTransientRetries: cfg.Command.MaxTransientRetries,
	}
	rt := worker.NewRuntime(db, commandStore, inboxStore, outboxStore, dlqStore, registry, queues, notifyBus, workerCfg, log, m)

	sweep := worker.NewLeaseSweep(rt, 30*time.Second, 50)
	go sweep.Run(ctx)

	consumerCfg := consumer.ConsumerConfig{
		Brokers:          cfg.Kafka.Brokers,
		GroupID:          cfg.Kafka.GroupID,
		Topics:           commandTopics(queues),
		MinBytes:         cfg.Kafka.Consumer.MinBytes,
		MaxBytes:         cfg.Kafka.Consumer.MaxBytes,
		MaxWait:          cfg.Kafka.Consumer.MaxWait,
		SessionTimeout:   10 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}
	// Messages the runtime rejects outright (no parseable envelope) can
	// never reach the application DLQ store; they bounce through
	// broker-level retry and land on the transport DLQ topic instead.
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Return.Successes = true
	dlqProducer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		return fmt.Errorf("create DLQ producer: %w", err)
	}
	defer dlqProducer.Close()

	deadLetter := consumer.NewDeadLetterHandler(consumer.DeadLetterConfig{
		Topic:        queues.DeadLetterQueue(),
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}, dlqProducer, log)

	cons, err := consumer.NewConsumer(consumerCfg, consumer.WrapWithDeadLetter(rt, deadLetter), log)
	if err != nil {
		return fmt.Errorf("create broker consumer: %w", err)
	}
	if err := cons.Start(); err != nil {
		return fmt.Errorf("start broker consumer: %w", err)
	}
	defer cons.Stop()

	healthDeps := map[string]func() error{
		"database": func() error {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer pingCancel()
			return db.Ping(pingCtx)
		},
		"broker": func() error { return cons.Ping() },
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(30 * time.Second))
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/health", handlers.HealthHandler("1.0.0", healthDeps))

	addr := fmt.Sprintf("%s:%d", cfg.Worker.Host, cfg.Worker.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Worker.ReadTimeout,
		WriteTimeout: cfg.Worker.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}

	cancel()
	return nil
}
