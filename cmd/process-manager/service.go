package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	grpcadmin "github.com/corebus/platform/internal/api/grpc"
	"github.com/corebus/platform/internal/api/handlers"
	"github.com/corebus/platform/internal/command"
	"github.com/corebus/platform/internal/database/postgres"
	"github.com/corebus/platform/internal/events/consumer"
	"github.com/corebus/platform/internal/idempotency"
	"github.com/corebus/platform/internal/naming"
	"github.com/corebus/platform/internal/notify"
	"github.com/corebus/platform/internal/outbox"
	"github.com/corebus/platform/internal/process"
	"github.com/corebus/platform/pkg/config"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"go.uber.org/zap"
)

// Run wires and starts the process-manager: the DAG orchestrator (C8)
// reacting to command replies on the shared reply queue, fronted by a
// health/metrics HTTP endpoint and an admin gRPC port.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New("process-manager", "info")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	m := metrics.New("process_manager")

	_, cancel := context.WithCancel(context.Background())
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

	idempotentStore := idempotency.NewStore(db)
	commandStore := command.NewStore(db)
	outboxStore := outbox.NewStore(db, log, cfg.Outbox.MaxBackoff, cfg.Outbox.ClaimTimeout)
	notifyBus := notify.NewBus(256)
	bus := command.NewBus(db, commandStore, idempotentStore, outboxStore, notifyBus, queues, log, m)

	processStore := process.NewStore(db)
	registry := process.NewRegistry()
	registerProcesses(registry)

	manager := process.NewManager(db, processStore, registry, bus, log, m)

	consumerCfg := consumer.ConsumerConfig{
		Brokers:          cfg.Kafka.Brokers,
		GroupID:          cfg.Kafka.GroupID + "-process-manager",
		Topics:           []string{queues.ReplyTo()},
		MinBytes:         cfg.Kafka.Consumer.MinBytes,
		MaxBytes:         cfg.Kafka.Consumer.MaxBytes,
		MaxWait:          cfg.Kafka.Consumer.MaxWait,
		SessionTimeout:   10 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}
	cons, err := consumer.NewConsumer(consumerCfg, manager, log)
	if err != nil {
		return fmt.Errorf("create broker consumer: %w", err)
	}
	if err := cons.Start(); err != nil {
		return fmt.Errorf("start broker consumer: %w", err)
	}
	defer cons.Stop()

	grpcSrv := grpcadmin.NewServer(log.Logger, m, cfg.ProcessManager.Port+1000)
	if err := grpcSrv.Start(); err != nil {
		return fmt.Errorf("start admin gRPC server: %w", err)
	}
	defer grpcSrv.Stop()

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
	router.Post("/processes/{type}/{businessKey}", startProcessHandler(manager, log))
	router.Get("/processes/{id}", getProcessHandler(manager))

	addr := fmt.Sprintf("%s:%d", cfg.ProcessManager.Host, cfg.ProcessManager.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ProcessManager.ReadTimeout,
		WriteTimeout: cfg.ProcessManager.WriteTimeout,
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
