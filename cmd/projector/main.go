// projector keeps the read side of the platform current: it consumes the
// reply queue and configured event topics, invalidates the Redis command
// status cache on terminal replies, and serves the WebSocket live stream
// of process/command transitions.
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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/corebus/platform/internal/api/handlers"
	"github.com/corebus/platform/internal/cache"
	"github.com/corebus/platform/internal/database/repository"
	"github.com/corebus/platform/internal/events"
	"github.com/corebus/platform/internal/events/consumer"
	"github.com/corebus/platform/internal/events/schemas"
	"github.com/corebus/platform/internal/naming"
	"github.com/corebus/platform/internal/projector"
	"github.com/corebus/platform/internal/streaming"
	"github.com/corebus/platform/pkg/config"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Printf("projector: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New("projector", "info")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	m := metrics.New("projector")

	if len(cfg.Redis.Addresses) == 0 {
		return fmt.Errorf("no redis address configured")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addresses[0],
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	defer redisClient.Close()

	hub, err := streaming.NewHub(redisClient, log, m)
	if err != nil {
		return fmt.Errorf("create stream hub: %w", err)
	}
	go hub.Run()
	defer hub.Stop()

	statusCache := cache.NewRedisCache(cache.CacheOptions{
		Addresses:   cfg.Redis.Addresses,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		BaseTTL:     5 * time.Second,
		NegativeTTL: 2 * time.Second,
	}, log, m)
	statuses := repository.NewCachedRepository(statusCache, log, "command", 5*time.Second)

	svc := projector.NewService(statuses, hub, log, m)

	queues := naming.Queues{
		CommandPrefix: cfg.QueueNaming.CommandPrefix,
		QueueSuffix:   cfg.QueueNaming.QueueSuffix,
		ReplyQueue:    cfg.QueueNaming.ReplyQueue,
		EventPrefix:   cfg.TopicNaming.EventPrefix,
	}
	// The reply queue always feeds the projection; event topics are
	// deployment-specific and come from config.
	topics := append([]string{queues.ReplyTo()}, cfg.Kafka.Consumer.Topics...)

	cons, err := consumer.NewConsumer(consumer.ConsumerConfig{
		Brokers:          cfg.Kafka.Brokers,
		GroupID:          cfg.Kafka.GroupID + "-projector",
		Topics:           topics,
		MinBytes:         cfg.Kafka.Consumer.MinBytes,
		MaxBytes:         cfg.Kafka.Consumer.MaxBytes,
		MaxWait:          cfg.Kafka.Consumer.MaxWait,
		SessionTimeout:   10 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}, svc, log)
	if err != nil {
		return fmt.Errorf("create broker consumer: %w", err)
	}
	if err := cons.Start(); err != nil {
		return fmt.Errorf("start broker consumer: %w", err)
	}
	defer cons.Stop()

	// A second consumer watches the transport DLQ topic and surfaces
	// dead-lettered messages on the operator stream.
	router := events.NewRouter(log)
	router.RegisterHandler(schemas.EventTypeMessageDeadLettered, projector.NewDeadLetterMonitor(hub, log))

	dlqCons, err := consumer.NewConsumer(consumer.ConsumerConfig{
		Brokers:          cfg.Kafka.Brokers,
		GroupID:          cfg.Kafka.GroupID + "-projector-dlq",
		Topics:           []string{queues.DeadLetterQueue()},
		MinBytes:         cfg.Kafka.Consumer.MinBytes,
		MaxBytes:         cfg.Kafka.Consumer.MaxBytes,
		MaxWait:          cfg.Kafka.Consumer.MaxWait,
		SessionTimeout:   10 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}, projector.NewEventDispatcher(router, log), log)
	if err != nil {
		return fmt.Errorf("create DLQ consumer: %w", err)
	}
	if err := dlqCons.Start(); err != nil {
		return fmt.Errorf("start DLQ consumer: %w", err)
	}
	defer dlqCons.Stop()

	healthDeps := map[string]func() error{
		"redis": func() error {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer pingCancel()
			return redisClient.Ping(pingCtx).Err()
		},
		"broker": func() error { return cons.Ping() },
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", handlers.HealthHandler("1.0.0", healthDeps))
	r.Get("/ready", handlers.ReadyHandler(healthDeps))
	r.Get("/ws", streaming.ServeWS(hub, log))

	addr := fmt.Sprintf("%s:%d", cfg.Projector.Host, cfg.Projector.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Projector.ReadTimeout,
		WriteTimeout: cfg.Projector.WriteTimeout,
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
	return nil
}
