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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corebus/platform/internal/api/handlers"
	"github.com/corebus/platform/internal/api/middleware"
	"github.com/corebus/platform/internal/api/validation"
	"github.com/corebus/platform/internal/cache"
	"github.com/corebus/platform/internal/command"
	"github.com/corebus/platform/internal/database/migrations"
	"github.com/corebus/platform/internal/database/postgres"
	"github.com/corebus/platform/internal/database/repository"
	"github.com/corebus/platform/internal/events/publisher"
	"github.com/corebus/platform/internal/idempotency"
	"github.com/corebus/platform/internal/naming"
	"github.com/corebus/platform/internal/notify"
	"github.com/corebus/platform/internal/outbox"
	"github.com/corebus/platform/pkg/config"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"go.uber.org/zap"
)

func initTracer(cfg *config.Config, _ *metrics.Metrics) (*trace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("command-service"),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(r),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// brokerPublisher adapts the Sarama-backed publisher.Producer to
// outbox.Publisher.
func brokerPublisher(pub *publisher.Producer) outbox.PublisherFunc {
	return func(ctx context.Context, msg *outbox.Message) error {
		return pub.PublishWithHeaders(ctx, msg.Topic, msg.Key, msg.Payload, msg.Headers)
	}
}

// Run wires and starts the command-service: the Accept API (spec §4.1,
// §6) fronting a Command Bus, plus an embedded Outbox Relay (spec §4.2)
// so every accepted command reaches the broker without a separate binary.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New("command-service", "info")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	m := metrics.New("command_service")

	switch {
	case cfg.Observability.Tracing.Disable:
		log.Info("tracing disabled, skipping initialization")
	case cfg.Observability.Tracing.Endpoint != "":
		tracer, terr := cfg.SetupTracing("command-service", log)
		if terr != nil {
			return fmt.Errorf("init tracer: %w", terr)
		}
		defer tracer.Shutdown(context.Background())
	default:
		// No collector configured: install a local provider so spans
		// still carry context between components without being exported.
		tp, terr := initTracer(cfg, m)
		if terr != nil {
			return fmt.Errorf("init tracer: %w", terr)
		}
		defer tp.Shutdown(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	migrator, err := migrations.NewManager(cfg.Database.DSN(), log)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		migrator.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	migrator.Close()

	db, err := postgres.InitFromConfig(cfg, log, m)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	pub, err := publisher.NewProducer(publisher.ProducerConfig{
		Brokers:           cfg.Kafka.Brokers,
		RequiredAcks:      sarama.WaitForAll,
		Compression:       sarama.CompressionSnappy,
		MaxRetries:        cfg.Kafka.Producer.MaxRetries,
		RetryBackoff:      cfg.Kafka.Producer.RetryBackoff,
		ConnectionTimeout: 10 * time.Second,
	}, log)
	if err != nil {
		return fmt.Errorf("create broker producer: %w", err)
	}
	defer pub.Close()

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

	relayPub := brokerPublisher(pub)
	relay := outbox.NewRelay(outboxStore, relayPub, relayPub, notifyBus, cfg.Outbox.SweepInterval, cfg.Outbox.BatchSize, log, m)
	go relay.Run(ctx)

	healthDeps := map[string]func() error{
		"database": func() error {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer pingCancel()
			return db.Ping(pingCtx)
		},
		"broker": func() error {
			if err := pub.Ping(); err != nil {
				return fmt.Errorf("broker check failed: %w", err)
			}
			return nil
		},
	}

	router := chi.NewRouter()

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/health", handlers.HealthHandler("1.0.0", healthDeps))
	router.Get("/ready", handlers.ReadyHandler(healthDeps))

	// Status reads go through a short-TTL Redis cache when one is
	// configured; the projector invalidates it on terminal replies, and a
	// startup warm-up pre-loads the most recently active commands so the
	// first status polls after a restart don't all stampede the database.
	var statuses *repository.CachedRepository
	if len(cfg.Redis.Addresses) > 0 {
		statusCache := cache.NewRedisCache(cache.CacheOptions{
			Addresses:   cfg.Redis.Addresses,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			BaseTTL:     5 * time.Second,
			NegativeTTL: 2 * time.Second,
		}, log, m)
		statuses = repository.NewCachedRepository(statusCache, log, "command", 5*time.Second)

		warmer := cache.NewCacheWarmer(statusCache, log)
		warmer.RegisterPattern(cache.KeyPattern{
			Pattern: "command:*",
			TTL:     5 * time.Second,
			Loader: func(ctx context.Context) (map[string]interface{}, error) {
				cmds, err := commandStore.ListRecent(ctx, 256)
				if err != nil {
					return nil, err
				}
				out := make(map[string]interface{}, len(cmds))
				for _, c := range cmds {
					out["command:"+c.ID] = c
				}
				return out, nil
			},
		})
		go func() {
			if err := warmer.WarmupAll(ctx); err != nil {
				log.Warn("status cache warm-up failed", zap.Error(err))
			}
		}()
	}

	cmdHandler := handlers.NewCommandHandler(bus, statuses, log, m)
	v := validation.New(log)
	router.With(validation.RequireBody(command.AcceptRequest{}), v.ValidateRequest).
		Post("/commands", cmdHandler.Accept)
	router.Get("/commands/{id}", cmdHandler.Status)

	chain := middleware.NewChain("command-service", log, m)
	chain.Use(middleware.WithTimeout(30 * time.Second))

	addr := fmt.Sprintf("%s:%d", cfg.CommandService.Host, cfg.CommandService.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chain.Then(router),
		ReadTimeout:  cfg.CommandService.ReadTimeout,
		WriteTimeout: cfg.CommandService.WriteTimeout,
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
