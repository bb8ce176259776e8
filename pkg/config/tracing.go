package config

import (
	"fmt"
	"os"

	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/tracing"
)

// SetupTracing builds the OTLP trace pipeline from the config's
// observability block. The caller owns shutdown: defer
// tracer.Shutdown(ctx) next to the other resource cleanups.
func (c *Config) SetupTracing(serviceName string, log *logger.Logger) (*tracing.Tracer, error) {
	cfg := tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: os.Getenv("SERVICE_VERSION"),
		Environment:    os.Getenv("ENVIRONMENT"),
		Endpoint:       c.Observability.Tracing.Endpoint,
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	tracer, err := tracing.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}
	return tracer, nil
}
