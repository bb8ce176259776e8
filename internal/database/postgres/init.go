package postgres

import (
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver
	"github.com/corebus/platform/internal/database"
	"github.com/corebus/platform/pkg/config"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
)

// InitFromConfig builds the pool every binary shares from the primary
// database block of the service config.
func InitFromConfig(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*DB, error) {
	primary := cfg.Database.Primary
	opts := database.Options{
		Host:        primary.Host,
		Port:        primary.Port,
		User:        primary.Username,
		Password:    primary.Password,
		Database:    primary.Database,
		MaxConns:    int32(primary.MaxOpenConns),
		MinConns:    int32(primary.MaxIdleConns),
		MaxIdleTime: primary.ConnMaxLifetime,
	}

	return New(opts, log, m)
}
