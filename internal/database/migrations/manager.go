package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/corebus/platform/pkg/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed schema/*.sql
var migrationFiles embed.FS

// Manager handles database migrations. It opens its own database/sql
// connection via lib/pq, independent of the application's pgx v5 pool —
// golang-migrate's postgres driver only speaks database/sql.
type Manager struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB
	logger  *logger.Logger
}

// NewManager creates a new migration manager from a Postgres DSN.
func NewManager(dsn string, log *logger.Logger) (*Manager, error) {
	d, err := iofs.New(migrationFiles, "schema")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}

	config, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create migration config: %w", err)
	}

	m, err := migrate.NewWithInstance(
		"iofs", d,
		"postgres", config,
	)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Manager{
		migrate: m,
		sqlDB:   sqlDB,
		logger:  log,
	}, nil
}

// Up runs all pending migrations
func (m *Manager) Up(ctx context.Context) error {
	start := time.Now()
	m.logger.Info("Running database migrations")

	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	m.logger.Info("Migrations completed",
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Down rolls back all migrations
func (m *Manager) Down(ctx context.Context) error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	return nil
}

// Version returns the current migration version
func (m *Manager) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Close closes the migration manager and its underlying connection.
func (m *Manager) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if dbErr != nil {
		m.sqlDB.Close()
		return fmt.Errorf("failed to close migrator: %w", dbErr)
	}
	if sourceErr != nil {
		m.sqlDB.Close()
		return fmt.Errorf("failed to close migration source: %w", sourceErr)
	}
	return m.sqlDB.Close()
}
