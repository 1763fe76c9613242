package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

// DatabaseConfig holds connection settings for the job database.
type DatabaseConfig struct {
	ConnectionString string
	MaxConnections   int32
	ConnectTimeout   time.Duration
	MigrationsPath   string
}

// Database wraps the connection pool and migration machinery.
type Database struct {
	pool   *pgxpool.Pool
	config *DatabaseConfig
}

// NewDatabase opens the pool and verifies connectivity.
func NewDatabase(ctx context.Context, config *DatabaseConfig) (*Database, error) {
	if config == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.MigrationsPath == "" {
		config.MigrationsPath = "file://migrations"
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = config.MaxConnections
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	timeoutCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(timeoutCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(timeoutCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{pool: pool, config: config}, nil
}

// Close closes the connection pool.
func (db *Database) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Ping verifies database connectivity.
func (db *Database) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Pool exposes the underlying pool for advanced callers.
func (db *Database) Pool() *pgxpool.Pool {
	return db.pool
}

// MigrateToLatest applies all pending migrations.
func (db *Database) MigrateToLatest(ctx context.Context) error {
	migrationDB, err := sql.Open("postgres", db.config.ConnectionString)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer migrationDB.Close()

	driver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(db.config.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// HealthCheck verifies the pool can execute queries.
func (db *Database) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("failed to execute test query: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected test query result: %d", result)
	}
	return nil
}

// BeginTx starts a transaction at the given isolation level.
func (db *Database) BeginTx(ctx context.Context, isolation pgx.TxIsoLevel) (pgx.Tx, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: isolation})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// WithRetry runs fn, retrying deadlocks and serialization failures
// with exponential backoff.
func (db *Database) WithRetry(ctx context.Context, fn func(context.Context) error) error {
	const maxRetries = 3
	const baseDelay = 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if isRetryableError(err) && attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		return err
	}

	return fmt.Errorf("operation failed after %d retries", maxRetries)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "lock not available")
}
