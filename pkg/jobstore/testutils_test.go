package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDatabase starts a disposable PostgreSQL container and
// creates the schema. Tests calling it are skipped in short mode.
func setupTestDatabase(t *testing.T) (*Database, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("codecflow_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	db, err := NewDatabase(ctx, &DatabaseConfig{
		ConnectionString: connStr,
		MaxConnections:   5,
		ConnectTimeout:   30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(db.Close)

	if err := createTestTables(ctx, db); err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db, ctx
}

// createTestTables mirrors the migrations without requiring a file
// source at test time.
func createTestTables(ctx context.Context, db *Database) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id UUID PRIMARY KEY,
			status VARCHAR(20) NOT NULL DEFAULT 'queued',
			priority VARCHAR(10) NOT NULL DEFAULT 'normal',
			queue VARCHAR(50) NOT NULL DEFAULT 'default',
			input_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			input_metadata JSONB NOT NULL DEFAULT '{}',
			output_metadata JSONB NOT NULL DEFAULT '{}',
			options JSONB NOT NULL DEFAULT '{}',
			operations JSONB NOT NULL DEFAULT '[]',
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			stage VARCHAR(20) NOT NULL DEFAULT 'queued',
			fps DOUBLE PRECISION,
			eta_seconds INTEGER,
			vmaf_score DOUBLE PRECISION,
			psnr_score DOUBLE PRECISION,
			ssim_score DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			error_message TEXT,
			error_details JSONB,
			retry_count INTEGER NOT NULL DEFAULT 0,
			worker_id VARCHAR(255),
			processing_time DOUBLE PRECISION,
			api_key_id VARCHAR(64) NOT NULL,
			webhook_url TEXT,
			webhook_events JSONB NOT NULL DEFAULT '["complete", "error"]',
			batch_id VARCHAR(64),
			batch_index INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			key_hash VARCHAR(128) NOT NULL,
			key_prefix VARCHAR(8) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			max_concurrent_jobs INTEGER NOT NULL DEFAULT 10,
			total_requests BIGINT NOT NULL DEFAULT 0,
			last_used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ,
			revoked_at TIMESTAMPTZ,
			description TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS job_logs (
			id BIGSERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
			level VARCHAR(10) NOT NULL DEFAULT 'info',
			message TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
