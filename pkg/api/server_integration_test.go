package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/CodecFlow/codecflow/pkg/events"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/config"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
	"github.com/CodecFlow/codecflow/pkg/scheduler"
	"github.com/CodecFlow/codecflow/pkg/storage"
)

// setupIntegrationServer wires a full server against a disposable
// PostgreSQL container and returns it with a raw API key for requests.
// Tests calling it are skipped in short mode.
func setupIntegrationServer(t *testing.T) (*Server, string) {
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

	db, err := jobstore.NewDatabase(ctx, &jobstore.DatabaseConfig{
		ConnectionString: connStr,
		MaxConnections:   5,
		ConnectTimeout:   30 * time.Second,
		MigrationsPath:   "file://../../migrations",
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.MigrateToLatest(ctx); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Storage = *storage.DefaultConfig(t.TempDir())

	registry, err := storage.NewRegistry(&cfg.Storage)
	require.NoError(t, err)

	sched := scheduler.NewScheduler(cfg.Jobs.MaxConcurrentPerKey, nil)
	t.Cleanup(sched.Close)

	server := NewServer(cfg, db, registry, sched, events.NewHub(), nil, nil)

	_, rawKey, err := db.CreateAPIKey(ctx, "integration", "", false, 10, nil)
	require.NoError(t, err)

	return server, rawKey
}

func doJSON(t *testing.T, server *Server, rawKey, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", rawKey)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestConvertEndpointCreatesJob(t *testing.T) {
	server, rawKey := setupIntegrationServer(t)

	rec := doJSON(t, server, rawKey, http.MethodPost, "/api/v1/convert", ConvertRequest{
		InputPath:  "local://in/a.mp4",
		OutputPath: "local://out/a.mp4",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var submitted SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.JobID)
	assert.Equal(t, "/api/v1/jobs/"+submitted.JobID, submitted.Links["self"])

	rec = doJSON(t, server, rawKey, http.MethodGet, "/api/v1/jobs/"+submitted.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "queued", job.Status)
	assert.Equal(t, scheduler.QueueDefault, job.Queue)
}

func TestBatchEndpointCreatesJobs(t *testing.T) {
	server, rawKey := setupIntegrationServer(t)

	rec := doJSON(t, server, rawKey, http.MethodPost, "/api/v1/batch", BatchRequest{
		Jobs: []ConvertRequest{
			{InputPath: "local://in/a.mp4", OutputPath: "local://out/a.mp4"},
			{InputPath: "local://in/b.mp4", OutputPath: "local://out/b.mp4"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var batch BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.NotEmpty(t, batch.BatchID)
	assert.Len(t, batch.JobIDs, 2)
}

func TestConvertEndpointRejectsInvalidBody(t *testing.T) {
	server, rawKey := setupIntegrationServer(t)

	rec := doJSON(t, server, rawKey, http.MethodPost, "/api/v1/convert", ConvertRequest{
		InputPath:  "local://in/a.mp4",
		OutputPath: "local://out/a.mp4",
		Operations: []map[string]interface{}{{"type": "transcode", "video_code": "libx264"}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "validation_error")
}
