package jobstore

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(apiKeyID string) *Job {
	return &Job{
		InputPath:  "local://in/video.mp4",
		OutputPath: "local://out/video.mp4",
		Queue:      "default",
		Options:    []byte(`{}`),
		Operations: []byte(`[{"type":"transcode","video_codec":"libx264"}]`),
		APIKeyID:   apiKeyID,
	}
}

func TestJobLifecycle(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	job := newTestJob("key-1")
	require.NoError(t, db.CreateJob(ctx, job, 10))
	require.NotEqual(t, uuid.Nil, job.ID)

	got, err := db.GetJob(ctx, job.ID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, PriorityNormal, got.Priority)
	assert.Equal(t, StageQueued, got.Stage)
	assert.Equal(t, 0.0, got.Progress)

	require.NoError(t, db.MarkStarted(ctx, job.ID, "worker-a"))

	got, err = db.GetJob(ctx, job.ID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	require.NotNil(t, got.WorkerID)
	assert.Equal(t, "worker-a", *got.WorkerID)
	assert.NotNil(t, got.StartedAt)

	fps := 48.0
	require.NoError(t, db.UpdateProgress(ctx, job.ID, 42.5, StageProcessing, &fps, nil))

	require.NoError(t, db.Complete(ctx, job.ID, &CompletionResult{
		OutputMetadata: map[string]any{"size": 1024},
		ProcessingTime: 12.5,
	}))

	got, err = db.GetJob(ctx, job.ID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.Progress)
	assert.True(t, got.IsComplete())
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.WorkerID)
}

func TestJobTerminalTransitionsReleaseWorker(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	terminate := map[string]func(uuid.UUID) error{
		"complete": func(id uuid.UUID) error {
			return db.Complete(ctx, id, &CompletionResult{ProcessingTime: 1})
		},
		"fail": func(id uuid.UUID) error {
			return db.Fail(ctx, id, "boom", nil)
		},
		"cancel": func(id uuid.UUID) error {
			return db.Cancel(ctx, id, "")
		},
	}

	// worker_id is set only while the job is processing.
	for name, finish := range terminate {
		job := newTestJob("key-1")
		require.NoError(t, db.CreateJob(ctx, job, 0))
		require.NoError(t, db.MarkStarted(ctx, job.ID, "worker-a"))

		got, err := db.GetJob(ctx, job.ID, "")
		require.NoError(t, err)
		require.NotNil(t, got.WorkerID, name)

		require.NoError(t, finish(job.ID), name)

		got, err = db.GetJob(ctx, job.ID, "")
		require.NoError(t, err)
		assert.Nil(t, got.WorkerID, name)
	}
}

func TestJobTenantScoping(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	job := newTestJob("key-1")
	require.NoError(t, db.CreateJob(ctx, job, 0))

	_, err := db.GetJob(ctx, job.ID, "key-2")
	assert.ErrorIs(t, err, ErrNotFound)

	// Admin scope sees every key's jobs.
	_, err = db.GetJob(ctx, job.ID, "")
	assert.NoError(t, err)
}

func TestJobConcurrencyCap(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	require.NoError(t, db.CreateJob(ctx, newTestJob("key-cap"), 2))
	require.NoError(t, db.CreateJob(ctx, newTestJob("key-cap"), 2))

	err := db.CreateJob(ctx, newTestJob("key-cap"), 2)
	assert.ErrorIs(t, err, ErrTooManyActiveJobs)

	// Other keys are unaffected.
	assert.NoError(t, db.CreateJob(ctx, newTestJob("key-other"), 2))
}

func TestJobProgressMonotonic(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	job := newTestJob("key-1")
	require.NoError(t, db.CreateJob(ctx, job, 0))
	require.NoError(t, db.MarkStarted(ctx, job.ID, "worker-a"))

	require.NoError(t, db.UpdateProgress(ctx, job.ID, 60, StageProcessing, nil, nil))
	require.NoError(t, db.UpdateProgress(ctx, job.ID, 40, StageProcessing, nil, nil))

	got, err := db.GetJob(ctx, job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 60.0, got.Progress)
}

func TestJobTerminalTransitionGuards(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	job := newTestJob("key-1")
	require.NoError(t, db.CreateJob(ctx, job, 0))
	require.NoError(t, db.MarkStarted(ctx, job.ID, "worker-a"))
	require.NoError(t, db.Cancel(ctx, job.ID, ""))

	// Terminal jobs accept no further transitions.
	assert.ErrorIs(t, db.Complete(ctx, job.ID, &CompletionResult{}), ErrInvalidTransition)
	assert.ErrorIs(t, db.Fail(ctx, job.ID, "boom", nil), ErrInvalidTransition)
	assert.ErrorIs(t, db.Cancel(ctx, job.ID, ""), ErrInvalidTransition)
	assert.ErrorIs(t, db.UpdateProgress(ctx, job.ID, 50, StageProcessing, nil, nil), ErrInvalidTransition)
	assert.ErrorIs(t, db.MarkStarted(ctx, job.ID, "worker-b"), ErrInvalidTransition)
}

func TestJobCancelMissing(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	err := db.Cancel(ctx, uuid.New(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobFailFromQueued(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	job := newTestJob("key-1")
	require.NoError(t, db.CreateJob(ctx, job, 0))
	require.NoError(t, db.Fail(ctx, job.ID, "input not found", map[string]any{"code": "NOT_FOUND"}))

	got, err := db.GetJob(ctx, job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "input not found", *got.ErrorMessage)
}

func TestListJobsFiltersAndPagination(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.CreateJob(ctx, newTestJob("key-list"), 0))
	}
	other := newTestJob("key-other")
	require.NoError(t, db.CreateJob(ctx, other, 0))
	require.NoError(t, db.MarkStarted(ctx, other.ID, "worker-a"))

	jobs, total, err := db.ListJobs(ctx, ListFilter{APIKeyID: "key-list", PerPage: 2, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, jobs, 2)

	jobs, total, err = db.ListJobs(ctx, ListFilter{Status: StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, jobs, 1)
	assert.Equal(t, other.ID, jobs[0].ID)

	// Unknown sort columns fall back to created_at instead of
	// interpolating caller input.
	_, _, err = db.ListJobs(ctx, ListFilter{SortBy: "1; DROP TABLE jobs"})
	require.NoError(t, err)
	_, total, err = db.ListJobs(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
}

func TestBatchListing(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	batchID := "batch-1"
	for i := 0; i < 3; i++ {
		job := newTestJob("key-1")
		idx := i
		job.BatchID = &batchID
		job.BatchIndex = &idx
		require.NoError(t, db.CreateJob(ctx, job, 0))
	}

	jobs, total, err := db.ListJobs(ctx, ListFilter{BatchID: batchID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, jobs, 3)
}

func TestCleanupOld(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	job := newTestJob("key-1")
	require.NoError(t, db.CreateJob(ctx, job, 0))
	require.NoError(t, db.MarkStarted(ctx, job.ID, "w"))
	require.NoError(t, db.Complete(ctx, job.ID, &CompletionResult{}))

	// Fresh terminal job survives the retention cutoff.
	count, err := db.CleanupOld(ctx, time.Now().Add(-time.Hour), true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	count, err = db.CleanupOld(ctx, time.Now().Add(time.Hour), true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Dry run deleted nothing.
	_, err = db.GetJob(ctx, job.ID, "")
	require.NoError(t, err)

	count, err = db.CleanupOld(ctx, time.Now().Add(time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = db.GetJob(ctx, job.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStats(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	a := newTestJob("key-1")
	require.NoError(t, db.CreateJob(ctx, a, 0))
	b := newTestJob("key-1")
	require.NoError(t, db.CreateJob(ctx, b, 0))
	require.NoError(t, db.MarkStarted(ctx, b.ID, "w"))
	require.NoError(t, db.Complete(ctx, b.ID, &CompletionResult{ProcessingTime: 10}))

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus["queued"])
	assert.Equal(t, int64(1), stats.ByStatus["completed"])
	assert.Equal(t, int64(2), stats.ByQueue["default"])
	require.NotNil(t, stats.AvgProcessingSecs)
	assert.InDelta(t, 10.0, *stats.AvgProcessingSecs, 0.001)
	require.NotNil(t, stats.SuccessRate7d)
	assert.InDelta(t, 1.0, *stats.SuccessRate7d, 0.001)
}

func TestJobLogs(t *testing.T) {
	db, ctx := setupTestDatabase(t)

	job := newTestJob("key-1")
	require.NoError(t, db.CreateJob(ctx, job, 0))

	require.NoError(t, db.AppendLog(ctx, job.ID, "info", "download started"))
	require.NoError(t, db.AppendLog(ctx, job.ID, "error", "encoder warning"))

	logs, err := db.GetLogs(ctx, job.ID, 100)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "download started", logs[0].Message)
	assert.Equal(t, "error", logs[1].Level)
}
