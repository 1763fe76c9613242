package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when a job does not exist or belongs to
	// another key.
	ErrNotFound = errors.New("job not found")

	// ErrTooManyActiveJobs is returned when a key is at its concurrent
	// job cap.
	ErrTooManyActiveJobs = errors.New("too many active jobs for api key")

	// ErrInvalidTransition is returned when a status change is not
	// permitted from the job's current state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

const jobColumns = `id, status, priority, queue, input_path, output_path,
	input_metadata, output_metadata, options, operations,
	progress, stage, fps, eta_seconds,
	vmaf_score, psnr_score, ssim_score,
	created_at, started_at, completed_at,
	error_message, error_details, retry_count,
	worker_id, processing_time, api_key_id,
	webhook_url, webhook_events, batch_id, batch_index`

func scanJob(row pgx.Row) (*Job, error) {
	job := &Job{}
	err := row.Scan(
		&job.ID, &job.Status, &job.Priority, &job.Queue,
		&job.InputPath, &job.OutputPath,
		&job.InputMetadata, &job.OutputMetadata,
		&job.Options, &job.Operations,
		&job.Progress, &job.Stage, &job.FPS, &job.ETASeconds,
		&job.VMAFScore, &job.PSNRScore, &job.SSIMScore,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		&job.ErrorMessage, &job.ErrorDetails, &job.RetryCount,
		&job.WorkerID, &job.ProcessingTime, &job.APIKeyID,
		&job.WebhookURL, &job.WebhookEvents, &job.BatchID, &job.BatchIndex,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return job, nil
}

// CreateJob inserts a job, atomically enforcing the per-key active job
// cap. A cap of zero disables the check.
func (db *Database) CreateJob(ctx context.Context, job *Job, maxConcurrent int) error {
	return db.WithRetry(ctx, func(ctx context.Context) error {
		tx, err := db.BeginTx(ctx, pgx.Serializable)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if maxConcurrent > 0 {
			var active int
			err := tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM jobs
				 WHERE api_key_id = $1 AND status IN ('queued', 'processing')`,
				job.APIKeyID).Scan(&active)
			if err != nil {
				return fmt.Errorf("failed to count active jobs: %w", err)
			}
			if active >= maxConcurrent {
				return ErrTooManyActiveJobs
			}
		}

		if job.ID == uuid.Nil {
			job.ID = uuid.New()
		}
		if job.Status == "" {
			job.Status = StatusQueued
		}
		if job.Priority == "" {
			job.Priority = PriorityNormal
		}
		if job.Stage == "" {
			job.Stage = StageQueued
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = time.Now().UTC()
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO jobs (
				id, status, priority, queue, input_path, output_path,
				input_metadata, output_metadata, options, operations,
				progress, stage, created_at, retry_count, api_key_id,
				webhook_url, webhook_events, batch_id, batch_index
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16, $17, $18, $19
			)`,
			job.ID, job.Status, job.Priority, job.Queue,
			job.InputPath, job.OutputPath,
			job.InputMetadata, job.OutputMetadata, job.Options, job.Operations,
			job.Progress, job.Stage, job.CreatedAt, job.RetryCount, job.APIKeyID,
			job.WebhookURL, job.WebhookEvents, job.BatchID, job.BatchIndex,
		)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// GetJob fetches a job. A non-empty apiKeyID scopes the lookup to that
// key's jobs; admins pass an empty string.
func (db *Database) GetJob(ctx context.Context, id uuid.UUID, apiKeyID string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	args := []any{id}
	if apiKeyID != "" {
		query += ` AND api_key_id = $2`
		args = append(args, apiKeyID)
	}
	return scanJob(db.pool.QueryRow(ctx, query, args...))
}

// ListFilter narrows and orders a job listing.
type ListFilter struct {
	APIKeyID string
	Status   JobStatus
	Queue    string
	BatchID  string
	SortBy   string
	SortDesc bool
	Page     int
	PerPage  int
}

// listSortColumns whitelists the sortable columns.
var listSortColumns = map[string]bool{
	"created_at":   true,
	"completed_at": true,
	"progress":     true,
	"status":       true,
	"priority":     true,
}

// ListJobs returns one page of jobs plus the total match count.
func (db *Database) ListJobs(ctx context.Context, filter ListFilter) ([]*Job, int64, error) {
	where := "WHERE 1=1"
	args := []any{}

	add := func(clause string, value any) {
		args = append(args, value)
		where += fmt.Sprintf(" AND %s = $%d", clause, len(args))
	}

	if filter.APIKeyID != "" {
		add("api_key_id", filter.APIKeyID)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	if filter.Queue != "" {
		add("queue", filter.Queue)
	}
	if filter.BatchID != "" {
		add("batch_id", filter.BatchID)
	}

	var total int64
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	sortBy := filter.SortBy
	if !listSortColumns[sortBy] {
		sortBy = "created_at"
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	perPage := filter.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	query := fmt.Sprintf("SELECT %s FROM jobs %s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		jobColumns, where, sortBy, direction, len(args)+1, len(args)+2)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

// QueuedJobs returns all queued jobs in creation order, for scheduler
// rebuild after a restart.
func (db *Database) QueuedJobs(ctx context.Context) ([]*Job, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'queued' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job row outright. Only the submit path uses it,
// to roll back an insert whose enqueue failed.
func (db *Database) DeleteJob(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// MarkStarted moves a queued job to processing and records the worker.
func (db *Database) MarkStarted(ctx context.Context, id uuid.UUID, workerID string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'processing', stage = $2, worker_id = $3, started_at = NOW()
		WHERE id = $1 AND status = 'queued'`,
		id, StageDownloading, workerID)
	if err != nil {
		return fmt.Errorf("failed to mark job started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// UpdateProgress records a progress sample. Progress never moves
// backwards and updates only apply while the job is processing.
func (db *Database) UpdateProgress(ctx context.Context, id uuid.UUID, progress float64, stage string, fps *float64, etaSeconds *int) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE jobs
		SET progress = GREATEST(progress, $2), stage = $3, fps = $4, eta_seconds = $5
		WHERE id = $1 AND status = 'processing'`,
		id, progress, stage, fps, etaSeconds)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// CompletionResult is the terminal payload for a successful job.
type CompletionResult struct {
	OutputMetadata map[string]any
	ProcessingTime float64
	VMAFScore      *float64
	PSNRScore      *float64
	SSIMScore      *float64
}

// Complete moves a processing job to completed.
func (db *Database) Complete(ctx context.Context, id uuid.UUID, result *CompletionResult) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', stage = $2, progress = 100,
			output_metadata = $3, processing_time = $4,
			vmaf_score = $5, psnr_score = $6, ssim_score = $7,
			worker_id = NULL, completed_at = NOW()
		WHERE id = $1 AND status = 'processing'`,
		id, StageComplete, result.OutputMetadata, result.ProcessingTime,
		result.VMAFScore, result.PSNRScore, result.SSIMScore)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Fail moves a queued or processing job to failed with a sanitized
// message.
func (db *Database) Fail(ctx context.Context, id uuid.UUID, message string, details map[string]any) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', error_message = $2, error_details = $3,
			worker_id = NULL, completed_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'processing')`,
		id, message, details)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Cancel moves a queued or processing job to cancelled. A non-empty
// apiKeyID restricts cancellation to the owning key.
func (db *Database) Cancel(ctx context.Context, id uuid.UUID, apiKeyID string) error {
	query := `
		UPDATE jobs
		SET status = 'cancelled', worker_id = NULL, completed_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'processing')`
	args := []any{id}
	if apiKeyID != "" {
		query += ` AND api_key_id = $2`
		args = append(args, apiKeyID)
	}

	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already-terminal for API mapping.
		if _, err := db.GetJob(ctx, id, apiKeyID); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// IncrementRetry bumps the retry counter and requeues the job.
func (db *Database) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued', stage = 'queued', retry_count = retry_count + 1,
			worker_id = NULL, started_at = NULL
		WHERE id = $1 AND status = 'processing'`,
		id)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// CountActive returns the number of queued or processing jobs for a
// key.
func (db *Database) CountActive(ctx context.Context, apiKeyID string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE api_key_id = $1 AND status IN ('queued', 'processing')`,
		apiKeyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

// CleanupOld removes terminal jobs older than the cutoff. With dryRun
// it only counts.
func (db *Database) CleanupOld(ctx context.Context, olderThan time.Time, dryRun bool) (int64, error) {
	if dryRun {
		var count int64
		err := db.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM jobs
			WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < $1`,
			olderThan).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("failed to count cleanup candidates: %w", err)
		}
		return count, nil
	}

	tag, err := db.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < $1`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats aggregates job counts for the admin surface.
func (db *Database) Stats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		ByStatus: make(map[string]int64),
		ByQueue:  make(map[string]int64),
	}

	rows, err := db.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	queueRows, err := db.pool.Query(ctx, `SELECT queue, COUNT(*) FROM jobs GROUP BY queue`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate queue counts: %w", err)
	}
	defer queueRows.Close()
	for queueRows.Next() {
		var queue string
		var count int64
		if err := queueRows.Scan(&queue, &count); err != nil {
			return nil, err
		}
		stats.ByQueue[queue] = count
	}
	if err := queueRows.Err(); err != nil {
		return nil, err
	}

	var avg *float64
	err = db.pool.QueryRow(ctx,
		`SELECT AVG(processing_time) FROM jobs WHERE status = 'completed'`).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("failed to compute average processing time: %w", err)
	}
	stats.AvgProcessingSecs = avg

	// Success rate over the trailing week, completed vs all terminal.
	var rate *float64
	err = db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'completed')::float8 / NULLIF(COUNT(*), 0)
		FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at > NOW() - INTERVAL '7 days'`).Scan(&rate)
	if err != nil {
		return nil, fmt.Errorf("failed to compute success rate: %w", err)
	}
	stats.SuccessRate7d = rate

	return stats, nil
}

// AppendLog retains one line of worker output for a job.
func (db *Database) AppendLog(ctx context.Context, jobID uuid.UUID, level, message string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO job_logs (job_id, level, message) VALUES ($1, $2, $3)`,
		jobID, level, message)
	if err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

// GetLogs returns up to limit log lines for a job in insertion order.
func (db *Database) GetLogs(ctx context.Context, jobID uuid.UUID, limit int) ([]*LogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	rows, err := db.pool.Query(ctx, `
		SELECT id, job_id, level, message, created_at
		FROM job_logs WHERE job_id = $1 ORDER BY id LIMIT $2`,
		jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query job logs: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		entry := &LogEntry{}
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Level, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
