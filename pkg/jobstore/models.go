// Package jobstore persists jobs and API keys in PostgreSQL.
package jobstore

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobPriority orders jobs within a queue.
type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
)

// ValidPriority reports whether p is one of the three bands.
func ValidPriority(p JobPriority) bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

// Processing stages in order. Stage changes drive the coarse progress
// floor while the encoder drives the fine-grained percentage.
const (
	StageQueued      = "queued"
	StageDownloading = "downloading"
	StageAnalyzing   = "analyzing"
	StageProcessing  = "processing"
	StageUploading   = "uploading"
	StageComplete    = "complete"
)

// Job is one processing job row.
type Job struct {
	ID       uuid.UUID   `json:"id"`
	Status   JobStatus   `json:"status"`
	Priority JobPriority `json:"priority"`
	Queue    string      `json:"queue"`

	InputPath      string         `json:"input_path"`
	OutputPath     string         `json:"output_path"`
	InputMetadata  map[string]any `json:"input_metadata,omitempty"`
	OutputMetadata map[string]any `json:"output_metadata,omitempty"`

	Options    []byte `json:"-"` // canonical JSON from the validator
	Operations []byte `json:"-"`

	Progress   float64  `json:"progress"`
	Stage      string   `json:"stage"`
	FPS        *float64 `json:"fps,omitempty"`
	ETASeconds *int     `json:"eta_seconds,omitempty"`

	VMAFScore *float64 `json:"vmaf_score,omitempty"`
	PSNRScore *float64 `json:"psnr_score,omitempty"`
	SSIMScore *float64 `json:"ssim_score,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorMessage *string        `json:"error_message,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
	RetryCount   int            `json:"retry_count"`

	WorkerID       *string  `json:"worker_id,omitempty"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`

	APIKeyID string `json:"-"`

	WebhookURL    *string  `json:"webhook_url,omitempty"`
	WebhookEvents []string `json:"webhook_events,omitempty"`

	BatchID    *string `json:"batch_id,omitempty"`
	BatchIndex *int    `json:"batch_index,omitempty"`
}

// IsComplete reports whether the job reached a terminal state.
func (j *Job) IsComplete() bool {
	return j.Status.IsTerminal()
}

// DurationSeconds returns the processing duration when both timestamps
// are set.
func (j *Job) DurationSeconds() (float64, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt).Seconds(), true
}

// APIKey is one credential row. The raw key is shown once at creation
// and only its bcrypt hash is stored; the prefix narrows the lookup.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`

	IsActive          bool `json:"is_active"`
	IsAdmin           bool `json:"is_admin"`
	MaxConcurrentJobs int  `json:"max_concurrent_jobs"`

	TotalRequests int64      `json:"total_requests"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`

	Description *string `json:"description,omitempty"`
}

// Valid reports whether the key may authenticate right now.
func (k *APIKey) Valid(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	if k.RevokedAt != nil && !k.RevokedAt.After(now) {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// JobStats is the aggregate shape returned by the admin stats
// endpoint.
type JobStats struct {
	Total             int64            `json:"total"`
	ByStatus          map[string]int64 `json:"by_status"`
	ByQueue           map[string]int64 `json:"by_queue"`
	AvgProcessingSecs *float64         `json:"avg_processing_seconds,omitempty"`
	SuccessRate7d     *float64         `json:"success_rate_7d,omitempty"`
}

// LogEntry is one line of worker output retained for a job.
type LogEntry struct {
	ID        int64     `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
