package api

import (
	"fmt"
	"time"

	"github.com/CodecFlow/codecflow/pkg/jobstore"
)

// ConvertRequest is the submit payload for a single job.
type ConvertRequest struct {
	InputPath     string                   `json:"input_path"`
	OutputPath    string                   `json:"output_path"`
	Operations    []map[string]interface{} `json:"operations"`
	Options       map[string]interface{}   `json:"options,omitempty"`
	Priority      string                   `json:"priority,omitempty"`
	WebhookURL    string                   `json:"webhook_url,omitempty"`
	WebhookEvents []string                 `json:"webhook_events,omitempty"`
}

// BatchRequest submits several jobs as one batch. Validation is
// all-or-nothing across the members.
type BatchRequest struct {
	Jobs []ConvertRequest `json:"jobs"`
}

// JobResponse is the client view of a job row.
type JobResponse struct {
	ID             string                 `json:"id"`
	Status         string                 `json:"status"`
	Priority       string                 `json:"priority"`
	Queue          string                 `json:"queue"`
	InputPath      string                 `json:"input_path"`
	OutputPath     string                 `json:"output_path"`
	Progress       float64                `json:"progress"`
	Stage          string                 `json:"stage"`
	FPS            *float64               `json:"fps,omitempty"`
	ETASeconds     *int                   `json:"eta_seconds,omitempty"`
	VMAFScore      *float64               `json:"vmaf_score,omitempty"`
	PSNRScore      *float64               `json:"psnr_score,omitempty"`
	SSIMScore      *float64               `json:"ssim_score,omitempty"`
	OutputMetadata map[string]any         `json:"output_metadata,omitempty"`
	Error          *string                `json:"error,omitempty"`
	RetryCount     int                    `json:"retry_count"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	ProcessingTime *float64               `json:"processing_time_seconds,omitempty"`
	BatchID        *string                `json:"batch_id,omitempty"`
	BatchIndex     *int                   `json:"batch_index,omitempty"`
	Links          map[string]string      `json:"links"`
}

// SubmitResponse acknowledges a single submission.
type SubmitResponse struct {
	JobID string            `json:"job_id"`
	Links map[string]string `json:"links"`
}

// BatchResponse acknowledges a batch submission.
type BatchResponse struct {
	BatchID string   `json:"batch_id"`
	JobIDs  []string `json:"job_ids"`
}

// ListResponse is a paginated job listing.
type ListResponse struct {
	Jobs    []*JobResponse `json:"jobs"`
	Total   int64          `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

func jobLinks(id string) map[string]string {
	return map[string]string{
		"self":   fmt.Sprintf("/api/v1/jobs/%s", id),
		"events": fmt.Sprintf("/api/v1/jobs/%s/events", id),
		"logs":   fmt.Sprintf("/api/v1/jobs/%s/logs", id),
	}
}

func toJobResponse(job *jobstore.Job) *JobResponse {
	return &JobResponse{
		ID:             job.ID.String(),
		Status:         string(job.Status),
		Priority:       string(job.Priority),
		Queue:          job.Queue,
		InputPath:      job.InputPath,
		OutputPath:     job.OutputPath,
		Progress:       job.Progress,
		Stage:          job.Stage,
		FPS:            job.FPS,
		ETASeconds:     job.ETASeconds,
		VMAFScore:      job.VMAFScore,
		PSNRScore:      job.PSNRScore,
		SSIMScore:      job.SSIMScore,
		OutputMetadata: job.OutputMetadata,
		Error:          job.ErrorMessage,
		RetryCount:     job.RetryCount,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		ProcessingTime: job.ProcessingTime,
		BatchID:        job.BatchID,
		BatchIndex:     job.BatchIndex,
		Links:          jobLinks(job.ID.String()),
	}
}
