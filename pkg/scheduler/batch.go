package scheduler

import "github.com/CodecFlow/codecflow/pkg/jobstore"

// Batch statuses are derived from member jobs on read; nothing stores
// them.
const (
	BatchQueued         = "queued"
	BatchProcessing     = "processing"
	BatchCompleted      = "completed"
	BatchFailed         = "failed"
	BatchPartialSuccess = "partial_success"
)

// BatchStatus folds member job states into one batch state. Any
// non-terminal member keeps the batch processing; a fully terminal
// batch is completed, failed, or partial_success depending on the mix.
func BatchStatus(jobs []*jobstore.Job) string {
	if len(jobs) == 0 {
		return BatchQueued
	}

	var completed, failed, cancelled, queued int
	for _, job := range jobs {
		switch job.Status {
		case jobstore.StatusCompleted:
			completed++
		case jobstore.StatusFailed:
			failed++
		case jobstore.StatusCancelled:
			cancelled++
		case jobstore.StatusQueued:
			queued++
		}
	}

	if queued == len(jobs) {
		return BatchQueued
	}
	terminal := completed + failed + cancelled
	if terminal < len(jobs) {
		return BatchProcessing
	}
	switch {
	case completed == len(jobs):
		return BatchCompleted
	case completed == 0:
		return BatchFailed
	default:
		return BatchPartialSuccess
	}
}
