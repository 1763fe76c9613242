package worker

import (
	"context"
	"sync"
	"time"

	"github.com/CodecFlow/codecflow/pkg/events"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
	"github.com/CodecFlow/codecflow/pkg/media/progress"
)

const (
	// progressMinInterval and progressMinDelta gate store writes so a
	// fast encode does not hammer the job row.
	progressMinInterval = 500 * time.Millisecond
	progressMinDelta    = 0.5
)

// throttleGate is the time+delta filter on progress writes.
type throttleGate struct {
	lastPct   float64
	lastWrite time.Time
}

func newThrottleGate() *throttleGate {
	return &throttleGate{lastPct: -1}
}

// allow reports whether a sample at pct should be written now, and
// records it if so.
func (g *throttleGate) allow(pct float64, now time.Time) bool {
	if now.Sub(g.lastWrite) < progressMinInterval && pct-g.lastPct < progressMinDelta {
		return false
	}
	g.lastPct = pct
	g.lastWrite = now
	return true
}

// progressReporter throttles progress writes and mirrors them to the
// event hub. Stage changes always flush.
type progressReporter struct {
	engine *Engine
	job    *jobstore.Job

	mu        sync.Mutex
	stageName string
	gate      *throttleGate
}

func newReporter(e *Engine, job *jobstore.Job) *progressReporter {
	return &progressReporter{engine: e, job: job, gate: newThrottleGate()}
}

// stage records a stage transition, bypassing the throttle.
func (r *progressReporter) stage(ctx context.Context, stage string, pct float64) {
	r.mu.Lock()
	r.stageName = stage
	r.gate.lastPct = pct
	r.gate.lastWrite = time.Now()
	r.mu.Unlock()

	if err := r.engine.db.AppendLog(ctx, r.job.ID, "info", "entered stage "+stage); err != nil {
		r.engine.logger.Debug("lifecycle log write failed", map[string]interface{}{
			"job_id": r.job.ID.String(),
			"error":  err.Error(),
		})
	}
	r.write(ctx, pct, stage, nil, nil)
}

// progress records an encoding progress sample, subject to the
// time+delta gate. A nil update carries only the percentage (used for
// the pass-1 to pass-2 handoff).
func (r *progressReporter) progress(ctx context.Context, pct float64, update *progress.Update) {
	r.mu.Lock()
	if !r.gate.allow(pct, time.Now()) {
		r.mu.Unlock()
		return
	}
	stage := r.stageName
	r.mu.Unlock()

	var fps *float64
	var eta *int
	if update != nil {
		fps = update.FPS
		if update.Speed != nil && update.Percentage != nil && *update.Speed > 0 && *update.Percentage < 100 {
			remaining := (100 - *update.Percentage) / 100
			if update.Time != nil && *update.Percentage > 0 {
				total := *update.Time / (*update.Percentage / 100)
				secs := int(total * remaining / *update.Speed)
				eta = &secs
			}
		}
	}

	r.write(ctx, pct, stage, fps, eta)
}

func (r *progressReporter) write(ctx context.Context, pct float64, stage string, fps *float64, eta *int) {
	if err := r.engine.db.UpdateProgress(ctx, r.job.ID, pct, stage, fps, eta); err != nil {
		r.engine.logger.Warn("progress update failed", map[string]interface{}{
			"job_id": r.job.ID.String(),
			"error":  err.Error(),
		})
	}

	r.engine.publish(ctx, r.job, events.Event{
		JobID:      r.job.ID,
		Type:       events.TypeProgress,
		Status:     string(jobstore.StatusProcessing),
		Stage:      stage,
		Progress:   pct,
		FPS:        fps,
		ETASeconds: eta,
	})
}
