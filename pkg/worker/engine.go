package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/CodecFlow/codecflow/pkg/events"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/metrics"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
	"github.com/CodecFlow/codecflow/pkg/media/command"
	"github.com/CodecFlow/codecflow/pkg/media/probe"
	"github.com/CodecFlow/codecflow/pkg/media/progress"
	"github.com/CodecFlow/codecflow/pkg/media/validate"
	"github.com/CodecFlow/codecflow/pkg/storage"
)

// Stage progress anchors. Encoding fills the 20..90 band; the other
// stages pin fixed percentages.
const (
	pctDownloading = 0
	pctAnalyzing   = 10
	pctProcessing  = 20
	pctUploading   = 90
	pctComplete    = 100

	processingBand = pctUploading - pctProcessing
)

// Config holds per-worker settings.
type Config struct {
	WorkerID      string
	FFmpegBinary  string
	FFprobeBinary string
	TaskTimeLimit time.Duration
	TempRoot      string
}

func (c *Config) applyDefaults() {
	if c.WorkerID == "" {
		host, _ := os.Hostname()
		c.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if c.FFmpegBinary == "" {
		c.FFmpegBinary = "ffmpeg"
	}
	if c.FFprobeBinary == "" {
		c.FFprobeBinary = "ffprobe"
	}
	if c.TaskTimeLimit <= 0 {
		c.TaskTimeLimit = 6 * time.Hour
	}
}

// Engine runs one job at a time from download through upload.
type Engine struct {
	db       *jobstore.Database
	registry *storage.Registry
	hub      *events.Hub
	webhooks *events.WebhookDeliverer
	temp     *TempManager
	builder  *command.Builder
	prober   *probe.Prober
	cfg      Config
	stats    *metrics.Metrics
	logger   *logging.Logger
}

func NewEngine(db *jobstore.Database, registry *storage.Registry, hub *events.Hub,
	webhooks *events.WebhookDeliverer, caps command.Caps, cfg Config, logger *logging.Logger) (*Engine, error) {

	cfg.applyDefaults()
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	temp, err := NewTempManager(cfg.TempRoot, logger)
	if err != nil {
		return nil, err
	}
	temp.SweepOrphans()

	return &Engine{
		db:       db,
		registry: registry,
		hub:      hub,
		webhooks: webhooks,
		temp:     temp,
		builder:  command.NewBuilder(caps),
		prober:   probe.NewProber(cfg.FFprobeBinary),
		cfg:      cfg,
		logger:   logger.WithComponent("worker"),
	}, nil
}

// WorkerID identifies this engine in job records.
func (e *Engine) WorkerID() string { return e.cfg.WorkerID }

// SetMetrics attaches collectors for completion counts, processing
// duration, and the active job gauge.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.stats = m }

// Process executes one dequeued job to a terminal state. Cancelling
// ctx terminates the tool and marks the job cancelled. The returned
// error reports processing failures that were already recorded on the
// job; callers use it only for logging.
func (e *Engine) Process(ctx context.Context, jobID uuid.UUID) error {
	// Terminal writes must land even after cancellation.
	finalCtx := context.WithoutCancel(ctx)

	job, err := e.db.GetJob(finalCtx, jobID, "")
	if err != nil {
		return err
	}

	if err := e.db.MarkStarted(finalCtx, job.ID, e.cfg.WorkerID); err != nil {
		if errors.Is(err, jobstore.ErrInvalidTransition) {
			// Cancelled while queued.
			return nil
		}
		return err
	}
	started := time.Now()
	if e.stats != nil {
		e.stats.ActiveJobs.Inc()
		defer e.stats.ActiveJobs.Dec()
	}

	e.publish(finalCtx, job, events.Event{
		JobID:    job.ID,
		Type:     events.TypeStart,
		Status:   string(jobstore.StatusProcessing),
		Stage:    jobstore.StageDownloading,
		Progress: pctDownloading,
	})

	ws, err := e.temp.Acquire(job.ID)
	if err != nil {
		return e.fail(finalCtx, job, "processing failed", err, nil)
	}
	defer ws.Release()

	err = e.run(ctx, finalCtx, job, ws, started)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return e.cancelled(finalCtx, job)
	}

	var terr *toolError
	switch {
	case errors.As(err, &terr) && terr.timedOut:
		return e.fail(finalCtx, job, "processing timeout", err, terr.tail)
	case errors.As(err, &terr):
		return e.fail(finalCtx, job, "processing failed", err, terr.tail)
	case storage.IsNotFound(err):
		return e.fail(finalCtx, job, "input file not found", err, nil)
	default:
		return e.fail(finalCtx, job, "processing failed", err, nil)
	}
}

// run is the happy path; any error is classified by Process.
func (e *Engine) run(ctx, finalCtx context.Context, job *jobstore.Job, ws *Workspace, started time.Time) error {
	reporter := newReporter(e, job)

	ops, err := validate.DecodeOperations(job.Operations)
	if err != nil {
		return err
	}
	var opts *validate.Options
	if len(job.Options) > 0 && string(job.Options) != "{}" {
		opts = &validate.Options{}
		if err := json.Unmarshal(job.Options, opts); err != nil {
			return err
		}
	}

	// Download.
	reporter.stage(finalCtx, jobstore.StageDownloading, pctDownloading)
	inputLocal, err := e.download(ctx, job.InputPath, ws.InputDir)
	if err != nil {
		return err
	}
	concatList, localOps, err := e.prepareConcat(ctx, ops, ws)
	if err != nil {
		return err
	}
	ops = localOps

	// Probe.
	reporter.stage(finalCtx, jobstore.StageAnalyzing, pctAnalyzing)
	result, err := e.prober.Probe(ctx, inputLocal)
	if err != nil {
		return err
	}
	duration, hasDuration := result.Duration()

	// Encode.
	reporter.stage(finalCtx, jobstore.StageProcessing, pctProcessing)
	outputLocal := filepath.Join(ws.OutputDir, filepath.Base(job.OutputPath))
	metrics, err := e.encode(ctx, finalCtx, job, reporter, &command.Request{
		InputPath:      inputLocal,
		OutputPath:     outputLocal,
		Operations:     ops,
		Options:        opts,
		ConcatListPath: concatList,
	}, duration, hasDuration, ws)
	if err != nil {
		return err
	}

	// Upload.
	reporter.stage(finalCtx, jobstore.StageUploading, pctUploading)
	outputMeta, err := e.upload(ctx, job.OutputPath, ws.OutputDir, outputLocal, ops)
	if err != nil {
		return err
	}

	completion := &jobstore.CompletionResult{
		OutputMetadata: outputMeta,
		ProcessingTime: time.Since(started).Seconds(),
	}
	if metrics != nil {
		completion.VMAFScore = metrics.VMAF
		completion.PSNRScore = metrics.PSNR
		completion.SSIMScore = metrics.SSIM
	}
	if err := e.db.Complete(finalCtx, job.ID, completion); err != nil {
		return err
	}
	if e.stats != nil {
		e.stats.ProcessingDuration.WithLabelValues(job.Queue).Observe(completion.ProcessingTime)
	}

	e.publish(finalCtx, job, events.Event{
		JobID:    job.ID,
		Type:     events.TypeComplete,
		Status:   string(jobstore.StatusCompleted),
		Stage:    jobstore.StageComplete,
		Progress: pctComplete,
	})
	e.logger.Info("job completed", map[string]interface{}{
		"job_id":          job.ID.String(),
		"processing_time": completion.ProcessingTime,
	})
	return nil
}

// encode runs the tool, orchestrating both passes when the job asked
// for two-pass encoding. Pass 1 reports no line progress; pass 2
// progress is remapped onto the upper half of the encoding band.
func (e *Engine) encode(ctx, finalCtx context.Context, job *jobstore.Job, reporter *progressReporter,
	req *command.Request, duration float64, hasDuration bool, ws *Workspace) (*qualityMetrics, error) {

	onProgress := func(scale, offset float64) func(*progress.Update) {
		return func(u *progress.Update) {
			if u.Percentage == nil {
				return
			}
			encodePct := offset + *u.Percentage*scale
			overall := pctProcessing + encodePct/100*processingBand
			reporter.progress(finalCtx, overall, u)
		}
	}

	if twoPass(req.Operations) {
		prefix := filepath.Join(ws.Root, "passlog")
		defer cleanPassLogs(prefix)

		// Each pass gets half the overall budget.
		passTimeout := e.cfg.TaskTimeLimit / 2

		pass1 := *req
		pass1.Pass = 1
		pass1.PassLogPrefix = prefix
		inv, err := e.builder.Build(&pass1)
		if err != nil {
			return nil, err
		}
		if _, err := runTool(ctx, e.cfg.FFmpegBinary, inv.Args, passTimeout, nil, nil); err != nil {
			return nil, err
		}
		reporter.progress(finalCtx, pctProcessing+float64(processingBand)/2, nil)

		pass2 := *req
		pass2.Pass = 2
		pass2.PassLogPrefix = prefix
		inv, err = e.builder.Build(&pass2)
		if err != nil {
			return nil, err
		}
		parser := progress.NewParser(duration, hasDuration)
		return runTool(ctx, e.cfg.FFmpegBinary, inv.Args, passTimeout, parser, onProgress(0.5, 50))
	}

	inv, err := e.builder.Build(req)
	if err != nil {
		return nil, err
	}
	if inv.ConcatList != "" && req.ConcatListPath != "" {
		if err := os.WriteFile(req.ConcatListPath, []byte(inv.ConcatList), 0o644); err != nil {
			return nil, err
		}
	}
	parser := progress.NewParser(duration, hasDuration)
	return runTool(ctx, e.cfg.FFmpegBinary, inv.Args, e.cfg.TaskTimeLimit, parser, onProgress(1, 0))
}

// download copies the input object into the workspace.
func (e *Engine) download(ctx context.Context, uri, dir string) (string, error) {
	backend, rel, err := e.registry.Resolve(uri)
	if err != nil {
		return "", err
	}
	r, err := backend.ReadStream(ctx, rel)
	if err != nil {
		return "", err
	}
	defer r.Close()

	local := filepath.Join(dir, filepath.Base(rel))
	f, err := os.Create(local)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return local, nil
}

// prepareConcat downloads concat inputs and rewrites the operation to
// local paths. Returns the concat list file path when applicable.
func (e *Engine) prepareConcat(ctx context.Context, ops []validate.Operation, ws *Workspace) (string, []validate.Operation, error) {
	for i, op := range ops {
		concat, ok := op.(*validate.Concat)
		if !ok {
			continue
		}
		local := &validate.Concat{Type: concat.Type, Mode: concat.Mode}
		for _, input := range concat.Inputs {
			path, err := e.download(ctx, input, ws.InputDir)
			if err != nil {
				return "", nil, err
			}
			local.Inputs = append(local.Inputs, path)
		}
		rewritten := append([]validate.Operation{}, ops...)
		rewritten[i] = local
		return filepath.Join(ws.Root, "concat.txt"), rewritten, nil
	}
	return "", ops, nil
}

// upload copies the result to the output backend. Streaming packages
// produce a directory of segments; everything else is a single file.
func (e *Engine) upload(ctx context.Context, uri, outputDir, outputLocal string, ops []validate.Operation) (map[string]any, error) {
	backend, rel, err := e.registry.Resolve(uri)
	if err != nil {
		return nil, err
	}

	if isStreaming(ops) {
		total, files, err := e.uploadTree(ctx, backend, outputDir, filepath.Dir(rel))
		if err != nil {
			return nil, err
		}
		return map[string]any{"size_bytes": total, "files": files, "playlist": rel}, nil
	}

	f, err := os.Open(outputLocal)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	written, err := backend.WriteStream(ctx, rel, f)
	if err != nil {
		return nil, err
	}
	return map[string]any{"size_bytes": written}, nil
}

func (e *Engine) uploadTree(ctx context.Context, backend storage.Backend, dir, prefix string) (int64, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}

	var total int64
	files := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return total, files, err
		}
		written, err := backend.WriteStream(ctx, filepath.Join(prefix, entry.Name()), f)
		f.Close()
		if err != nil {
			return total, files, err
		}
		total += written
		files++
	}
	return total, files, nil
}

func (e *Engine) fail(ctx context.Context, job *jobstore.Job, message string, cause error, tail []string) error {
	fields := map[string]interface{}{
		"job_id": job.ID.String(),
		"error":  cause.Error(),
	}
	if len(tail) > 0 {
		fields["stderr_tail"] = tail
	}
	e.logger.Error("job failed", fields)

	var details map[string]any
	if len(tail) > 0 {
		// The tail stays in internal records; List/Get responses expose
		// only the sanitized message.
		details = map[string]any{"stderr_tail": tail}
	}
	if err := e.db.Fail(ctx, job.ID, message, details); err != nil {
		return err
	}

	e.publish(ctx, job, events.Event{
		JobID:  job.ID,
		Type:   events.TypeError,
		Status: string(jobstore.StatusFailed),
		Error:  message,
	})
	return cause
}

func (e *Engine) cancelled(ctx context.Context, job *jobstore.Job) error {
	if err := e.db.Cancel(ctx, job.ID, ""); err != nil && !errors.Is(err, jobstore.ErrInvalidTransition) {
		return err
	}
	e.publish(ctx, job, events.Event{
		JobID:  job.ID,
		Type:   events.TypeCancelled,
		Status: string(jobstore.StatusCancelled),
	})
	e.logger.Info("job cancelled", map[string]interface{}{
		"job_id": job.ID.String(),
	})
	return nil
}

// terminalRetention is how long a job's terminal event stays available
// to late stream subscribers before the hub forgets it.
const terminalRetention = time.Hour

// publish fans an event out to stream subscribers and, asynchronously,
// the job's webhook.
func (e *Engine) publish(ctx context.Context, job *jobstore.Job, event events.Event) {
	e.hub.Publish(event)
	if event.Terminal() {
		if e.stats != nil {
			e.stats.JobsCompleted.WithLabelValues(event.Status).Inc()
		}
		id := job.ID
		time.AfterFunc(terminalRetention, func() { e.hub.Forget(id) })
	}
	if e.webhooks != nil {
		go e.webhooks.Deliver(ctx, job, event)
	}
}

func twoPass(ops []validate.Operation) bool {
	for _, op := range ops {
		if t, ok := op.(*validate.Transcode); ok && t.TwoPass {
			return true
		}
	}
	return false
}

func isStreaming(ops []validate.Operation) bool {
	for _, op := range ops {
		if _, ok := op.(*validate.Stream); ok {
			return true
		}
	}
	return false
}
