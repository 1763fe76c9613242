package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/CodecFlow/codecflow/pkg/events"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
	"github.com/CodecFlow/codecflow/pkg/media/validate"
	"github.com/CodecFlow/codecflow/pkg/scheduler"
)

const maxRequestBody = 1 << 20

// preparedJob is a validated submission ready for insert + enqueue.
type preparedJob struct {
	job   *jobstore.Job
	queue string
}

// prepare validates one submission and builds the job row.
func (s *Server) prepare(req *ConvertRequest, key *jobstore.APIKey) (*preparedJob, error) {
	if err := validate.ValidateStoragePath("input_path", req.InputPath); err != nil {
		return nil, err
	}
	if err := validate.ValidateStoragePath("output_path", req.OutputPath); err != nil {
		return nil, err
	}
	outBackend, _, err := s.registry.Resolve(req.OutputPath)
	if err != nil {
		return nil, &validate.ValidationError{Field: "output_path", Message: "unknown storage backend"}
	}
	if !s.registry.OutputAllowed(outBackend.Name()) {
		return nil, &validate.ValidationError{
			Field:   "output_path",
			Message: fmt.Sprintf("backend %q is not an allowed output target", outBackend.Name()),
		}
	}
	if err := validate.ValidateWebhookURL(req.WebhookURL); err != nil {
		return nil, err
	}
	if err := validate.ValidateWebhookEvents(req.WebhookEvents); err != nil {
		return nil, err
	}

	priority := jobstore.JobPriority(req.Priority)
	if req.Priority == "" {
		priority = jobstore.PriorityNormal
	}
	if !jobstore.ValidPriority(priority) {
		return nil, &validate.ValidationError{Field: "priority", Message: "must be low, normal, or high"}
	}

	ops, err := s.validator.ValidateOperations(req.Operations)
	if err != nil {
		return nil, err
	}
	var opts *validate.Options
	if req.Options != nil {
		opts, err = s.validator.ValidateOptions(req.Options)
		if err != nil {
			return nil, err
		}
	}

	opsJSON, err := validate.EncodeOperations(ops)
	if err != nil {
		return nil, err
	}
	optsJSON := []byte(`{}`)
	if opts != nil {
		if optsJSON, err = json.Marshal(opts); err != nil {
			return nil, err
		}
	}

	job := &jobstore.Job{
		ID:         uuid.New(),
		Priority:   priority,
		Queue:      scheduler.RouteQueue(ops),
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		Options:    optsJSON,
		Operations: opsJSON,
		APIKeyID:   key.ID.String(),
	}
	if req.WebhookURL != "" {
		job.WebhookURL = &req.WebhookURL
		job.WebhookEvents = req.WebhookEvents
	}
	return &preparedJob{job: job, queue: job.Queue}, nil
}

// submit inserts and enqueues one prepared job, rolling back the
// insert when the enqueue fails.
func (s *Server) submit(r *http.Request, p *preparedJob, key *jobstore.APIKey) error {
	if err := s.db.CreateJob(r.Context(), p.job, key.MaxConcurrentJobs); err != nil {
		return err
	}
	if err := s.sched.Enqueue(p.job.ID, key.ID.String(), p.job.Priority, p.queue, key.MaxConcurrentJobs); err != nil {
		if derr := s.db.DeleteJob(r.Context(), p.job.ID); derr != nil {
			s.logger.Error("failed to roll back job insert", map[string]interface{}{
				"job_id": p.job.ID.String(),
				"error":  derr.Error(),
			})
		}
		return err
	}
	if s.metrics != nil {
		s.metrics.JobsSubmitted.WithLabelValues(p.queue, string(p.job.Priority)).Inc()
	}
	return nil
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())

	var req ConvertRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	p, err := s.prepare(&req, key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.submit(r, p, key); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitResponse{
		JobID: p.job.ID.String(),
		Links: jobLinks(p.job.ID.String()),
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())

	var req BatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if len(req.Jobs) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "batch must contain at least one job", "jobs")
		return
	}
	if len(req.Jobs) > 100 {
		writeError(w, http.StatusBadRequest, codeValidation, "batch exceeds 100 jobs", "jobs")
		return
	}

	// Validate everything before inserting anything.
	batchID := uuid.New().String()
	prepared := make([]*preparedJob, 0, len(req.Jobs))
	for i := range req.Jobs {
		p, err := s.prepare(&req.Jobs[i], key)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		idx := i
		p.job.BatchID = &batchID
		p.job.BatchIndex = &idx
		prepared = append(prepared, p)
	}

	jobIDs := make([]string, 0, len(prepared))
	for i, p := range prepared {
		if err := s.submit(r, p, key); err != nil {
			// All-or-nothing: unwind the members already accepted.
			for _, accepted := range prepared[:i] {
				s.sched.CancelQueued(accepted.job.ID)
				s.db.DeleteJob(r.Context(), accepted.job.ID)
			}
			writeDomainError(w, err)
			return
		}
		jobIDs = append(jobIDs, p.job.ID.String())
	}

	writeJSON(w, http.StatusCreated, BatchResponse{BatchID: batchID, JobIDs: jobIDs})
}

// scopeFor returns the tenant filter: admins see every key's jobs.
func scopeFor(key *jobstore.APIKey) string {
	if key.IsAdmin {
		return ""
	}
	return key.ID.String()
}

func (s *Server) fetchJob(w http.ResponseWriter, r *http.Request) *jobstore.Job {
	key := keyFromContext(r.Context())

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid job id", "id")
		return nil
	}

	job, err := s.db.GetJob(r.Context(), id, scopeFor(key))
	if err != nil {
		writeDomainError(w, err)
		return nil
	}
	return job
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if job := s.fetchJob(w, r); job != nil {
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())
	q := r.URL.Query()

	filter := jobstore.ListFilter{
		APIKeyID: scopeFor(key),
		Queue:    q.Get("queue"),
		BatchID:  q.Get("batch_id"),
	}
	if status := q.Get("status"); status != "" {
		filter.Status = jobstore.JobStatus(status)
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Page = page
	}
	if perPage, err := strconv.Atoi(q.Get("per_page")); err == nil {
		filter.PerPage = perPage
	}
	// Sort is "field:dir", e.g. created_at:desc.
	if sort := q.Get("sort"); sort != "" {
		field, dir, _ := strings.Cut(sort, ":")
		filter.SortBy = field
		filter.SortDesc = dir != "asc"
	}

	jobs, total, err := s.db.ListJobs(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]*JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, toJobResponse(job))
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 20
	}
	writeJSON(w, http.StatusOK, ListResponse{Jobs: responses, Total: total, Page: page, PerPage: perPage})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())

	job := s.fetchJob(w, r)
	if job == nil {
		return
	}

	// Cancelling a terminal job is a no-op.
	if job.Status.IsTerminal() {
		writeJSON(w, http.StatusOK, toJobResponse(job))
		return
	}

	if s.sched.CancelQueued(job.ID) {
		if err := s.db.Cancel(r.Context(), job.ID, scopeFor(key)); err != nil && !errors.Is(err, jobstore.ErrInvalidTransition) {
			writeDomainError(w, err)
			return
		}
		s.hub.Publish(events.Event{
			JobID:  job.ID,
			Type:   events.TypeCancelled,
			Status: string(jobstore.StatusCancelled),
		})
		id := job.ID
		time.AfterFunc(time.Hour, func() { s.hub.Forget(id) })
	} else if !s.sched.CancelRunning(job.ID) {
		// Not queued here and no running registration; another process
		// owns it or it just finished. Try a direct transition.
		if err := s.db.Cancel(r.Context(), job.ID, scopeFor(key)); err != nil && !errors.Is(err, jobstore.ErrInvalidTransition) {
			writeDomainError(w, err)
			return
		}
	}

	current, err := s.db.GetJob(r.Context(), job.ID, scopeFor(key))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(current))
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	if job := s.fetchJob(w, r); job != nil {
		s.sse.Serve(w, r, job)
	}
}

func (s *Server) handleJobWS(w http.ResponseWriter, r *http.Request) {
	if job := s.fetchJob(w, r); job != nil {
		s.ws.Serve(w, r, job)
	}
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	job := s.fetchJob(w, r)
	if job == nil {
		return
	}

	limit := 0
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = n
	}
	logs, err := s.db.GetLogs(r.Context(), job.ID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(logs) == 0 {
		logs = synthesizeLogs(job)
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID.String(), "logs": logs})
}

// synthesizeLogs reconstructs a lifecycle log from the job row for
// jobs processed before log persistence existed.
func synthesizeLogs(job *jobstore.Job) []*jobstore.LogEntry {
	logs := []*jobstore.LogEntry{
		{JobID: job.ID, Level: "info", Message: "job created", CreatedAt: job.CreatedAt},
	}
	if job.StartedAt != nil {
		logs = append(logs, &jobstore.LogEntry{
			JobID: job.ID, Level: "info", Message: "processing started", CreatedAt: *job.StartedAt,
		})
	}
	if job.CompletedAt != nil {
		message := "job " + string(job.Status)
		level := "info"
		if job.Status == jobstore.StatusFailed {
			level = "error"
			if job.ErrorMessage != nil {
				message = *job.ErrorMessage
			}
		}
		logs = append(logs, &jobstore.LogEntry{
			JobID: job.ID, Level: level, Message: message, CreatedAt: *job.CompletedAt,
		})
	}
	return logs
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":        stats,
		"queue_depth": s.sched.Depths(),
	})
}

func (s *Server) handleAdminCleanup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DryRun        bool `json:"dry_run"`
		RetentionDays int  `json:"retention_days,omitempty"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	retention := s.retention
	if req.RetentionDays > 0 {
		retention = time.Duration(req.RetentionDays) * 24 * time.Hour
	}

	count, err := s.db.CleanupOld(r.Context(), time.Now().Add(-retention), req.DryRun)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"affected": count, "dry_run": req.DryRun})
}

// handleHealth is unauthenticated: liveness plus dependency checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true
	checks := map[string]string{}

	if err := s.db.Ping(r.Context()); err != nil {
		healthy = false
		checks["database"] = "unreachable"
	} else {
		checks["database"] = "ok"
	}

	for name, status := range s.registry.Status(r.Context()) {
		if status.Available {
			checks["storage:"+name] = "ok"
		} else {
			healthy = false
			checks["storage:"+name] = "unavailable"
		}
	}

	code := http.StatusOK
	status := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body", "")
		return err
	}
	return nil
}
