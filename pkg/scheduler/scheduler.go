// Package scheduler dispatches queued jobs to workers. It keeps three
// named queues with three priority bands each, enforces per-tenant
// concurrency caps, and tracks running jobs so they can be cancelled.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
)

// Queue names. Workers subscribe to a subset according to their
// affinity; GPU workers serve the streaming queue.
const (
	QueueDefault   = "default"
	QueueAnalysis  = "analysis"
	QueueStreaming = "streaming"
)

var (
	// ErrTenantCapExceeded is returned when a tenant already has the
	// maximum number of non-terminal jobs.
	ErrTenantCapExceeded = errors.New("tenant concurrency cap exceeded")

	// ErrUnknownQueue is returned for queue names outside the fixed set.
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrClosed is returned once the scheduler has shut down.
	ErrClosed = errors.New("scheduler closed")
)

// Item is one queued dispatch entry.
type Item struct {
	JobID      uuid.UUID
	Tenant     string
	Priority   jobstore.JobPriority
	Queue      string
	EnqueuedAt time.Time

	seq uint64
}

// bandedQueue holds the three priority bands of one named queue.
// Bands are plain FIFO slices; dispatch order is high, normal, low.
type bandedQueue struct {
	high   []*Item
	normal []*Item
	low    []*Item
}

func (q *bandedQueue) push(item *Item) {
	switch item.Priority {
	case jobstore.PriorityHigh:
		q.high = append(q.high, item)
	case jobstore.PriorityLow:
		q.low = append(q.low, item)
	default:
		q.normal = append(q.normal, item)
	}
}

func (q *bandedQueue) pop() *Item {
	for _, band := range []*[]*Item{&q.high, &q.normal, &q.low} {
		if len(*band) > 0 {
			item := (*band)[0]
			*band = (*band)[1:]
			return item
		}
	}
	return nil
}

func (q *bandedQueue) remove(jobID uuid.UUID) bool {
	for _, band := range []*[]*Item{&q.high, &q.normal, &q.low} {
		for i, item := range *band {
			if item.JobID == jobID {
				*band = append((*band)[:i], (*band)[i+1:]...)
				return true
			}
		}
	}
	return false
}

func (q *bandedQueue) depth() int {
	return len(q.high) + len(q.normal) + len(q.low)
}

// Scheduler is safe for concurrent use. Queue state is guarded by a
// single mutex; Dequeue waits on the condition variable.
type Scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues map[string]*bandedQueue

	// queued + running per tenant; the sum is checked against the cap.
	queuedByTenant  map[string]int
	runningByTenant map[string]int
	tenantByJob     map[uuid.UUID]string

	// cancellation registry of running jobs
	running map[uuid.UUID]context.CancelFunc

	defaultCap int
	closed     bool
	seq        uint64

	logger *logging.Logger
}

// NewScheduler creates a scheduler with the given default per-tenant
// cap. A cap of zero or below falls back to 10.
func NewScheduler(defaultCap int, logger *logging.Logger) *Scheduler {
	if defaultCap <= 0 {
		defaultCap = 10
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Scheduler{
		queues: map[string]*bandedQueue{
			QueueDefault:   {},
			QueueAnalysis:  {},
			QueueStreaming: {},
		},
		queuedByTenant:  make(map[string]int),
		runningByTenant: make(map[string]int),
		tenantByJob:     make(map[uuid.UUID]string),
		running:         make(map[uuid.UUID]context.CancelFunc),
		defaultCap:      defaultCap,
		logger:          logger.WithComponent("scheduler"),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue inserts a job into its queue. The tenant cap is re-checked
// here even though the submit path already checked it against the
// store; the two checks race only in the tenant's favor.
func (s *Scheduler) Enqueue(jobID uuid.UUID, tenant string, priority jobstore.JobPriority, queue string, cap int) error {
	if cap <= 0 {
		cap = s.defaultCap
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	q, ok := s.queues[queue]
	if !ok {
		return ErrUnknownQueue
	}
	if s.queuedByTenant[tenant]+s.runningByTenant[tenant] >= cap {
		return ErrTenantCapExceeded
	}

	s.seq++
	q.push(&Item{
		JobID:      jobID,
		Tenant:     tenant,
		Priority:   priority,
		Queue:      queue,
		EnqueuedAt: time.Now().UTC(),
		seq:        s.seq,
	})
	s.queuedByTenant[tenant]++
	s.tenantByJob[jobID] = tenant
	s.cond.Broadcast()

	s.logger.Debug("job enqueued", map[string]interface{}{
		"job_id":   jobID.String(),
		"queue":    queue,
		"priority": string(priority),
	})
	return nil
}

// Dequeue blocks until a job is available on one of the given queues,
// the context is done, or the scheduler closes. The dequeued tenant's
// running count is incremented; the worker must call Finished when the
// job reaches a terminal state.
func (s *Scheduler) Dequeue(ctx context.Context, queues ...string) (*Item, error) {
	if len(queues) == 0 {
		queues = []string{QueueDefault}
	}

	// Wake waiters when the context fires; cond has no native
	// context support.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.closed {
			return nil, ErrClosed
		}
		if item := s.popLocked(queues); item != nil {
			s.queuedByTenant[item.Tenant]--
			if s.queuedByTenant[item.Tenant] <= 0 {
				delete(s.queuedByTenant, item.Tenant)
			}
			s.runningByTenant[item.Tenant]++
			return item, nil
		}
		s.cond.Wait()
	}
}

// popLocked scans the queues in high, normal, low band order, picking
// the oldest entry in the winning band across all requested queues.
func (s *Scheduler) popLocked(queues []string) *Item {
	for _, band := range []jobstore.JobPriority{jobstore.PriorityHigh, jobstore.PriorityNormal, jobstore.PriorityLow} {
		var best *Item
		var bestQueue *bandedQueue
		for _, name := range queues {
			q, ok := s.queues[name]
			if !ok {
				continue
			}
			if item := q.peekBand(band); item != nil {
				if best == nil || item.seq < best.seq {
					best = item
					bestQueue = q
				}
			}
		}
		if best != nil {
			bestQueue.remove(best.JobID)
			return best
		}
	}
	return nil
}

func (q *bandedQueue) peekBand(band jobstore.JobPriority) *Item {
	var s []*Item
	switch band {
	case jobstore.PriorityHigh:
		s = q.high
	case jobstore.PriorityLow:
		s = q.low
	default:
		s = q.normal
	}
	if len(s) == 0 {
		return nil
	}
	return s[0]
}

// CancelQueued removes a still-queued job. Reports whether the job was
// found in a queue.
func (s *Scheduler) CancelQueued(jobID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range s.queues {
		if q.remove(jobID) {
			if tenant, ok := s.tenantByJob[jobID]; ok {
				s.queuedByTenant[tenant]--
				if s.queuedByTenant[tenant] <= 0 {
					delete(s.queuedByTenant, tenant)
				}
				delete(s.tenantByJob, jobID)
			}
			return true
		}
	}
	return false
}

// RegisterRunning records the cancel function for a job a worker has
// taken ownership of.
func (s *Scheduler) RegisterRunning(jobID uuid.UUID, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[jobID] = cancel
}

// CancelRunning signals the worker owning the job, if any. Reports
// whether a running job was found.
func (s *Scheduler) CancelRunning(jobID uuid.UUID) bool {
	s.mu.Lock()
	cancel, ok := s.running[jobID]
	s.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Finished releases a job's tenant slot and cancellation registration.
// Must be called exactly once per dequeued job.
func (s *Scheduler) Finished(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, jobID)
	tenant, ok := s.tenantByJob[jobID]
	if !ok {
		return
	}
	delete(s.tenantByJob, jobID)
	s.runningByTenant[tenant]--
	if s.runningByTenant[tenant] <= 0 {
		delete(s.runningByTenant, tenant)
	}
}

// ActiveCount returns the tenant's queued plus running jobs as seen by
// the scheduler.
func (s *Scheduler) ActiveCount(tenant string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuedByTenant[tenant] + s.runningByTenant[tenant]
}

// Depths reports the per-queue backlog, for metrics.
func (s *Scheduler) Depths() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	depths := make(map[string]int, len(s.queues))
	for name, q := range s.queues {
		depths[name] = q.depth()
	}
	return depths
}

// Rebuild reloads queued jobs and running counts from the store after
// a restart. Caps are re-derived from live rows, so jobs orphaned by a
// crashed worker do not pin tenant slots forever once retried.
func (s *Scheduler) Rebuild(ctx context.Context, db *jobstore.Database) error {
	jobs, err := db.QueuedJobs(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, job := range jobs {
		q, ok := s.queues[job.Queue]
		if !ok {
			q = s.queues[QueueDefault]
		}
		s.seq++
		q.push(&Item{
			JobID:      job.ID,
			Tenant:     job.APIKeyID,
			Priority:   job.Priority,
			Queue:      job.Queue,
			EnqueuedAt: job.CreatedAt,
			seq:        s.seq,
		})
		s.queuedByTenant[job.APIKeyID]++
		s.tenantByJob[job.ID] = job.APIKeyID
		restored++
	}
	s.cond.Broadcast()

	s.logger.Info("queue state rebuilt from store", map[string]interface{}{
		"restored_jobs": restored,
	})
	return nil
}

// Sync folds queued store rows this scheduler has not seen into its
// queues. Workers running apart from the submission process poll the
// store through this. Caps are not re-checked; submission already
// enforced them. Returns the number of jobs admitted.
func (s *Scheduler) Sync(ctx context.Context, db *jobstore.Database) (int, error) {
	jobs, err := db.QueuedJobs(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	added := 0
	for _, job := range jobs {
		if _, known := s.tenantByJob[job.ID]; known {
			continue
		}
		q, ok := s.queues[job.Queue]
		if !ok {
			q = s.queues[QueueDefault]
		}
		s.seq++
		q.push(&Item{
			JobID:      job.ID,
			Tenant:     job.APIKeyID,
			Priority:   job.Priority,
			Queue:      job.Queue,
			EnqueuedAt: job.CreatedAt,
			seq:        s.seq,
		})
		s.queuedByTenant[job.APIKeyID]++
		s.tenantByJob[job.ID] = job.APIKeyID
		added++
	}
	if added > 0 {
		s.cond.Broadcast()
	}
	return added, nil
}

// Close wakes all waiters and rejects further enqueues.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}
