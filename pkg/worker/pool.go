package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
	"github.com/CodecFlow/codecflow/pkg/scheduler"
)

// PoolStats are cumulative counters for one worker process.
type PoolStats struct {
	Processed int64
	Failed    int64
	Active    int64
}

// Pool runs a fixed number of concurrent job slots against a queue
// set. GPU-affine workers typically run with a small slot count.
type Pool struct {
	engine *Engine
	sched  *scheduler.Scheduler
	queues []string
	slots  int
	logger *logging.Logger

	processed atomic.Int64
	failed    atomic.Int64
	active    atomic.Int64

	mu      sync.Mutex
	running map[*context.CancelFunc]struct{}

	wg   sync.WaitGroup
	stop context.CancelFunc
}

func NewPool(engine *Engine, sched *scheduler.Scheduler, slots int, queues []string, logger *logging.Logger) *Pool {
	if slots <= 0 {
		slots = 1
	}
	if len(queues) == 0 {
		queues = []string{scheduler.QueueDefault}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Pool{
		engine:  engine,
		sched:   sched,
		queues:  queues,
		slots:   slots,
		running: make(map[*context.CancelFunc]struct{}),
		logger:  logger.WithComponent("pool"),
	}
}

// Start launches the slot goroutines. They run until Shutdown.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.stop = cancel

	p.logger.Info("worker pool starting", map[string]interface{}{
		"worker_id": p.engine.WorkerID(),
		"slots":     p.slots,
		"queues":    p.queues,
	})

	for i := 0; i < p.slots; i++ {
		p.wg.Add(1)
		go p.slot(runCtx)
	}
}

func (p *Pool) slot(ctx context.Context) {
	defer p.wg.Done()

	for {
		item, err := p.sched.Dequeue(ctx, p.queues...)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, scheduler.ErrClosed) {
				return
			}
			continue
		}

		p.runJob(ctx, item)
	}
}

func (p *Pool) runJob(ctx context.Context, item *scheduler.Item) {
	// Detached from the run context so Shutdown's stop() ends
	// dequeuing without killing jobs mid-flight. The grace timeout
	// cancels stragglers explicitly.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	p.mu.Lock()
	p.running[&cancel] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, &cancel)
		p.mu.Unlock()
	}()

	p.sched.RegisterRunning(item.JobID, cancel)
	defer p.sched.Finished(item.JobID)

	p.active.Add(1)
	defer p.active.Add(-1)

	if err := p.engine.Process(jobCtx, item.JobID); err != nil {
		p.failed.Add(1)
	} else {
		p.processed.Add(1)
	}
}

// Shutdown stops dequeuing and waits up to timeout for in-flight jobs.
// Jobs still running after the timeout get their contexts cancelled,
// which terminates their tools and marks them cancelled.
func (p *Pool) Shutdown(timeout time.Duration) {
	if p.stop == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	// Cancelling the run context releases idle Dequeue waiters at
	// once; busy slots finish their current job within the grace
	// period.
	p.stop()

	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("shutdown timeout, cancelling in-flight jobs", map[string]interface{}{
			"active": p.active.Load(),
		})
		p.mu.Lock()
		for cancel := range p.running {
			(*cancel)()
		}
		p.mu.Unlock()
		<-done
	}

	p.logger.Info("worker pool stopped", map[string]interface{}{
		"processed": p.processed.Load(),
		"failed":    p.failed.Load(),
	})
}

// Stats snapshots the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Active:    p.active.Load(),
	}
}
