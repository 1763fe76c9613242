package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodecFlow/codecflow/pkg/jobstore"
	"github.com/CodecFlow/codecflow/pkg/media/validate"
)

func mustDequeue(t *testing.T, s *Scheduler, queues ...string) *Item {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, err := s.Dequeue(ctx, queues...)
	require.NoError(t, err)
	return item
}

func TestPriorityBandOrdering(t *testing.T) {
	s := NewScheduler(10, nil)

	low := uuid.New()
	normal := uuid.New()
	high := uuid.New()

	require.NoError(t, s.Enqueue(low, "t1", jobstore.PriorityLow, QueueDefault, 0))
	require.NoError(t, s.Enqueue(normal, "t1", jobstore.PriorityNormal, QueueDefault, 0))
	require.NoError(t, s.Enqueue(high, "t1", jobstore.PriorityHigh, QueueDefault, 0))

	assert.Equal(t, high, mustDequeue(t, s, QueueDefault).JobID)
	assert.Equal(t, normal, mustDequeue(t, s, QueueDefault).JobID)
	assert.Equal(t, low, mustDequeue(t, s, QueueDefault).JobID)
}

func TestFIFOWithinBand(t *testing.T) {
	s := NewScheduler(10, nil)

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		id := uuid.New()
		ids = append(ids, id)
		require.NoError(t, s.Enqueue(id, "t1", jobstore.PriorityNormal, QueueDefault, 0))
	}
	for _, want := range ids {
		assert.Equal(t, want, mustDequeue(t, s, QueueDefault).JobID)
	}
}

func TestDequeueOldestAcrossQueues(t *testing.T) {
	s := NewScheduler(10, nil)

	first := uuid.New()
	second := uuid.New()
	require.NoError(t, s.Enqueue(first, "t1", jobstore.PriorityNormal, QueueStreaming, 0))
	require.NoError(t, s.Enqueue(second, "t1", jobstore.PriorityNormal, QueueDefault, 0))

	// A worker serving both queues drains in enqueue order.
	assert.Equal(t, first, mustDequeue(t, s, QueueDefault, QueueStreaming).JobID)
	assert.Equal(t, second, mustDequeue(t, s, QueueDefault, QueueStreaming).JobID)
}

func TestDequeueIgnoresOtherQueues(t *testing.T) {
	s := NewScheduler(10, nil)

	require.NoError(t, s.Enqueue(uuid.New(), "t1", jobstore.PriorityHigh, QueueStreaming, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Dequeue(ctx, QueueDefault)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTenantCap(t *testing.T) {
	s := NewScheduler(10, nil)

	require.NoError(t, s.Enqueue(uuid.New(), "t1", jobstore.PriorityNormal, QueueDefault, 2))
	require.NoError(t, s.Enqueue(uuid.New(), "t1", jobstore.PriorityNormal, QueueDefault, 2))
	assert.ErrorIs(t, s.Enqueue(uuid.New(), "t1", jobstore.PriorityNormal, QueueDefault, 2), ErrTenantCapExceeded)

	// Other tenants keep their own budget.
	assert.NoError(t, s.Enqueue(uuid.New(), "t2", jobstore.PriorityNormal, QueueDefault, 2))

	// Dequeue moves the slot from queued to running; the cap still
	// holds until Finished releases it.
	item := mustDequeue(t, s, QueueDefault)
	assert.ErrorIs(t, s.Enqueue(uuid.New(), "t1", jobstore.PriorityNormal, QueueDefault, 2), ErrTenantCapExceeded)

	s.Finished(item.JobID)
	assert.NoError(t, s.Enqueue(uuid.New(), "t1", jobstore.PriorityNormal, QueueDefault, 2))
}

func TestCancelQueued(t *testing.T) {
	s := NewScheduler(10, nil)

	id := uuid.New()
	require.NoError(t, s.Enqueue(id, "t1", jobstore.PriorityNormal, QueueDefault, 0))

	assert.True(t, s.CancelQueued(id))
	assert.False(t, s.CancelQueued(id))
	assert.Equal(t, 0, s.ActiveCount("t1"))
	assert.Equal(t, 0, s.Depths()[QueueDefault])
}

func TestCancelRunning(t *testing.T) {
	s := NewScheduler(10, nil)

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	s.RegisterRunning(id, cancel)

	assert.True(t, s.CancelRunning(id))
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("cancellation signal not delivered")
	}

	s.Finished(id)
	assert.False(t, s.CancelRunning(id))
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	s := NewScheduler(10, nil)

	id := uuid.New()
	done := make(chan *Item, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		item, err := s.Dequeue(ctx, QueueDefault)
		if err == nil {
			done <- item
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Enqueue(id, "t1", jobstore.PriorityNormal, QueueDefault, 0))

	select {
	case item := <-done:
		assert.Equal(t, id, item.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked dequeue never woke")
	}
}

func TestCloseRejectsAndWakes(t *testing.T) {
	s := NewScheduler(10, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Dequeue(context.Background(), QueueDefault)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released on close")
	}

	assert.ErrorIs(t, s.Enqueue(uuid.New(), "t1", jobstore.PriorityNormal, QueueDefault, 0), ErrClosed)
}

func TestEnqueueUnknownQueue(t *testing.T) {
	s := NewScheduler(10, nil)
	assert.ErrorIs(t, s.Enqueue(uuid.New(), "t1", jobstore.PriorityNormal, "gpu-turbo", 0), ErrUnknownQueue)
}

func TestRouteQueue(t *testing.T) {
	crf := 23
	tests := []struct {
		name string
		ops  []validate.Operation
		want string
	}{
		{"empty", nil, QueueDefault},
		{"plain transcode", []validate.Operation{&validate.Transcode{}}, QueueDefault},
		{"stream packaging", []validate.Operation{&validate.Stream{Format: "hls"}}, QueueStreaming},
		{"hardware encode", []validate.Operation{&validate.Transcode{HardwareAcceleration: "cuda", CRF: &crf}}, QueueStreaming},
		{"auto hardware stays default", []validate.Operation{&validate.Transcode{HardwareAcceleration: "auto"}}, QueueDefault},
		{"thumbnail only", []validate.Operation{&validate.Thumbnail{Mode: "single"}}, QueueAnalysis},
		{"thumbnail plus scale", []validate.Operation{&validate.Thumbnail{Mode: "single"}, &validate.Scale{Width: 320}}, QueueDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RouteQueue(tt.ops))
		})
	}
}

func TestBatchStatus(t *testing.T) {
	job := func(status jobstore.JobStatus) *jobstore.Job {
		return &jobstore.Job{Status: status}
	}
	tests := []struct {
		name string
		jobs []*jobstore.Job
		want string
	}{
		{"empty", nil, BatchQueued},
		{"all queued", []*jobstore.Job{job(jobstore.StatusQueued), job(jobstore.StatusQueued)}, BatchQueued},
		{"one running", []*jobstore.Job{job(jobstore.StatusQueued), job(jobstore.StatusProcessing)}, BatchProcessing},
		{"terminal plus queued", []*jobstore.Job{job(jobstore.StatusCompleted), job(jobstore.StatusQueued)}, BatchProcessing},
		{"all completed", []*jobstore.Job{job(jobstore.StatusCompleted), job(jobstore.StatusCompleted)}, BatchCompleted},
		{"all failed", []*jobstore.Job{job(jobstore.StatusFailed), job(jobstore.StatusCancelled)}, BatchFailed},
		{"mixed terminal", []*jobstore.Job{job(jobstore.StatusCompleted), job(jobstore.StatusFailed)}, BatchPartialSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BatchStatus(tt.jobs))
		})
	}
}
