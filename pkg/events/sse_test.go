package events

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodecFlow/codecflow/pkg/jobstore"
)

func TestSSETerminalSnapshotClosesImmediately(t *testing.T) {
	streamer := NewSSEStreamer(NewHub(), nil, nil)

	msg := "input not found"
	job := &jobstore.Job{
		ID:           uuid.New(),
		Status:       jobstore.StatusFailed,
		Progress:     10,
		ErrorMessage: &msg,
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	streamer.Serve(rec, req, job)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, "input not found")
	assert.Equal(t, 1, strings.Count(body, "event: "), "terminal snapshot emits exactly one event")
}

func TestSSEStreamsHubEvents(t *testing.T) {
	hub := NewHub()
	streamer := NewSSEStreamer(hub, nil, nil)

	job := &jobstore.Job{
		ID:     uuid.New(),
		Status: jobstore.StatusProcessing,
		Stage:  jobstore.StageProcessing,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamer.Serve(w, r, job)
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	// Let the handler subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	hub.Publish(Event{JobID: job.ID, Type: TypeProgress, Progress: 75, Stage: jobstore.StageProcessing})
	hub.Publish(Event{JobID: job.ID, Type: TypeComplete, Progress: 100})

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}

	// Snapshot, hub progress, terminal.
	require.Len(t, events, 3)
	assert.Equal(t, []string{"progress", "progress", "complete"}, events)
}
