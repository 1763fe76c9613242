package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
)

// pollInterval is the store fallback cadence for progress written by a
// worker in another process.
const pollInterval = time.Second

// FromJob builds the event describing a job's current state.
func FromJob(job *jobstore.Job) Event {
	event := Event{
		JobID:      job.ID,
		Type:       TypeProgress,
		Status:     string(job.Status),
		Progress:   job.Progress,
		Stage:      job.Stage,
		FPS:        job.FPS,
		ETASeconds: job.ETASeconds,
		Timestamp:  time.Now().UTC(),
	}
	if job.Status.IsTerminal() {
		event.Type = TerminalEventType(job.Status)
		if job.ErrorMessage != nil {
			event.Error = *job.ErrorMessage
		}
	}
	return event
}

// SSEStreamer writes a job's event stream in text/event-stream format.
type SSEStreamer struct {
	hub    *Hub
	db     *jobstore.Database
	logger *logging.Logger
}

func NewSSEStreamer(hub *Hub, db *jobstore.Database, logger *logging.Logger) *SSEStreamer {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &SSEStreamer{hub: hub, db: db, logger: logger.WithComponent("sse")}
}

// Serve streams events for the job until it reaches a terminal state
// or the client disconnects. The job passed in is the current snapshot
// from the store; a terminal snapshot produces the terminal event
// immediately and closes.
func (s *SSEStreamer) Serve(w http.ResponseWriter, r *http.Request, job *jobstore.Job) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snapshot := FromJob(job)
	writeSSE(w, snapshot)
	flusher.Flush()
	if snapshot.Terminal() {
		return
	}

	eventCh, unsubscribe := s.hub.Subscribe(job.ID)
	defer unsubscribe()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := snapshot
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case event, open := <-eventCh:
			if !open {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
			if event.Terminal() {
				return
			}
			last = event

		case <-ticker.C:
			if s.db == nil {
				continue
			}
			// Progress written by a worker in another process never
			// reaches this hub; the store is authoritative.
			current, err := s.db.GetJob(ctx, job.ID, "")
			if err != nil {
				s.logger.Warn("poll failed during event stream", map[string]interface{}{
					"job_id": job.ID.String(),
					"error":  err.Error(),
				})
				return
			}
			event := FromJob(current)
			if event.Terminal() {
				writeSSE(w, event)
				flusher.Flush()
				return
			}
			if event.Progress != last.Progress || event.Stage != last.Stage {
				writeSSE(w, event)
				flusher.Flush()
				last = event
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
}
