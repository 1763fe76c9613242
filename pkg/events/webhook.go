package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/metrics"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
)

const (
	webhookAttempts       = 3
	webhookAttemptTimeout = 30 * time.Second
	webhookBackoffBase    = time.Second

	// progressWebhookInterval throttles progress deliveries per job;
	// terminal events are never throttled.
	progressWebhookInterval = 5 * time.Second
)

// WebhookDeliverer posts job events to the endpoint registered on the
// job. Delivery failures are logged and never affect job state.
type WebhookDeliverer struct {
	client  *http.Client
	logger  *logging.Logger
	backoff time.Duration
	stats   *metrics.Metrics

	mu           sync.Mutex
	lastProgress map[uuid.UUID]time.Time
}

func NewWebhookDeliverer(logger *logging.Logger) *WebhookDeliverer {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &WebhookDeliverer{
		client:       &http.Client{Timeout: webhookAttemptTimeout},
		logger:       logger.WithComponent("webhook"),
		backoff:      webhookBackoffBase,
		lastProgress: make(map[uuid.UUID]time.Time),
	}
}

// SetMetrics attaches the delivery outcome counter.
func (d *WebhookDeliverer) SetMetrics(m *metrics.Metrics) { d.stats = m }

func (d *WebhookDeliverer) recordOutcome(outcome string) {
	if d.stats != nil {
		d.stats.WebhookDeliveries.WithLabelValues(outcome).Inc()
	}
}

// defaultWebhookEvents applies when the job subscribed to nothing
// explicitly.
var defaultWebhookEvents = []string{TypeComplete, TypeError}

func subscribed(job *jobstore.Job, eventType string) bool {
	events := job.WebhookEvents
	if len(events) == 0 {
		events = defaultWebhookEvents
	}
	for _, e := range events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Deliver posts the event to the job's webhook URL, if the job has one
// and subscribed to the event type. Blocks through retries; callers
// run it on its own goroutine.
func (d *WebhookDeliverer) Deliver(ctx context.Context, job *jobstore.Job, event Event) {
	if job.WebhookURL == nil || *job.WebhookURL == "" {
		return
	}
	if !subscribed(job, event.Type) {
		return
	}
	if event.Type == TypeProgress && !d.progressDue(job.ID) {
		return
	}
	if event.Terminal() {
		d.forgetProgress(job.ID)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return
	}

	url := *job.WebhookURL
	var lastErr error
	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if attempt > 1 {
			backoff := d.backoff << (attempt - 2)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}

		if err := d.post(ctx, url, body); err != nil {
			lastErr = err
			continue
		}

		d.recordOutcome("delivered")
		d.logger.Debug("webhook delivered", map[string]interface{}{
			"job_id":  job.ID.String(),
			"event":   event.Type,
			"attempt": attempt,
		})
		return
	}

	d.recordOutcome("failed")
	d.logger.Warn("webhook delivery failed after retries", map[string]interface{}{
		"job_id":   job.ID.String(),
		"event":    event.Type,
		"attempts": webhookAttempts,
		"error":    lastErr.Error(),
	})
}

func (d *WebhookDeliverer) post(ctx context.Context, url string, body []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, webhookAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "codecflow-webhook/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *WebhookDeliverer) progressDue(jobID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if last, ok := d.lastProgress[jobID]; ok && now.Sub(last) < progressWebhookInterval {
		return false
	}
	d.lastProgress[jobID] = now
	return true
}

func (d *WebhookDeliverer) forgetProgress(jobID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastProgress, jobID)
}
