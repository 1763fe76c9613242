// Package metrics exposes Prometheus collectors for the job service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service collectors on a private registry so
// tests can construct independent instances.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted      *prometheus.CounterVec
	JobsCompleted      *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	ProcessingDuration *prometheus.HistogramVec
	WebhookDeliveries  *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	ActiveJobs         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		JobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codecflow_jobs_submitted_total",
			Help: "Jobs accepted by the submit path, by queue and priority.",
		}, []string{"queue", "priority"}),

		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codecflow_jobs_finished_total",
			Help: "Jobs reaching a terminal state, by status.",
		}, []string{"status"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "codecflow_queue_depth",
			Help: "Jobs waiting in each queue.",
		}, []string{"queue"}),

		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codecflow_processing_duration_seconds",
			Help:    "Wall time from dequeue to terminal state.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"queue"}),

		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codecflow_webhook_deliveries_total",
			Help: "Webhook delivery outcomes.",
		}, []string{"outcome"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codecflow_http_requests_total",
			Help: "API requests by method, route, and status class.",
		}, []string{"method", "route", "status"}),

		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codecflow_active_jobs",
			Help: "Jobs currently being processed by this process.",
		}),
	}

	m.registry.MustRegister(
		m.JobsSubmitted,
		m.JobsCompleted,
		m.QueueDepth,
		m.ProcessingDuration,
		m.WebhookDeliveries,
		m.HTTPRequests,
		m.ActiveJobs,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQueueDepths mirrors a scheduler depth snapshot into gauges.
func (m *Metrics) ObserveQueueDepths(depths map[string]int) {
	for queue, depth := range depths {
		m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
	}
}
