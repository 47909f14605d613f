package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "hookline"

var (
	// Registry is the dedicated Prometheus registry served on /metrics.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path"},
	)

	// WebhookDeliveries counts physical delivery attempts by event type and row status.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event type and status."},
		[]string{"event_type", "status"},
	)
	WebhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "webhook_delivery_duration_seconds", Help: "Webhook delivery attempt latency in seconds.", Buckets: []float64{.01, .05, .1, .2, .5, 1, 2, 5, 10, 30}},
		[]string{"event_type"},
	)

	// Dispatches counts completed dispatch calls by outcome.
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dispatches_total", Help: "Dispatch calls by outcome."},
		[]string{"outcome"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "event_queue_depth", Help: "Events waiting in the async queue."},
	)
)

var regOnce sync.Once

// Register adds all collectors to Registry. Safe to call more than once.
func Register() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(WebhookDeliveries, WebhookDuration, Dispatches, QueueDepth)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// ObserveDelivery records one delivery attempt.
func ObserveDelivery(eventType, status string, d time.Duration) {
	WebhookDeliveries.WithLabelValues(eventType, status).Inc()
	WebhookDuration.WithLabelValues(eventType).Observe(d.Seconds())
}
