package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	WebhooksReceived  *prometheus.CounterVec
	WebhooksDuplicate *prometheus.CounterVec
	WebhooksProcessed *prometheus.CounterVec
	WebhooksFailed    *prometheus.CounterVec
	TaskRetries       *prometheus.CounterVec
	DocumentsUploaded prometheus.Counter
	ChecksGenerated   prometheus.Counter
	ChecksEvaluated   *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics. The origin label
// distinguishes platform from provider webhooks.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verisync_webhooks_received_total",
			Help: "Inbound webhook deliveries accepted and recorded.",
		}, []string{"origin"}),
		WebhooksDuplicate: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verisync_webhooks_duplicate_total",
			Help: "Inbound webhook deliveries dropped as duplicates.",
		}, []string{"origin"}),
		WebhooksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verisync_webhooks_processed_total",
			Help: "Webhook records processed to completion.",
		}, []string{"origin"}),
		WebhooksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verisync_webhooks_failed_total",
			Help: "Webhook records marked failed after exhausting retries.",
		}, []string{"origin"}),
		TaskRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verisync_task_retries_total",
			Help: "Task re-enqueues by task kind.",
		}, []string{"kind"}),
		DocumentsUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "verisync_documents_uploaded_total",
			Help: "Documents uploaded to the verification provider.",
		}),
		ChecksGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "verisync_checks_generated_total",
			Help: "Provider checks generated.",
		}),
		ChecksEvaluated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verisync_checks_evaluated_total",
			Help: "Checks evaluated to a terminal status.",
		}, []string{"status"}),
	}
}
