package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// WebhookMetrics counts inbound event outcomes, exposed on /metrics.
type WebhookMetrics struct {
	Received  *prometheus.CounterVec
	Rejected  *prometheus.CounterVec
	Processed *prometheus.CounterVec
	Failed    *prometheus.CounterVec
}

func NewWebhookMetrics() *WebhookMetrics {
	m := &WebhookMetrics{
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_webhook_received_total",
			Help: "Webhook deliveries accepted for verification.",
		}, []string{"provider"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_webhook_rejected_total",
			Help: "Webhook deliveries rejected before processing.",
		}, []string{"provider", "reason"}),
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_webhook_processed_total",
			Help: "Events whose mutation completed.",
		}, []string{"provider", "kind"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_webhook_failed_total",
			Help: "Events whose mutation failed after retries.",
		}, []string{"provider", "kind"}),
	}
	prometheus.MustRegister(m.Received, m.Rejected, m.Processed, m.Failed)
	return m
}

func (m *WebhookMetrics) IncReceived(provider string) {
	if m == nil {
		return
	}
	m.Received.WithLabelValues(provider).Inc()
}

func (m *WebhookMetrics) IncRejected(provider, reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(provider, reason).Inc()
}

func (m *WebhookMetrics) IncProcessed(provider, kind string) {
	if m == nil {
		return
	}
	m.Processed.WithLabelValues(provider, kind).Inc()
}

func (m *WebhookMetrics) IncFailed(provider, kind string) {
	if m == nil {
		return
	}
	m.Failed.WithLabelValues(provider, kind).Inc()
}

var Module = fx.Module("observability.metrics",
	fx.Provide(NewWebhookMetrics),
)
