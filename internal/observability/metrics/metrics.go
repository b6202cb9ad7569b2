package metrics

import "github.com/prometheus/client_golang/prometheus"

// GatewayMetrics exposes counters/histograms for the messaging pipeline.
type GatewayMetrics struct {
	webhookTotal   *prometheus.CounterVec
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	statusTotal    *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	m := &GatewayMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaycrm",
			Subsystem: "gateway",
			Name:      "webhook_total",
			Help:      "Total provider webhooks by outcome",
		}, []string{"provider", "outcome"}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaycrm",
			Subsystem: "gateway",
			Name:      "inbound_messages_total",
			Help:      "Inbound messages stored",
		}, []string{"provider", "content_type"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaycrm",
			Subsystem: "gateway",
			Name:      "outbound_sends_total",
			Help:      "Outbound delivery attempts by outcome",
		}, []string{"provider", "outcome"}),
		statusTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaycrm",
			Subsystem: "gateway",
			Name:      "status_updates_total",
			Help:      "Delivery receipts by resulting status",
		}, []string{"provider", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaycrm",
			Subsystem: "gateway",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.inboundTotal, m.outboundTotal, m.statusTotal, m.webhookLatency)
	return m
}

func (m *GatewayMetrics) ObserveWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *GatewayMetrics) ObserveInbound(provider, contentType string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(provider, contentType).Inc()
}

func (m *GatewayMetrics) ObserveOutbound(provider, outcome string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *GatewayMetrics) ObserveStatus(provider, status string) {
	if m == nil {
		return
	}
	m.statusTotal.WithLabelValues(provider, status).Inc()
}

func (m *GatewayMetrics) ObserveWebhookLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(provider).Observe(seconds)
}
