package metrics

import "github.com/prometheus/client_golang/prometheus"

// InboxMetrics tracks webhook inbox intake and processing outcomes.
type InboxMetrics struct {
	received  *prometheus.CounterVec
	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

func NewInboxMetrics(reg prometheus.Registerer) *InboxMetrics {
	if reg == nil {
		return &InboxMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook_inbox",
		Name:      "received_total",
		Help:      "Provider events offered to the inbox, by whether they were new.",
	}, []string{"provider", "outcome"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook_inbox",
		Name:      "processed_total",
		Help:      "Inbox entries applied successfully.",
	}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook_inbox",
		Name:      "failed_total",
		Help:      "Inbox entry processing attempts that failed.",
	}, []string{"event_type"})
	reg.MustRegister(received, processed, failed)
	return &InboxMetrics{received: received, processed: processed, failed: failed}
}

// IncReceived counts an enqueue attempt; inserted is false for redeliveries.
func (m *InboxMetrics) IncReceived(provider string, inserted bool) {
	if m == nil || m.received == nil {
		return
	}
	outcome := "duplicate"
	if inserted {
		outcome = "inserted"
	}
	m.received.WithLabelValues(normalizeLabel(provider), outcome).Inc()
}

func (m *InboxMetrics) IncProcessed(eventType string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *InboxMetrics) IncFailed(eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}
