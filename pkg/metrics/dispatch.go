package metrics

import "github.com/prometheus/client_golang/prometheus"

// DispatchMetrics counts what the notification dispatcher did with each outbox row.
type DispatchMetrics struct {
	results *prometheus.CounterVec
}

const (
	DispatchPublished    = "published"
	DispatchRetried      = "retried"
	DispatchDeadLettered = "dead_lettered"
)

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	if reg == nil {
		return &DispatchMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "dispatch_total",
		Help:      "Outbox rows handled by the dispatcher, by event type and result.",
	}, []string{"event_type", "result"})
	reg.MustRegister(results)
	return &DispatchMetrics{results: results}
}

func (m *DispatchMetrics) Inc(eventType, result string) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
