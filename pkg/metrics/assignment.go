package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AssignmentMetrics tracks engine outcomes.
type AssignmentMetrics struct {
	outcomes  *prometheus.CounterVec
	duration  prometheus.Histogram
	conflicts *prometheus.CounterVec
	quota     *prometheus.CounterVec
}

// NewAssignmentMetrics registers the assignment metrics on reg. A nil
// registerer yields a no-op recorder.
func NewAssignmentMetrics(reg prometheus.Registerer) *AssignmentMetrics {
	if reg == nil {
		return &AssignmentMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "outcomes_total",
		Help:      "Assignment runs by terminal status.",
	}, []string{"status"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "decision_duration_seconds",
		Help:      "Wall time of one assignment decision.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capacity",
		Name:      "commit_conflicts_total",
		Help:      "Ledger commits that lost the last unit of headroom to a concurrent run.",
	}, []string{"entity_kind"})
	quota := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quota",
		Name:      "decisions_total",
		Help:      "Priority allowance decisions by requested priority and verdict.",
	}, []string{"requested", "decision"})
	reg.MustRegister(outcomes, duration, conflicts, quota)
	return &AssignmentMetrics{
		outcomes:  outcomes,
		duration:  duration,
		conflicts: conflicts,
		quota:     quota,
	}
}

// ObserveOutcome counts a finished run and its duration.
func (m *AssignmentMetrics) ObserveOutcome(status string, elapsed time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(status)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// IncCommitConflict counts a lost capacity race.
func (m *AssignmentMetrics) IncCommitConflict(entityKind string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(normalizeLabel(entityKind)).Inc()
}

// IncQuotaDecision counts a priority allowance verdict.
func (m *AssignmentMetrics) IncQuotaDecision(requested, decision string) {
	if m == nil || m.quota == nil {
		return
	}
	m.quota.WithLabelValues(normalizeLabel(requested), normalizeLabel(decision)).Inc()
}
