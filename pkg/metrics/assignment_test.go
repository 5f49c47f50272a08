package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestAssignmentMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAssignmentMetrics(reg)

	m.ObserveOutcome("assigned", 20*time.Millisecond)
	m.ObserveOutcome("assigned", 10*time.Millisecond)
	m.ObserveOutcome("failed_capacity", 5*time.Millisecond)
	m.IncCommitConflict("vendor")
	m.IncQuotaDecision("urgent", "downgraded")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "jobrouter_assignment_outcomes_total", "status", "assigned")
	require.NoError(t, err)
	require.Equal(t, 2.0, got)

	got, err = fetchCounterValue(mfs, "jobrouter_assignment_outcomes_total", "status", "failed_capacity")
	require.NoError(t, err)
	require.Equal(t, 1.0, got)

	got, err = fetchCounterValue(mfs, "jobrouter_capacity_commit_conflicts_total", "entity_kind", "vendor")
	require.NoError(t, err)
	require.Equal(t, 1.0, got)

	got, err = fetchCounterValue(mfs, "jobrouter_quota_decisions_total", "decision", "downgraded")
	require.NoError(t, err)
	require.Equal(t, 1.0, got)

	hist := findMetricFamily(mfs, "jobrouter_assignment_decision_duration_seconds")
	require.NotNil(t, hist)
	require.EqualValues(t, 3, hist.GetMetric()[0].GetHistogram().GetSampleCount())
}
