package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/jobrouter/internal/capacity"
	"github.com/angelmondragon/jobrouter/pkg/clock"
	"github.com/angelmondragon/jobrouter/pkg/db/dbtest"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/pagination"
)

func newTestLogger(t *testing.T) (*Logger, *clock.Fixed) {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), time.UTC)
	l, err := NewLogger(dbtest.Open(t), clk)
	require.NoError(t, err)
	return l, clk
}

func statusPtr(s enums.AssignmentStatus) *enums.AssignmentStatus { return &s }

func entry(run, request uuid.UUID, seq int, step enums.AssignmentStep) Entry {
	return Entry{
		RunID:     run,
		Sequence:  seq,
		RequestID: request,
		ServiceID: uuid.New(),
		Units:     1,
		Day:       "2026-03-02",
		Step:      step,
		Snapshot:  []capacity.EntityCapacity{},
	}
}

func TestNewLoggerRequiresDependencies(t *testing.T) {
	_, err := NewLogger(nil, clock.NewSystem(nil))
	require.Error(t, err)
}

func TestAppendRejectsMissingSnapshot(t *testing.T) {
	l, _ := newTestLogger(t)
	e := entry(uuid.New(), uuid.New(), 1, enums.StepLocked)
	e.Snapshot = nil

	_, err := l.Append(context.Background(), e)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAppendValidation(t *testing.T) {
	l, _ := newTestLogger(t)
	ctx := context.Background()

	e := entry(uuid.Nil, uuid.New(), 1, enums.StepFinal)
	_, err := l.Append(ctx, e)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	e = entry(uuid.New(), uuid.New(), 1, "guess")
	_, err = l.Append(ctx, e)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	e = entry(uuid.New(), uuid.New(), 1, enums.StepFinal)
	e.Result = statusPtr("maybe")
	_, err = l.Append(ctx, e)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAppendDuplicateSequenceFails(t *testing.T) {
	l, _ := newTestLogger(t)
	run, req := uuid.New(), uuid.New()
	_, err := l.Append(context.Background(), entry(run, req, 1, enums.StepRuleMatch))
	require.NoError(t, err)
	_, err = l.Append(context.Background(), entry(run, req, 1, enums.StepRuleMatch))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestListByRequestRoundTrip(t *testing.T) {
	l, clk := newTestLogger(t)
	ctx := context.Background()
	run, req := uuid.New(), uuid.New()
	vendor := uuid.New()

	match := entry(run, req, 1, enums.StepRuleMatch)
	_, err := l.Append(ctx, match)
	require.NoError(t, err)

	selection := entry(run, req, 2, enums.StepVendorSelection)
	selection.ChosenID = &vendor
	selection.Candidates = []Candidate{{ID: vendor, Capacity: 2, Headroom: 2, Eligible: true}}
	selection.Snapshot = []capacity.EntityCapacity{{EntityID: vendor, Kind: enums.EntityKindVendor, Configured: true, DailyCapacity: 2, Enabled: true, Headroom: 2}}
	_, err = l.Append(ctx, selection)
	require.NoError(t, err)

	clk.Advance(time.Second)
	final := entry(run, req, 3, enums.StepFinal)
	final.Result = statusPtr(enums.AssignmentAssigned)
	final.Reason = "assigned"
	_, err = l.Append(ctx, final)
	require.NoError(t, err)

	_, err = l.Append(ctx, entry(uuid.New(), uuid.New(), 1, enums.StepLocked))
	require.NoError(t, err)

	got, err := l.ListByRequest(ctx, req)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []enums.AssignmentStep{enums.StepRuleMatch, enums.StepVendorSelection, enums.StepFinal},
		[]enums.AssignmentStep{got[0].Step, got[1].Step, got[2].Step})
	assert.Equal(t, enums.RequestTypeService, got[0].RequestType)
	require.NotNil(t, got[1].ChosenID)
	assert.Equal(t, vendor, *got[1].ChosenID)
	assert.Equal(t, selection.Candidates, got[1].Candidates)
	assert.Equal(t, selection.Snapshot, got[1].Snapshot)
	require.NotNil(t, got[2].Result)
	assert.Equal(t, enums.AssignmentAssigned, *got[2].Result)
}

func TestListRunsPagesNewestFirst(t *testing.T) {
	l, clk := newTestLogger(t)
	ctx := context.Background()
	req := uuid.New()

	var runs []uuid.UUID
	for i := 0; i < 3; i++ {
		run := uuid.New()
		runs = append(runs, run)
		_, err := l.Append(ctx, entry(run, req, 1, enums.StepRuleMatch))
		require.NoError(t, err)
		final := entry(run, req, 2, enums.StepFinal)
		final.Result = statusPtr(enums.AssignmentFailedNoVendor)
		_, err = l.Append(ctx, final)
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}
	_, err := l.Append(ctx, entry(uuid.New(), uuid.New(), 1, enums.StepLocked))
	require.NoError(t, err)

	first, err := l.ListRuns(ctx, req, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Runs, 2)
	assert.Equal(t, runs[2], first.Runs[0].RunID)
	assert.Equal(t, runs[1], first.Runs[1].RunID)
	require.Len(t, first.Runs[0].Steps, 2)
	assert.Equal(t, enums.StepRuleMatch, first.Runs[0].Steps[0].Step)
	require.NotNil(t, first.Runs[0].Result)
	assert.Equal(t, enums.AssignmentFailedNoVendor, *first.Runs[0].Result)
	require.NotEmpty(t, first.Cursor)

	second, err := l.ListRuns(ctx, req, pagination.Params{Limit: 2, Cursor: first.Cursor})
	require.NoError(t, err)
	require.Len(t, second.Runs, 1)
	assert.Equal(t, runs[0], second.Runs[0].RunID)
	assert.Empty(t, second.Cursor)
}

func TestListRunsRejectsBadCursor(t *testing.T) {
	l, _ := newTestLogger(t)
	_, err := l.ListRuns(context.Background(), uuid.New(), pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReplayCommittedUnits(t *testing.T) {
	service := uuid.New()
	vendor, designer := uuid.New(), uuid.New()

	run := func(status enums.AssignmentStatus, withDesigner bool, units int) []Entry {
		id := uuid.New()
		steps := []Entry{}
		v := entry(id, uuid.New(), 2, enums.StepVendorSelection)
		v.ServiceID, v.ChosenID, v.Units = service, &vendor, units
		steps = append(steps, v)
		if withDesigner {
			d := entry(id, v.RequestID, 3, enums.StepDesignerSelection)
			d.ServiceID, d.ChosenID, d.Units = service, &designer, units
			steps = append(steps, d)
		}
		f := entry(id, v.RequestID, 4, enums.StepFinal)
		f.ServiceID, f.Result, f.Units = service, statusPtr(status), units
		return append(steps, f)
	}

	var entries []Entry
	entries = append(entries, run(enums.AssignmentAssigned, true, 1)...)
	entries = append(entries, run(enums.AssignmentPartialAssigned, false, 2)...)
	entries = append(entries, run(enums.AssignmentFailedCapacity, false, 1)...)

	got := ReplayCommittedUnits(entries)
	assert.Equal(t, map[UsageKey]int{
		{Kind: enums.EntityKindVendor, EntityID: vendor, ServiceID: service, Day: "2026-03-02"}:   3,
		{Kind: enums.EntityKindDesigner, EntityID: designer, ServiceID: service, Day: "2026-03-02"}: 1,
	}, got)
}
