package assignment

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/internal/audit"
	"github.com/angelmondragon/jobrouter/internal/capacity"
	"github.com/angelmondragon/jobrouter/internal/directory"
	"github.com/angelmondragon/jobrouter/internal/jobs"
	"github.com/angelmondragon/jobrouter/internal/notifications"
	"github.com/angelmondragon/jobrouter/internal/quota"
	"github.com/angelmondragon/jobrouter/internal/routing"
	"github.com/angelmondragon/jobrouter/internal/rules"
	"github.com/angelmondragon/jobrouter/pkg/clock"
	"github.com/angelmondragon/jobrouter/pkg/config"
	"github.com/angelmondragon/jobrouter/pkg/db"
	"github.com/angelmondragon/jobrouter/pkg/db/dbtest"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/logger"
	"github.com/angelmondragon/jobrouter/pkg/metrics"
	"github.com/angelmondragon/jobrouter/pkg/outbox"
)

type harness struct {
	t       *testing.T
	conn    *gorm.DB
	clk     *clock.Fixed
	reg     *prometheus.Registry
	deps    Deps
	ledger  capacity.Ledger
	rules   *rules.Store
	jobs    *jobs.Store
	dir     *directory.Directory
	audit   *audit.Logger
	service uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	clk := clock.NewFixed(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), time.UTC)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	reg := prometheus.NewRegistry()
	m := metrics.NewAssignmentMetrics(reg)

	ledger, err := capacity.NewLedger(conn, clk)
	require.NoError(t, err)
	ruleStore, err := rules.NewStore(rules.NewRepository(conn), clk, logg)
	require.NoError(t, err)
	jobStore, err := jobs.NewStore(jobs.NewRepository(conn), 1)
	require.NoError(t, err)
	dir, err := directory.New(conn)
	require.NoError(t, err)
	auditLog, err := audit.NewLogger(conn, clk)
	require.NoError(t, err)
	selector, err := routing.NewSelector(routing.NewDBCursorStore(conn, clk))
	require.NoError(t, err)
	notifier, err := notifications.NewNotifier(outbox.NewService(outbox.NewRepository(conn), logg), logg, true)
	require.NoError(t, err)
	enforcer, err := quota.NewEnforcer(jobStore, quota.StaticSettings{
		MaxUrgent: decimal.NewFromInt(20),
		MaxHigh:   decimal.NewFromInt(30),
	}, enums.QuotaOverflowDowngrade, m, logg)
	require.NoError(t, err)

	return &harness{
		t:      t,
		conn:   conn,
		clk:    clk,
		reg:    reg,
		ledger: ledger,
		rules:  ruleStore,
		jobs:   jobStore,
		dir:    dir,
		audit:  auditLog,
		deps: Deps{
			Tx:        db.NewFromConn(conn),
			Jobs:      JobStoreFrom(jobStore),
			Directory: DirectoryFrom(dir),
			Rules:     RulesFrom(ruleStore),
			Ledger:    ledger,
			Router:    RouterFrom(selector),
			Audit:     AuditFrom(auditLog),
			Notifier:  notifier,
			Quota:     enforcer,
			Clock:     clk,
			Metrics:   m,
			Logger:    logg,
			Config:    config.EngineConfig{MaxCommitTries: 3, JobLockTTL: time.Second},
		},
		service: uuid.New(),
	}
}

func (h *harness) svc() Service {
	h.t.Helper()
	svc, err := NewService(h.deps)
	require.NoError(h.t, err)
	return svc
}

func (h *harness) vendor(capacityUnits, weight int) uuid.UUID {
	h.t.Helper()
	id := uuid.New()
	require.NoError(h.t, h.dir.Upsert(context.Background(), &models.DirectoryMember{ID: id, Role: enums.EntityKindVendor, Active: true}))
	_, err := h.ledger.UpsertVendorCapacity(context.Background(), capacity.VendorCapacityInput{
		VendorID:          id,
		ServiceID:         h.service,
		DailyCapacity:     capacityUnits,
		AutoAssignEnabled: true,
		PriorityWeight:    weight,
	})
	require.NoError(h.t, err)
	return id
}

func (h *harness) designer(vendorID uuid.UUID, capacityUnits int) uuid.UUID {
	h.t.Helper()
	id := uuid.New()
	require.NoError(h.t, h.dir.Upsert(context.Background(), &models.DirectoryMember{
		ID: id, Role: enums.EntityKindDesigner, ParentVendorID: &vendorID, Active: true,
	}))
	_, err := h.ledger.UpsertDesignerCapacity(context.Background(), capacity.DesignerCapacityInput{
		DesignerID:        id,
		ServiceID:         h.service,
		DailyCapacity:     capacityUnits,
		AutoAssignEnabled: true,
	})
	require.NoError(h.t, err)
	return id
}

func (h *harness) rule(mutate func(in *rules.RuleInput)) *rules.Rule {
	h.t.Helper()
	in := rules.RuleInput{
		Name:            "default",
		Priority:        10,
		Scope:           enums.RuleScopeGlobal,
		Active:          true,
		ServiceIDs:      []uuid.UUID{h.service},
		RoutingTarget:   enums.RoutingTargetVendorOnly,
		RoutingStrategy: enums.RoutingStrategyLeastLoaded,
		FallbackAction:  enums.FallbackLeavePending,
	}
	if mutate != nil {
		mutate(&in)
	}
	rule, err := h.rules.Create(context.Background(), in)
	require.NoError(h.t, err)
	return rule
}

func (h *harness) job(mutate func(row *models.ServiceRequest)) uuid.UUID {
	h.t.Helper()
	row := &models.ServiceRequest{
		ID:          uuid.New(),
		RequestType: enums.RequestTypeService,
		ServiceID:   h.service,
		ClientID:    uuid.New(),
		Priority:    enums.PriorityNormal,
		Status:      enums.JobStatusPending,
		Units:       1,
	}
	if mutate != nil {
		mutate(row)
	}
	_, err := h.jobs.Create(context.Background(), row)
	require.NoError(h.t, err)
	return row.ID
}

func (h *harness) committed(kind enums.EntityKind, id uuid.UUID) int {
	h.t.Helper()
	snap, err := h.ledger.Snapshot(context.Background(), kind, []uuid.UUID{id}, h.service, h.ledger.Today())
	require.NoError(h.t, err)
	return snap[id].Committed
}

func (h *harness) steps(jobID uuid.UUID) []audit.Entry {
	h.t.Helper()
	entries, err := h.audit.ListByRequest(context.Background(), jobID)
	require.NoError(h.t, err)
	return entries
}

func (h *harness) outboxEvents(event enums.OutboxEventType) []models.OutboxEvent {
	h.t.Helper()
	var rows []models.OutboxEvent
	require.NoError(h.t, h.conn.Where("event_type = ?", event).Find(&rows).Error)
	return rows
}

func (h *harness) counter(name, label, value string) float64 {
	h.t.Helper()
	mfs, err := h.reg.Gather()
	require.NoError(h.t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabel(m, label, value) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func stepNames(entries []audit.Entry) []enums.AssignmentStep {
	out := make([]enums.AssignmentStep, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Step)
	}
	return out
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	h := newHarness(t)
	cases := map[string]func(d *Deps){
		"tx":        func(d *Deps) { d.Tx = nil },
		"jobs":      func(d *Deps) { d.Jobs = nil },
		"directory": func(d *Deps) { d.Directory = nil },
		"rules":     func(d *Deps) { d.Rules = nil },
		"ledger":    func(d *Deps) { d.Ledger = nil },
		"router":    func(d *Deps) { d.Router = nil },
		"audit":     func(d *Deps) { d.Audit = nil },
		"notifier":  func(d *Deps) { d.Notifier = nil },
		"quota":     func(d *Deps) { d.Quota = nil },
		"clock":     func(d *Deps) { d.Clock = nil },
		"logger":    func(d *Deps) { d.Logger = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			deps := h.deps
			mutate(&deps)
			_, err := NewService(deps)
			require.Error(t, err)
		})
	}
}

func TestCapacityTwoVendorTakesTwoJobs(t *testing.T) {
	h := newHarness(t)
	vendor := h.vendor(2, 0)
	h.rule(nil)
	svc := h.svc()
	ctx := context.Background()

	first, err := svc.RunAssignment(ctx, h.job(nil))
	require.NoError(t, err)
	second, err := svc.RunAssignment(ctx, h.job(nil))
	require.NoError(t, err)
	thirdJob := h.job(nil)
	third, err := svc.RunAssignment(ctx, thirdJob)
	require.NoError(t, err)

	assert.Equal(t, enums.AssignmentAssigned, first.Status)
	assert.Equal(t, enums.AssignmentAssigned, second.Status)
	require.NotNil(t, first.VendorID)
	assert.Equal(t, vendor, *first.VendorID)
	assert.Equal(t, vendor, *second.VendorID)

	assert.Equal(t, enums.AssignmentFailedCapacity, third.Status)
	assert.Nil(t, third.VendorID)
	assert.Equal(t, 2, h.committed(enums.EntityKindVendor, vendor))

	stored, err := h.jobs.GetJob(ctx, thirdJob)
	require.NoError(t, err)
	require.NotNil(t, stored.AutoAssignmentStatus)
	assert.Equal(t, enums.AssignmentFailedCapacity, *stored.AutoAssignmentStatus)
	assert.Nil(t, stored.VendorAssigneeID)
	assert.Equal(t, reasonVendorCapacity, stored.LastAutomationNote)

	assert.Equal(t, 2.0, h.counter("jobrouter_assignment_outcomes_total", "status", "assigned"))
	assert.Equal(t, 1.0, h.counter("jobrouter_assignment_outcomes_total", "status", "failed_capacity"))
	assert.Len(t, h.outboxEvents(enums.EventJobAutoAssigned), 2)
}

func TestVendorThenDesignerAssignsBothLevels(t *testing.T) {
	h := newHarness(t)
	vendor := h.vendor(5, 0)
	small := h.designer(vendor, 1)
	large := h.designer(vendor, 2)
	h.rule(func(in *rules.RuleInput) { in.RoutingTarget = enums.RoutingTargetVendorThenDesigner })
	ctx := context.Background()

	jobID := h.job(nil)
	out, err := h.svc().RunAssignment(ctx, jobID)
	require.NoError(t, err)

	assert.Equal(t, enums.AssignmentAssigned, out.Status)
	require.NotNil(t, out.DesignerID)
	assert.Equal(t, large, *out.DesignerID)
	assert.Equal(t, 1, h.committed(enums.EntityKindVendor, vendor))
	assert.Equal(t, 1, h.committed(enums.EntityKindDesigner, large))
	assert.Zero(t, h.committed(enums.EntityKindDesigner, small))

	stored, err := h.jobs.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, stored.VendorAssigneeID)
	require.NotNil(t, stored.AssigneeID)
	assert.Equal(t, vendor, *stored.VendorAssigneeID)
	assert.Equal(t, large, *stored.AssigneeID)

	entries := h.steps(jobID)
	assert.Equal(t, []enums.AssignmentStep{
		enums.StepRuleMatch,
		enums.StepVendorSelection,
		enums.StepDesignerSelection,
		enums.StepFinal,
	}, stepNames(entries))
	for i, e := range entries {
		assert.Equal(t, i+1, e.Sequence)
		assert.Equal(t, out.RunID, e.RunID)
	}
}

func TestFinalAuditRowMatchesOutcomeAndLedger(t *testing.T) {
	h := newHarness(t)
	vendor := h.vendor(3, 0)
	h.rule(nil)
	jobID := h.job(nil)

	out, err := h.svc().RunAssignment(context.Background(), jobID)
	require.NoError(t, err)

	entries := h.steps(jobID)
	final := entries[len(entries)-1]
	require.Equal(t, enums.StepFinal, final.Step)
	require.NotNil(t, final.Result)
	assert.Equal(t, out.Status, *final.Result)
	require.Len(t, final.Snapshot, 1)
	assert.Equal(t, vendor, final.Snapshot[0].EntityID)
	assert.Equal(t, h.committed(enums.EntityKindVendor, vendor), final.Snapshot[0].Committed)
	assert.Equal(t, 2, final.Snapshot[0].Headroom)

	selection := entries[1]
	require.Equal(t, enums.StepVendorSelection, selection.Step)
	assert.Zero(t, selection.Snapshot[0].Committed)
	require.NotNil(t, selection.ChosenID)
	assert.Equal(t, vendor, *selection.ChosenID)
}

func TestPriorityFirstPrefersHeavierVendor(t *testing.T) {
	h := newHarness(t)
	light := h.vendor(10, 1)
	heavy := h.vendor(1, 5)
	h.rule(func(in *rules.RuleInput) { in.RoutingStrategy = enums.RoutingStrategyPriorityFirst })
	svc := h.svc()
	ctx := context.Background()

	first, err := svc.RunAssignment(ctx, h.job(nil))
	require.NoError(t, err)
	assert.Equal(t, heavy, *first.VendorID)

	second, err := svc.RunAssignment(ctx, h.job(nil))
	require.NoError(t, err)
	assert.Equal(t, light, *second.VendorID)
}

func TestRoundRobinSpreadsJobs(t *testing.T) {
	h := newHarness(t)
	vendors := map[uuid.UUID]int{h.vendor(5, 0): 0, h.vendor(5, 0): 0, h.vendor(5, 0): 0}
	h.rule(func(in *rules.RuleInput) { in.RoutingStrategy = enums.RoutingStrategyRoundRobin })
	svc := h.svc()

	for i := 0; i < 3; i++ {
		out, err := svc.RunAssignment(context.Background(), h.job(nil))
		require.NoError(t, err)
		vendors[*out.VendorID]++
	}
	for id, n := range vendors {
		assert.Equal(t, 1, n, "vendor %s", id)
	}
}

func TestLockedJobIsSkipped(t *testing.T) {
	h := newHarness(t)
	vendor := h.vendor(5, 0)
	h.rule(nil)
	jobID := h.job(func(row *models.ServiceRequest) { row.LockedAssignment = true })
	ctx := context.Background()

	out, err := h.svc().RunAssignment(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, enums.AssignmentSkippedLocked, out.Status)
	assert.Nil(t, out.VendorID)

	entries := h.steps(jobID)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.StepLocked, entries[0].Step)
	require.NotNil(t, entries[0].Result)
	assert.Equal(t, enums.AssignmentSkippedLocked, *entries[0].Result)

	stored, err := h.jobs.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Nil(t, stored.AutoAssignmentStatus)
	assert.Nil(t, stored.LastAutomationRunAt)
	assert.Zero(t, h.committed(enums.EntityKindVendor, vendor))
}

func TestNoRuleLeavesJobPending(t *testing.T) {
	h := newHarness(t)
	h.vendor(5, 0)
	h.rule(func(in *rules.RuleInput) { in.ServiceIDs = []uuid.UUID{uuid.New()} })
	jobID := h.job(nil)
	ctx := context.Background()

	out, err := h.svc().RunAssignment(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, enums.AssignmentFailedNoVendor, out.Status)
	assert.Equal(t, reasonNoRule, out.Reason)
	assert.Equal(t, enums.FallbackLeavePending, out.Fallback)
	assert.Nil(t, out.RuleID)

	assert.Equal(t, []enums.AssignmentStep{enums.StepRuleMatch, enums.StepFinal}, stepNames(h.steps(jobID)))
	stored, err := h.jobs.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusPending, stored.Status)
	assert.Equal(t, reasonNoRule, stored.LastAutomationNote)
	assert.Empty(t, h.outboxEvents(enums.EventAutomationFallback))
}

func TestPartialAssignmentWhenNoDesigners(t *testing.T) {
	h := newHarness(t)
	vendor := h.vendor(5, 0)
	h.rule(func(in *rules.RuleInput) {
		in.RoutingTarget = enums.RoutingTargetVendorThenDesigner
		in.AllowPartialAssignment = true
	})
	jobID := h.job(nil)

	out, err := h.svc().RunAssignment(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, enums.AssignmentPartialAssigned, out.Status)
	assert.Equal(t, vendor, *out.VendorID)
	assert.Nil(t, out.DesignerID)
	assert.Equal(t, 1, h.committed(enums.EntityKindVendor, vendor))

	entries := h.steps(jobID)
	designerStep := entries[2]
	require.Equal(t, enums.StepDesignerSelection, designerStep.Step)
	assert.Nil(t, designerStep.ChosenID)
}

func TestNoDesignerFailsWithoutLedgerWrites(t *testing.T) {
	h := newHarness(t)
	vendor := h.vendor(5, 0)
	h.rule(func(in *rules.RuleInput) {
		in.RoutingTarget = enums.RoutingTargetVendorThenDesigner
		in.FallbackAction = enums.FallbackNotifyOnly
	})
	jobID := h.job(nil)

	out, err := h.svc().RunAssignment(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, enums.AssignmentFailedNoDesigner, out.Status)
	assert.Nil(t, out.VendorID)
	assert.Zero(t, h.committed(enums.EntityKindVendor, vendor))
	assert.Len(t, h.outboxEvents(enums.EventAutomationFallback), 1)
	assert.Empty(t, h.outboxEvents(enums.EventJobAutoAssigned))
}

func TestFullDesignersFailOnCapacity(t *testing.T) {
	h := newHarness(t)
	vendor := h.vendor(5, 0)
	h.designer(vendor, 0)
	h.rule(func(in *rules.RuleInput) { in.RoutingTarget = enums.RoutingTargetVendorThenDesigner })

	out, err := h.svc().RunAssignment(context.Background(), h.job(nil))
	require.NoError(t, err)
	assert.Equal(t, enums.AssignmentFailedCapacity, out.Status)
	assert.Equal(t, reasonDesignerFull, out.Reason)
	assert.Zero(t, h.committed(enums.EntityKindVendor, vendor))
}

func TestDesignersForOtherServicesAreNotCandidates(t *testing.T) {
	h := newHarness(t)
	vendor := h.vendor(5, 0)
	designer := h.designer(vendor, 3)
	ctx := context.Background()
	require.NoError(t, h.conn.Where("designer_id = ?", designer).Delete(&models.VendorDesignerCapacity{}).Error)
	_, err := h.ledger.UpsertDesignerCapacity(ctx, capacity.DesignerCapacityInput{
		DesignerID:        designer,
		ServiceID:         uuid.New(),
		DailyCapacity:     3,
		AutoAssignEnabled: true,
	})
	require.NoError(t, err)
	h.rule(func(in *rules.RuleInput) { in.RoutingTarget = enums.RoutingTargetVendorThenDesigner })

	out, err := h.svc().RunAssignment(ctx, h.job(nil))
	require.NoError(t, err)
	assert.Equal(t, enums.AssignmentFailedNoDesigner, out.Status)
	assert.Equal(t, reasonNoDesigners, out.Reason)
	assert.Zero(t, h.committed(enums.EntityKindVendor, vendor))
}

func TestVendorStrategyOverridesRuleForDesigners(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vendor := h.vendor(5, 0)
	heavy := h.designer(vendor, 2)
	light := h.designer(vendor, 10)
	_, err := h.ledger.UpsertDesignerCapacity(ctx, capacity.DesignerCapacityInput{
		DesignerID: heavy, ServiceID: h.service, DailyCapacity: 2, AutoAssignEnabled: true, PriorityWeight: 5,
	})
	require.NoError(t, err)
	h.rule(func(in *rules.RuleInput) { in.RoutingTarget = enums.RoutingTargetVendorThenDesigner })

	out, err := h.svc().RunAssignment(ctx, h.job(nil))
	require.NoError(t, err)
	require.Equal(t, enums.AssignmentAssigned, out.Status)
	assert.Equal(t, light, *out.DesignerID)

	_, err = h.ledger.UpsertVendorCapacity(ctx, capacity.VendorCapacityInput{
		VendorID:          vendor,
		ServiceID:         h.service,
		DailyCapacity:     5,
		AutoAssignEnabled: true,
		RoutingStrategy:   enums.RoutingStrategyPriorityFirst,
	})
	require.NoError(t, err)

	jobID := h.job(nil)
	out, err = h.svc().RunAssignment(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, enums.AssignmentAssigned, out.Status)
	assert.Equal(t, heavy, *out.DesignerID)

	for _, e := range h.steps(jobID) {
		if e.Step == enums.StepDesignerSelection {
			assert.Contains(t, e.Reason, string(enums.RoutingStrategyPriorityFirst))
		}
	}
}

func TestGlobalRuleListsFilterVendors(t *testing.T) {
	h := newHarness(t)
	allowed := h.vendor(1, 0)
	excluded := h.vendor(10, 0)
	outside := h.vendor(10, 0)
	h.rule(func(in *rules.RuleInput) {
		in.AllowedVendorIDs = []uuid.UUID{allowed, excluded}
		in.ExcludedVendorIDs = []uuid.UUID{excluded}
	})
	jobID := h.job(nil)

	out, err := h.svc().RunAssignment(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, allowed, *out.VendorID)

	selection := h.steps(jobID)[1]
	reasons := map[uuid.UUID]string{}
	for _, c := range selection.Candidates {
		reasons[c.ID] = c.Reason
	}
	assert.Equal(t, "excluded by rule", reasons[excluded])
	assert.Equal(t, "not in allowed vendors", reasons[outside])
	assert.Empty(t, reasons[allowed])
}

func TestVendorRuleRoutesPinnedJobsOnly(t *testing.T) {
	h := newHarness(t)
	owner := h.vendor(1, 0)
	h.vendor(10, 0)
	h.rule(func(in *rules.RuleInput) {
		in.Scope = enums.RuleScopeVendor
		in.OwnerVendorID = &owner
		in.Priority = 100
	})
	svc := h.svc()
	ctx := context.Background()

	pinned, err := svc.RunAssignment(ctx, h.job(func(row *models.ServiceRequest) { row.PreferredVendorID = &owner }))
	require.NoError(t, err)
	assert.Equal(t, owner, *pinned.VendorID)

	unpinned, err := svc.RunAssignment(ctx, h.job(nil))
	require.NoError(t, err)
	assert.Equal(t, enums.AssignmentFailedNoVendor, unpinned.Status)
	assert.Equal(t, reasonNoRule, unpinned.Reason)
}

func TestAuditReplayMatchesLedger(t *testing.T) {
	h := newHarness(t)
	a := h.vendor(2, 0)
	b := h.vendor(1, 0)
	designerA := h.designer(a, 2)
	designerB := h.designer(b, 1)
	h.rule(func(in *rules.RuleInput) { in.RoutingTarget = enums.RoutingTargetVendorThenDesigner })
	svc := h.svc()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.RunAssignment(ctx, h.job(nil))
		require.NoError(t, err)
	}

	entries, err := h.audit.ListSince(ctx, h.ledger.Today())
	require.NoError(t, err)
	replayed := audit.ReplayCommittedUnits(entries)
	day := h.ledger.Today()
	for _, id := range []uuid.UUID{a, b} {
		key := audit.UsageKey{Kind: enums.EntityKindVendor, EntityID: id, ServiceID: h.service, Day: day}
		assert.Equal(t, h.committed(enums.EntityKindVendor, id), replayed[key])
	}
	for _, id := range []uuid.UUID{designerA, designerB} {
		key := audit.UsageKey{Kind: enums.EntityKindDesigner, EntityID: id, ServiceID: h.service, Day: day}
		assert.Equal(t, h.committed(enums.EntityKindDesigner, id), replayed[key])
	}
	assert.Equal(t, 2, h.committed(enums.EntityKindVendor, a))
	assert.Equal(t, 1, h.committed(enums.EntityKindVendor, b))
}

// racyLedger loses the first commit for one entity as if a concurrent run
// had taken its last unit.
type racyLedger struct {
	capacity.Ledger
	loser uuid.UUID
	lost  *int
}

func (l racyLedger) WithTx(tx *gorm.DB) capacity.Ledger {
	return racyLedger{Ledger: l.Ledger.WithTx(tx), loser: l.loser, lost: l.lost}
}

func (l racyLedger) Commit(ctx context.Context, kind enums.EntityKind, id, serviceID uuid.UUID, day string, units int) error {
	if id == l.loser && *l.lost == 0 {
		*l.lost++
		return capacity.ErrCapacityExceeded
	}
	return l.Ledger.Commit(ctx, kind, id, serviceID, day, units)
}

func TestCommitConflictReselects(t *testing.T) {
	h := newHarness(t)
	favourite := h.vendor(10, 0)
	backup := h.vendor(5, 0)
	h.rule(nil)
	lost := 0
	h.deps.Ledger = racyLedger{Ledger: h.ledger, loser: favourite, lost: &lost}
	jobID := h.job(nil)

	out, err := h.svc().RunAssignment(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, enums.AssignmentAssigned, out.Status)
	assert.Equal(t, backup, *out.VendorID)
	assert.Equal(t, 2, out.Attempts)
	assert.Zero(t, h.committed(enums.EntityKindVendor, favourite))
	assert.Equal(t, 1, h.committed(enums.EntityKindVendor, backup))
	assert.Equal(t, 1.0, h.counter("jobrouter_capacity_commit_conflicts_total", "entity_kind", "vendor"))

	selection := h.steps(jobID)[1]
	for _, c := range selection.Candidates {
		if c.ID == favourite {
			assert.False(t, c.Eligible)
			assert.Equal(t, "lost capacity race", c.Reason)
		}
	}
}

type failingAudit struct {
	AuditLog
	failOn enums.AssignmentStep
}

func (f failingAudit) WithTx(tx *gorm.DB) AuditLog {
	return failingAudit{AuditLog: f.AuditLog.WithTx(tx), failOn: f.failOn}
}

func (f failingAudit) Append(ctx context.Context, e audit.Entry) (*audit.Entry, error) {
	if e.Step == f.failOn {
		return nil, pkgerrors.Dependency(errors.New("disk full"), "append audit entry")
	}
	return f.AuditLog.Append(ctx, e)
}

func TestStorageFailureRollsBackRun(t *testing.T) {
	h := newHarness(t)
	vendor := h.vendor(5, 0)
	h.rule(nil)
	h.deps.Audit = failingAudit{AuditLog: AuditFrom(h.audit), failOn: enums.StepFinal}
	jobID := h.job(nil)
	ctx := context.Background()

	_, err := h.svc().RunAssignment(ctx, jobID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	assert.Zero(t, h.committed(enums.EntityKindVendor, vendor))
	assert.Empty(t, h.steps(jobID))
	stored, err := h.jobs.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Nil(t, stored.AutoAssignmentStatus)
}

func TestRunAssignmentUnknownJob(t *testing.T) {
	h := newHarness(t)
	svc := h.svc()

	_, err := svc.RunAssignment(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.RunAssignment(context.Background(), uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

type fakeLocker struct {
	setNXFn func(key string) (bool, error)
	deleted []string
}

func (f *fakeLocker) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	return f.setNXFn(key)
}

func (f *fakeLocker) Get(context.Context, string) (string, error) { return "", errors.New("unused") }

func (f *fakeLocker) Del(_ context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

func (f *fakeLocker) JobLockKey(jobID string) string { return "jr:lock:job:" + jobID }

func TestRunLockRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t)
	h.vendor(5, 0)
	h.rule(nil)
	var seen string
	h.deps.Locker = &fakeLocker{setNXFn: func(key string) (bool, error) {
		seen = key
		return false, nil
	}}
	jobID := h.job(nil)

	_, err := h.svc().RunAssignment(context.Background(), jobID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, "jr:lock:job:"+jobID.String(), seen)
	assert.Empty(t, h.steps(jobID))
}

type stubQuota struct {
	allowance *quota.Allowance
}

func (s stubQuota) Preview(context.Context, uuid.UUID) (*quota.Preview, error) {
	return &s.allowance.Preview, nil
}

func (s stubQuota) CheckAllowance(context.Context, uuid.UUID, enums.JobPriority) (*quota.Allowance, error) {
	return s.allowance, nil
}

func TestCheckPriorityAllowanceAnnouncesDowngrade(t *testing.T) {
	h := newHarness(t)
	client := uuid.New()
	h.deps.Quota = stubQuota{allowance: &quota.Allowance{
		Preview:   quota.Preview{ClientID: client, ActiveCount: 50, UrgentCount: 10, UrgentCap: 10},
		Requested: enums.PriorityUrgent,
		Granted:   enums.PriorityHigh,
		Decision:  enums.QuotaDowngraded,
	}}

	got, err := h.svc().CheckPriorityAllowance(context.Background(), client, enums.PriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, enums.PriorityHigh, got.Granted)

	rows := h.outboxEvents(enums.EventPriorityDowngraded)
	require.Len(t, rows, 1)
	assert.Equal(t, client, rows[0].AggregateID)
}

func TestCheckPriorityAllowanceUsesQuota(t *testing.T) {
	h := newHarness(t)
	client := uuid.New()
	for i := 0; i < 4; i++ {
		h.job(func(row *models.ServiceRequest) { row.ClientID = client })
	}
	svc := h.svc()

	preview, err := svc.PreviewPriority(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, 4, preview.ActiveCount)

	got, err := svc.CheckPriorityAllowance(context.Background(), client, enums.PriorityUrgent)
	require.NoError(t, err)
	// four active jobs leave no urgent slot and one high slot
	assert.Equal(t, enums.QuotaDowngraded, got.Decision)
	assert.Equal(t, enums.PriorityHigh, got.Granted)
}
