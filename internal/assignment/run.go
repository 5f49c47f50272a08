package assignment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/internal/audit"
	"github.com/angelmondragon/jobrouter/internal/capacity"
	"github.com/angelmondragon/jobrouter/internal/jobs"
	"github.com/angelmondragon/jobrouter/internal/notifications"
	"github.com/angelmondragon/jobrouter/internal/routing"
	"github.com/angelmondragon/jobrouter/internal/rules"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/outbox/payloads"
)

const (
	reasonLocked         = "assignment locked"
	reasonNoRule         = "no rule matched"
	reasonNoVendors      = "no vendors available for service"
	reasonVendorCapacity = "no vendor has capacity"
	reasonNoDesigners    = "no designers available for vendor"
	reasonDesignerFull   = "no designer has capacity"
	reasonRetries        = "capacity changed during selection"
)

// run holds the state of one decision inside its transaction.
type run struct {
	*service
	tx        *gorm.DB
	id        uuid.UUID
	jobs      JobStore
	directory Directory
	rules     RuleMatcher
	ledger    capacity.Ledger
	router    Router
	audit     AuditLog
	day       string
	now       time.Time

	job           *jobs.Job
	ruleID        *uuid.UUID
	seq           int
	lostDesigners map[uuid.UUID]bool
}

// pick is what one attempt chose before committing.
type pick struct {
	vendor           *routing.Candidate
	designer         *routing.Candidate
	designers        *level
	designerStrategy enums.RoutingStrategy
	partial          string
}

type commitConflict struct {
	kind enums.EntityKind
	id   uuid.UUID
	err  error
}

func (c *commitConflict) Error() string {
	return fmt.Sprintf("%s %s: %v", c.kind, c.id, c.err)
}

func (c *commitConflict) Unwrap() error { return c.err }

type designerUnavailable struct {
	status enums.AssignmentStatus
	reason string
}

func (d *designerUnavailable) Error() string { return d.reason }

func (r *run) decide(ctx context.Context, jobID uuid.UUID) (*Outcome, error) {
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	r.job = job
	out := &Outcome{RunID: r.id, JobID: job.ID, Day: r.day}

	if job.LockedAssignment {
		out.Status = enums.AssignmentSkippedLocked
		out.Reason = reasonLocked
		status := out.Status
		if err := r.append(ctx, audit.Entry{Step: enums.StepLocked, Result: &status, Reason: reasonLocked}); err != nil {
			return nil, err
		}
		return out, nil
	}

	rule, err := r.rules.Match(ctx, rules.Job{
		ID:                job.ID,
		ServiceID:         job.ServiceID,
		ClientID:          job.ClientID,
		RequestType:       job.RequestType,
		Priority:          job.Priority,
		IsRush:            job.IsRush,
		IsVIP:             job.IsVIP,
		PreferredVendorID: job.PreferredVendorID,
	})
	if err != nil {
		return nil, pkgerrors.Dependency(err, "match rule")
	}
	if rule == nil {
		if err := r.append(ctx, audit.Entry{Step: enums.StepRuleMatch, Reason: reasonNoRule}); err != nil {
			return nil, err
		}
		out.Fallback = enums.FallbackLeavePending
		return r.finish(ctx, out, enums.AssignmentFailedNoVendor, reasonNoRule, nil, nil)
	}

	r.ruleID = &rule.ID
	out.RuleID = &rule.ID
	out.Fallback = rule.Fallback
	ctx = r.logg.WithRuleID(ctx, rule.ID.String())
	if err := r.append(ctx, audit.Entry{
		Step:     enums.StepRuleMatch,
		ChosenID: &rule.ID,
		Reason:   fmt.Sprintf("matched rule %q", rule.Name),
	}); err != nil {
		return nil, err
	}

	vendors, err := r.vendorLevel(ctx, rule)
	if err != nil {
		return nil, err
	}

	var (
		chosen   *pick
		status   enums.AssignmentStatus
		reason   string
		lastPick *pick
	)
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		current := &pick{}
		err := r.tx.Transaction(func(sp *gorm.DB) error {
			return r.attempt(ctx, sp, rule, vendors, current)
		})
		lastPick = current

		var conflict *commitConflict
		var unavailable *designerUnavailable
		switch {
		case err == nil:
			chosen = current
		case errors.As(err, &conflict):
			r.metrics.IncCommitConflict(string(conflict.kind))
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
				"entity_kind": string(conflict.kind),
				"entity_id":   conflict.id.String(),
				"attempt":     attempt,
			}), "capacity commit lost, reselecting")
			if conflict.kind == enums.EntityKindVendor {
				vendors.lost[conflict.id] = true
			} else {
				r.lostDesigners[conflict.id] = true
			}
			if attempt < r.maxTries {
				continue
			}
			status, reason = enums.AssignmentFailedCapacity, reasonRetries
			lastPick = &pick{}
		case errors.As(err, &unavailable):
			status, reason = unavailable.status, unavailable.reason
		case errors.Is(err, routing.ErrNoEligibleCandidate):
			if len(vendors.ids) == 0 {
				status, reason = enums.AssignmentFailedNoVendor, reasonNoVendors
			} else {
				status, reason = enums.AssignmentFailedCapacity, reasonVendorCapacity
			}
		default:
			return nil, pkgerrors.Dependency(err, "select assignee")
		}
		break
	}

	if err := r.recordSelections(ctx, rule, vendors, lastPick); err != nil {
		return nil, err
	}

	if chosen == nil {
		return r.finish(ctx, out, status, reason, vendors, lastPick.designers)
	}

	out.VendorID = &chosen.vendor.ID
	if chosen.designer != nil {
		out.DesignerID = &chosen.designer.ID
	}
	if chosen.partial != "" {
		return r.finish(ctx, out, enums.AssignmentPartialAssigned, "vendor assigned; "+chosen.partial, vendors, chosen.designers)
	}
	return r.finish(ctx, out, enums.AssignmentAssigned, fmt.Sprintf("assigned by %s", rule.Strategy), vendors, chosen.designers)
}

// attempt selects and commits inside a savepoint. Any error rolls back the
// ledger and cursor writes made here.
func (r *run) attempt(ctx context.Context, sp *gorm.DB, rule *rules.Rule, vendors *level, p *pick) error {
	router := r.router.WithTx(sp)
	ledger := r.ledger.WithTx(sp)
	serviceID := r.job.ServiceID

	vendor, err := router.Select(ctx, rule.Strategy, routing.RuleCursorKey(rule.ID, serviceID), vendors.pool())
	if err != nil {
		return err
	}
	p.vendor = &vendor

	if rule.RequiresDesigner() {
		designers, err := r.designerLevel(ctx, sp, vendor.ID)
		if err != nil {
			return err
		}
		p.designers = designers
		p.designerStrategy = designerStrategy(rule, vendors.snap[vendor.ID])
		designer, err := router.Select(ctx, p.designerStrategy, routing.VendorCursorKey(vendor.ID, serviceID), designers.pool())
		switch {
		case err == nil:
			p.designer = &designer
		case errors.Is(err, routing.ErrNoEligibleCandidate):
			status, reason := enums.AssignmentFailedCapacity, reasonDesignerFull
			if len(designers.ids) == 0 {
				status, reason = enums.AssignmentFailedNoDesigner, reasonNoDesigners
			}
			if !rule.AllowPartialAssignment {
				return &designerUnavailable{status: status, reason: reason}
			}
			p.partial = reason
		default:
			return err
		}
	}

	if err := commit(ctx, ledger, enums.EntityKindVendor, vendor.ID, serviceID, r.day, r.job.Units); err != nil {
		return err
	}
	if p.designer != nil {
		if err := commit(ctx, ledger, enums.EntityKindDesigner, p.designer.ID, serviceID, r.day, r.job.Units); err != nil {
			return err
		}
	}
	return nil
}

// designerStrategy prefers the vendor's own routing strategy for its
// designers and falls back to the rule's.
func designerStrategy(rule *rules.Rule, vendor capacity.EntityCapacity) enums.RoutingStrategy {
	if vendor.Strategy.IsValid() {
		return vendor.Strategy
	}
	return rule.Strategy
}

func commit(ctx context.Context, ledger capacity.Ledger, kind enums.EntityKind, id, serviceID uuid.UUID, day string, units int) error {
	err := ledger.Commit(ctx, kind, id, serviceID, day, units)
	if errors.Is(err, capacity.ErrCapacityExceeded) || errors.Is(err, capacity.ErrNoCapacityConfig) {
		return &commitConflict{kind: kind, id: id, err: err}
	}
	return err
}

func (r *run) vendorLevel(ctx context.Context, rule *rules.Rule) (*level, error) {
	all, err := r.directory.VendorsForService(ctx, r.job.ServiceID)
	if err != nil {
		return nil, pkgerrors.Dependency(err, "list vendors")
	}
	lvl := newLevel(enums.EntityKindVendor)
	for _, id := range all {
		if why := scopeExclusion(rule.Scope, r.job.PreferredVendorID, id); why != "" {
			lvl.filtered[id] = why
			continue
		}
		lvl.ids = append(lvl.ids, id)
	}
	lvl.snap, err = r.ledger.Snapshot(ctx, enums.EntityKindVendor, lvl.ids, r.job.ServiceID, r.day)
	if err != nil {
		return nil, pkgerrors.Dependency(err, "load vendor capacity")
	}
	return lvl, nil
}

func (r *run) designerLevel(ctx context.Context, sp *gorm.DB, vendorID uuid.UUID) (*level, error) {
	ids, err := r.directory.WithTx(sp).DesignersForVendorAndService(ctx, vendorID, r.job.ServiceID)
	if err != nil {
		return nil, err
	}
	lvl := newLevel(enums.EntityKindDesigner)
	lvl.ids = ids
	for id := range r.lostDesigners {
		lvl.lost[id] = true
	}
	lvl.snap, err = r.ledger.WithTx(sp).Snapshot(ctx, enums.EntityKindDesigner, ids, r.job.ServiceID, r.day)
	if err != nil {
		return nil, err
	}
	return lvl, nil
}

// scopeExclusion explains why a vendor is outside the rule's reach, or
// returns "" when it is in.
func scopeExclusion(scope rules.Scope, pinned *uuid.UUID, id uuid.UUID) string {
	switch sc := scope.(type) {
	case rules.VendorScope:
		if id != sc.OwnerVendorID {
			return "not the rule owner"
		}
	case rules.GlobalScope:
		if len(sc.AllowedVendorIDs) > 0 && !containsID(sc.AllowedVendorIDs, id) {
			return "not in allowed vendors"
		}
		if containsID(sc.ExcludedVendorIDs, id) {
			return "excluded by rule"
		}
	}
	if pinned != nil && *pinned != id {
		return "job pinned to another vendor"
	}
	return ""
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func (r *run) recordSelections(ctx context.Context, rule *rules.Rule, vendors *level, p *pick) error {
	vendorEntry := audit.Entry{
		Step:       enums.StepVendorSelection,
		Candidates: vendors.candidates(),
		Snapshot:   vendors.snapshot(),
		Reason:     fmt.Sprintf("%s over %d eligible", rule.Strategy, len(vendors.pool().Eligible())),
	}
	if p.vendor != nil {
		vendorEntry.ChosenID = &p.vendor.ID
	} else {
		vendorEntry.Reason = "no eligible vendor"
	}
	if err := r.append(ctx, vendorEntry); err != nil {
		return err
	}

	if p.vendor == nil || p.designers == nil {
		return nil
	}
	designerEntry := audit.Entry{
		Step:       enums.StepDesignerSelection,
		Candidates: p.designers.candidates(),
		Snapshot:   p.designers.snapshot(),
		Reason:     fmt.Sprintf("%s over %d eligible", p.designerStrategy, len(p.designers.pool().Eligible())),
	}
	if p.designer != nil {
		designerEntry.ChosenID = &p.designer.ID
	} else {
		designerEntry.Reason = "no eligible designer"
	}
	return r.append(ctx, designerEntry)
}

// finish writes the final audit row with post-commit capacity, updates the
// job and queues any notification.
func (r *run) finish(ctx context.Context, out *Outcome, status enums.AssignmentStatus, reason string, vendors, designers *level) (*Outcome, error) {
	out.Status = status
	out.Reason = reason

	snapshot := []capacity.EntityCapacity{}
	for _, lvl := range []*level{vendors, designers} {
		if lvl == nil || len(lvl.ids) == 0 {
			continue
		}
		after, err := r.ledger.Snapshot(ctx, lvl.kind, lvl.ids, r.job.ServiceID, r.day)
		if err != nil {
			return nil, pkgerrors.Dependency(err, "load post-commit capacity")
		}
		snapshot = append(snapshot, ordered(after, lvl.ids)...)
	}
	result := status
	if err := r.append(ctx, audit.Entry{Step: enums.StepFinal, Result: &result, Reason: reason, Snapshot: snapshot}); err != nil {
		return nil, err
	}

	if err := r.jobs.SetAssignment(ctx, r.job.ID, jobs.Assignment{
		Status:     status,
		VendorID:   out.VendorID,
		DesignerID: out.DesignerID,
		Note:       reason,
		RunAt:      r.now,
	}); err != nil {
		return nil, err
	}

	switch {
	case status.IsSuccess():
		r.notifier.Notify(ctx, r.tx, notifications.Notification{
			Event:       enums.EventJobAutoAssigned,
			RequestType: r.job.RequestType,
			RequestID:   r.job.ID,
			Data: payloads.JobAutoAssignedEvent{
				RequestID:        r.job.ID,
				RequestType:      r.job.RequestType,
				RunID:            r.id,
				RuleID:           out.RuleID,
				Status:           status,
				VendorAssigneeID: *out.VendorID,
				AssigneeID:       out.DesignerID,
				Note:             reason,
			},
		})
	case out.Fallback == enums.FallbackNotifyOnly:
		r.notifier.Notify(ctx, r.tx, notifications.Notification{
			Event:       enums.EventAutomationFallback,
			RequestType: r.job.RequestType,
			RequestID:   r.job.ID,
			Data: payloads.AutomationFallbackEvent{
				RequestID:   r.job.ID,
				RequestType: r.job.RequestType,
				RunID:       r.id,
				RuleID:      out.RuleID,
				Status:      status,
				Reason:      reason,
			},
		})
	}
	return out, nil
}

func (r *run) append(ctx context.Context, e audit.Entry) error {
	r.seq++
	e.RunID = r.id
	e.Sequence = r.seq
	e.RequestID = r.job.ID
	e.RequestType = r.job.RequestType
	e.ServiceID = r.job.ServiceID
	e.Units = r.job.Units
	e.Day = r.day
	if e.RuleID == nil {
		e.RuleID = r.ruleID
	}
	if e.Snapshot == nil {
		e.Snapshot = []capacity.EntityCapacity{}
	}
	_, err := r.audit.Append(ctx, e)
	return err
}

// level is one tier of candidates (vendors, or one vendor's designers).
type level struct {
	kind     enums.EntityKind
	ids      []uuid.UUID
	filtered map[uuid.UUID]string
	snap     capacity.Snapshot
	lost     map[uuid.UUID]bool
}

func newLevel(kind enums.EntityKind) *level {
	return &level{
		kind:     kind,
		filtered: map[uuid.UUID]string{},
		snap:     capacity.Snapshot{},
		lost:     map[uuid.UUID]bool{},
	}
}

// pool converts the snapshot to routing candidates. Entities that lost a
// commit race this run count as full.
func (l *level) pool() routing.Pool {
	candidates := make([]routing.Candidate, 0, len(l.ids))
	for _, id := range l.ids {
		entry := l.snap[id]
		headroom := entry.Headroom
		if l.lost[id] {
			headroom = 0
		}
		candidates = append(candidates, routing.Candidate{
			ID:        id,
			Headroom:  headroom,
			Weight:    entry.Weight,
			IsPrimary: entry.IsPrimary,
		})
	}
	return routing.NewPool(candidates)
}

func (l *level) candidates() []audit.Candidate {
	out := make([]audit.Candidate, 0, len(l.ids)+len(l.filtered))
	for _, c := range l.pool() {
		entry := l.snap[c.ID]
		out = append(out, audit.Candidate{
			ID:        c.ID,
			Capacity:  entry.DailyCapacity,
			Committed: entry.Committed,
			Headroom:  entry.Headroom,
			Weight:    entry.Weight,
			Eligible:  c.Headroom > 0,
			Reason:    ineligibleReason(entry, l.lost[c.ID]),
		})
	}
	filtered := make([]uuid.UUID, 0, len(l.filtered))
	for id := range l.filtered {
		filtered = append(filtered, id)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].String() < filtered[j].String() })
	for _, id := range filtered {
		out = append(out, audit.Candidate{ID: id, Reason: l.filtered[id]})
	}
	return out
}

func (l *level) snapshot() []capacity.EntityCapacity {
	return ordered(l.snap, l.ids)
}

func ordered(snap capacity.Snapshot, ids []uuid.UUID) []capacity.EntityCapacity {
	out := make([]capacity.EntityCapacity, 0, len(ids))
	for _, id := range ids {
		if entry, ok := snap[id]; ok {
			out = append(out, entry)
		}
	}
	return out
}

func ineligibleReason(e capacity.EntityCapacity, lost bool) string {
	switch {
	case lost:
		return "lost capacity race"
	case !e.Configured:
		return "no capacity configured"
	case !e.Enabled:
		return "auto assign disabled"
	case e.DailyCapacity <= 0:
		return "zero daily capacity"
	case e.Headroom <= 0:
		return "at capacity"
	}
	return ""
}
