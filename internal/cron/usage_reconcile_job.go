package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/jobrouter/internal/audit"
	"github.com/angelmondragon/jobrouter/internal/capacity"
	"github.com/angelmondragon/jobrouter/pkg/clock"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	"github.com/angelmondragon/jobrouter/pkg/logger"
)

type auditReader interface {
	ListSince(ctx context.Context, day string) ([]audit.Entry, error)
}

type usageReader interface {
	Snapshot(ctx context.Context, kind enums.EntityKind, ids []uuid.UUID, serviceID uuid.UUID, day string) (capacity.Snapshot, error)
}

type UsageReconcileJobParams struct {
	Logger *logger.Logger
	Audit  auditReader
	Ledger usageReader
	Clock  clock.Clock
}

// NewUsageReconcileJob replays today's audit trail and reports every bucket
// where the ledger cache disagrees with it. It never rewrites the ledger.
func NewUsageReconcileJob(params UsageReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit reader required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("capacity ledger required")
	}
	if params.Clock == nil {
		return nil, fmt.Errorf("clock required")
	}
	return &usageReconcileJob{
		logg:   params.Logger,
		audit:  params.Audit,
		ledger: params.Ledger,
		clock:  params.Clock,
	}, nil
}

type usageReconcileJob struct {
	logg   *logger.Logger
	audit  auditReader
	ledger usageReader
	clock  clock.Clock
}

type bucketGroup struct {
	kind      enums.EntityKind
	serviceID uuid.UUID
	day       string
}

func (j *usageReconcileJob) Name() string { return "capacity-usage-reconcile" }

func (j *usageReconcileJob) Run(ctx context.Context) error {
	day := clock.Today(j.clock)
	entries, err := j.audit.ListSince(ctx, day)
	if err != nil {
		return fmt.Errorf("load audit trail: %w", err)
	}
	replayed := audit.ReplayCommittedUnits(entries)

	groups := map[bucketGroup][]uuid.UUID{}
	for key := range replayed {
		g := bucketGroup{kind: key.Kind, serviceID: key.ServiceID, day: key.Day}
		groups[g] = append(groups[g], key.EntityID)
	}

	var errs error
	for g, ids := range groups {
		snap, err := j.ledger.Snapshot(ctx, g.kind, ids, g.serviceID, g.day)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("load %s usage for service %s: %w", g.kind, g.serviceID, err))
			continue
		}
		for _, id := range ids {
			want := replayed[audit.UsageKey{Kind: g.kind, EntityID: id, ServiceID: g.serviceID, Day: g.day}]
			got := snap[id].Committed
			if got == want {
				continue
			}
			j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
				"entity_kind": string(g.kind),
				"entity_id":   id.String(),
				"service_id":  g.serviceID.String(),
				"day":         g.day,
				"ledger":      got,
				"audit":       want,
			}), "capacity usage drift")
			errs = multierr.Append(errs, fmt.Errorf("%s %s service %s day %s: ledger %d, audit %d", g.kind, id, g.serviceID, g.day, got, want))
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"day":     day,
		"buckets": len(replayed),
		"drifted": len(multierr.Errors(errs)),
	}), "capacity usage reconcile complete")
	return errs
}
