package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/jobrouter/pkg/clock"
	"github.com/angelmondragon/jobrouter/pkg/logger"
)

const capacityUsageRetentionDays = 90

type usagePruner interface {
	PruneUsageBefore(ctx context.Context, day string) (int64, error)
}

type CapacityRetentionJobParams struct {
	Logger    *logger.Logger
	Ledger    usagePruner
	Clock     clock.Clock
	Retention int
}

// NewCapacityRetentionJob drops capacity_usages buckets older than the
// retention window. Past days are never read by the engine.
func NewCapacityRetentionJob(params CapacityRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("capacity ledger required")
	}
	if params.Clock == nil {
		return nil, fmt.Errorf("clock required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = capacityUsageRetentionDays
	}
	return &capacityRetentionJob{
		logg:      params.Logger,
		ledger:    params.Ledger,
		clock:     params.Clock,
		retention: retention,
	}, nil
}

type capacityRetentionJob struct {
	logg      *logger.Logger
	ledger    usagePruner
	clock     clock.Clock
	retention int
}

func (j *capacityRetentionJob) Name() string { return "capacity-usage-retention" }

func (j *capacityRetentionJob) Run(ctx context.Context) error {
	cutoff := clock.DayOf(j.clock, j.clock.Now().AddDate(0, 0, -j.retention))
	deleted, err := j.ledger.PruneUsageBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune capacity usage before %s: %w", cutoff, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff_day":     cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}), "capacity usage retention complete")
	return nil
}
