package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/jobrouter/pkg/clock"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
)

var (
	// ErrCapacityExceeded means the commit would push committed units past the
	// effective daily capacity. Callers re-select; nothing was written.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrNoCapacityConfig means the entity has no capacity row for the service.
	ErrNoCapacityConfig = errors.New("no capacity configured")
)

// EntityCapacity is the ledger view of one entity for a service and day.
type EntityCapacity struct {
	EntityID      uuid.UUID             `json:"entity_id"`
	Kind          enums.EntityKind      `json:"kind"`
	Configured    bool                  `json:"configured"`
	DailyCapacity int                   `json:"daily_capacity"`
	Enabled       bool                  `json:"enabled"`
	Weight        int                   `json:"weight"`
	IsPrimary     bool                  `json:"is_primary,omitempty"`
	Strategy      enums.RoutingStrategy `json:"routing_strategy,omitempty"`
	Committed     int                   `json:"committed"`
	Headroom      int                   `json:"headroom"`
}

// Snapshot maps entity ids to their capacity view at decision time.
type Snapshot map[uuid.UUID]EntityCapacity

// Ledger tracks daily capacity and committed load per entity and service.
type Ledger interface {
	WithTx(tx *gorm.DB) Ledger
	Today() string
	Headroom(ctx context.Context, kind enums.EntityKind, entityID, serviceID uuid.UUID, day string) (int, error)
	Snapshot(ctx context.Context, kind enums.EntityKind, ids []uuid.UUID, serviceID uuid.UUID, day string) (Snapshot, error)
	Commit(ctx context.Context, kind enums.EntityKind, entityID, serviceID uuid.UUID, day string, units int) error
	UpsertVendorCapacity(ctx context.Context, input VendorCapacityInput) (*models.VendorServiceCapacity, error)
	UpsertDesignerCapacity(ctx context.Context, input DesignerCapacityInput) (*models.VendorDesignerCapacity, error)
	PruneUsageBefore(ctx context.Context, day string) (int64, error)
}

type ledger struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewLedger binds the ledger to db. Day keys come from clk.
func NewLedger(db *gorm.DB, clk clock.Clock) (Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("capacity ledger requires a db")
	}
	if clk == nil {
		return nil, fmt.Errorf("capacity ledger requires a clock")
	}
	return &ledger{db: db, clock: clk}, nil
}

func (l *ledger) WithTx(tx *gorm.DB) Ledger {
	if tx == nil {
		return l
	}
	return &ledger{db: tx, clock: l.clock}
}

func (l *ledger) Today() string {
	return clock.Today(l.clock)
}

func (l *ledger) Headroom(ctx context.Context, kind enums.EntityKind, entityID, serviceID uuid.UUID, day string) (int, error) {
	snap, err := l.Snapshot(ctx, kind, []uuid.UUID{entityID}, serviceID, day)
	if err != nil {
		return 0, err
	}
	entry := snap[entityID]
	if !entry.Configured {
		return 0, ErrNoCapacityConfig
	}
	return entry.Headroom, nil
}

type capacityRow struct {
	EntityID          uuid.UUID
	DailyCapacity     int
	AutoAssignEnabled bool
	PriorityWeight    int
	IsPrimary         bool
	RoutingStrategy   *string
}

func (l *ledger) Snapshot(ctx context.Context, kind enums.EntityKind, ids []uuid.UUID, serviceID uuid.UUID, day string) (Snapshot, error) {
	out := make(Snapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	table, idColumn, err := capacityTable(kind)
	if err != nil {
		return nil, err
	}

	selectCols := idColumn + " AS entity_id, daily_capacity, auto_assign_enabled, priority_weight"
	if kind == enums.EntityKindDesigner {
		selectCols += ", is_primary"
	} else {
		selectCols += ", routing_strategy"
	}
	var rows []capacityRow
	if err := l.db.WithContext(ctx).
		Table(table).
		Select(selectCols).
		Where(idColumn+" IN ? AND service_id = ?", ids, serviceID).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load %s capacities: %w", kind, err)
	}

	var usages []models.CapacityUsage
	if err := l.db.WithContext(ctx).
		Where("entity_kind = ? AND entity_id IN ? AND service_id = ? AND day = ?", kind, ids, serviceID, day).
		Find(&usages).Error; err != nil {
		return nil, fmt.Errorf("load %s usage: %w", kind, err)
	}
	committed := make(map[uuid.UUID]int, len(usages))
	for _, u := range usages {
		committed[u.EntityID] = u.CommittedUnits
	}

	for _, id := range ids {
		out[id] = EntityCapacity{EntityID: id, Kind: kind, Committed: committed[id]}
	}
	for _, row := range rows {
		entry := EntityCapacity{
			EntityID:      row.EntityID,
			Kind:          kind,
			Configured:    true,
			DailyCapacity: row.DailyCapacity,
			Enabled:       row.AutoAssignEnabled,
			Weight:        row.PriorityWeight,
			IsPrimary:     row.IsPrimary,
			Committed:     committed[row.EntityID],
		}
		if row.RoutingStrategy != nil {
			entry.Strategy = enums.RoutingStrategy(*row.RoutingStrategy)
		}
		entry.Headroom = headroomFor(entry)
		out[row.EntityID] = entry
	}
	return out, nil
}

// headroomFor treats disabled or zero-capacity entities as full.
func headroomFor(e EntityCapacity) int {
	if !e.Configured || !e.Enabled || e.DailyCapacity <= 0 {
		return 0
	}
	if h := e.DailyCapacity - e.Committed; h > 0 {
		return h
	}
	return 0
}

func (l *ledger) Commit(ctx context.Context, kind enums.EntityKind, entityID, serviceID uuid.UUID, day string, units int) error {
	if units <= 0 {
		return fmt.Errorf("commit units must be positive, got %d", units)
	}
	table, idColumn, err := capacityTable(kind)
	if err != nil {
		return err
	}
	db := l.db.WithContext(ctx)

	var configured int64
	if err := db.Table(table).Where(idColumn+" = ? AND service_id = ?", entityID, serviceID).Count(&configured).Error; err != nil {
		return fmt.Errorf("check %s capacity: %w", kind, err)
	}
	if configured == 0 {
		return ErrNoCapacityConfig
	}

	now := l.clock.Now().UTC()
	seed := models.CapacityUsage{
		EntityKind: kind,
		EntityID:   entityID,
		ServiceID:  serviceID,
		Day:        day,
		UpdatedAt:  now,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return fmt.Errorf("seed %s usage: %w", kind, err)
	}

	// Check and increment in one statement so concurrent runs cannot both
	// take the last unit.
	effectiveCapacity := fmt.Sprintf(
		"(SELECT CASE WHEN auto_assign_enabled THEN daily_capacity ELSE 0 END FROM %s WHERE %s = ? AND service_id = ?)",
		table, idColumn,
	)
	res := db.Model(&models.CapacityUsage{}).
		Where("entity_kind = ? AND entity_id = ? AND service_id = ? AND day = ?", kind, entityID, serviceID, day).
		Where("committed_units + ? <= "+effectiveCapacity, units, entityID, serviceID).
		Updates(map[string]any{
			"committed_units": gorm.Expr("committed_units + ?", units),
			"updated_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("commit %s usage: %w", kind, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCapacityExceeded
	}
	return nil
}

// PruneUsageBefore deletes cached usage rows for days strictly before day.
func (l *ledger) PruneUsageBefore(ctx context.Context, day string) (int64, error) {
	res := l.db.WithContext(ctx).Where("day < ?", day).Delete(&models.CapacityUsage{})
	return res.RowsAffected, res.Error
}

func capacityTable(kind enums.EntityKind) (string, string, error) {
	switch kind {
	case enums.EntityKindVendor:
		return "vendor_service_capacities", "vendor_id", nil
	case enums.EntityKindDesigner:
		return "vendor_designer_capacities", "designer_id", nil
	}
	return "", "", fmt.Errorf("unknown entity kind %q", kind)
}
