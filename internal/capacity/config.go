package capacity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
)

// VendorCapacityInput is an admin edit of a vendor's capacity for one service.
type VendorCapacityInput struct {
	VendorID          uuid.UUID
	ServiceID         uuid.UUID
	DailyCapacity     int
	AutoAssignEnabled bool
	PriorityWeight    int
	RoutingStrategy   enums.RoutingStrategy
}

// DesignerCapacityInput is an admin edit of a designer's capacity for one service.
type DesignerCapacityInput struct {
	DesignerID        uuid.UUID
	ServiceID         uuid.UUID
	DailyCapacity     int
	IsPrimary         bool
	AutoAssignEnabled bool
	PriorityWeight    int
}

func (in VendorCapacityInput) validate() error {
	if in.VendorID == uuid.Nil || in.ServiceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor_id and service_id are required")
	}
	if in.DailyCapacity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "daily_capacity must be >= 0")
	}
	if in.RoutingStrategy != "" && !in.RoutingStrategy.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid routing strategy %q", in.RoutingStrategy))
	}
	return nil
}

func (in DesignerCapacityInput) validate() error {
	if in.DesignerID == uuid.Nil || in.ServiceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "designer_id and service_id are required")
	}
	if in.DailyCapacity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "daily_capacity must be >= 0")
	}
	return nil
}

// UpsertVendorCapacity creates or edits the (vendor, service) row. Rows are
// never deleted; disabling auto assign takes the vendor out of pools. An empty
// strategy clears the vendor override.
func (l *ledger) UpsertVendorCapacity(ctx context.Context, input VendorCapacityInput) (*models.VendorServiceCapacity, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	var strategy *enums.RoutingStrategy
	if input.RoutingStrategy != "" {
		strategy = &input.RoutingStrategy
	}
	now := l.clock.Now().UTC()
	row := models.VendorServiceCapacity{
		ID:                uuid.New(),
		VendorID:          input.VendorID,
		ServiceID:         input.ServiceID,
		DailyCapacity:     input.DailyCapacity,
		AutoAssignEnabled: input.AutoAssignEnabled,
		PriorityWeight:    input.PriorityWeight,
		RoutingStrategy:   strategy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	db := l.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vendor_id"}, {Name: "service_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"daily_capacity", "auto_assign_enabled", "priority_weight", "routing_strategy", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert vendor capacity")
	}

	var stored models.VendorServiceCapacity
	if err := db.Where("vendor_id = ? AND service_id = ?", input.VendorID, input.ServiceID).First(&stored).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload vendor capacity")
	}
	return &stored, nil
}

func (l *ledger) UpsertDesignerCapacity(ctx context.Context, input DesignerCapacityInput) (*models.VendorDesignerCapacity, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	now := l.clock.Now().UTC()
	row := models.VendorDesignerCapacity{
		ID:                uuid.New(),
		DesignerID:        input.DesignerID,
		ServiceID:         input.ServiceID,
		DailyCapacity:     input.DailyCapacity,
		IsPrimary:         input.IsPrimary,
		AutoAssignEnabled: input.AutoAssignEnabled,
		PriorityWeight:    input.PriorityWeight,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	db := l.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "designer_id"}, {Name: "service_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"daily_capacity", "is_primary", "auto_assign_enabled", "priority_weight", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert designer capacity")
	}

	var stored models.VendorDesignerCapacity
	if err := db.Where("designer_id = ? AND service_id = ?", input.DesignerID, input.ServiceID).First(&stored).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload designer capacity")
	}
	return &stored, nil
}
