package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// VendorServiceCapacity is the daily capacity a vendor offers for one service.
// A set RoutingStrategy overrides the rule's strategy when picking among the
// vendor's designers.
type VendorServiceCapacity struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID          uuid.UUID              `gorm:"column:vendor_id;type:uuid;not null"`
	ServiceID         uuid.UUID              `gorm:"column:service_id;type:uuid;not null"`
	DailyCapacity     int                    `gorm:"column:daily_capacity;not null;default:0"`
	AutoAssignEnabled bool                   `gorm:"column:auto_assign_enabled;not null"`
	PriorityWeight    int                    `gorm:"column:priority_weight;not null;default:0"`
	RoutingStrategy   *enums.RoutingStrategy `gorm:"column:routing_strategy;type:routing_strategy"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// VendorDesignerCapacity is the daily capacity a designer offers for one service.
type VendorDesignerCapacity struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DesignerID        uuid.UUID `gorm:"column:designer_id;type:uuid;not null"`
	ServiceID         uuid.UUID `gorm:"column:service_id;type:uuid;not null"`
	DailyCapacity     int       `gorm:"column:daily_capacity;not null;default:0"`
	IsPrimary         bool      `gorm:"column:is_primary;not null;default:false"`
	AutoAssignEnabled bool      `gorm:"column:auto_assign_enabled;not null"`
	PriorityWeight    int       `gorm:"column:priority_weight;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// CapacityUsage caches committed units per entity, service and day.
type CapacityUsage struct {
	EntityKind     enums.EntityKind `gorm:"column:entity_kind;type:capacity_entity_kind;primaryKey"`
	EntityID       uuid.UUID        `gorm:"column:entity_id;type:uuid;primaryKey"`
	ServiceID      uuid.UUID        `gorm:"column:service_id;type:uuid;primaryKey"`
	Day            string           `gorm:"column:day;type:varchar(10);primaryKey"`
	CommittedUnits int              `gorm:"column:committed_units;not null;default:0"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
