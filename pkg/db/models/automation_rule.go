package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	dbtypes "github.com/angelmondragon/jobrouter/pkg/db/types"
	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// AutomationRule is the persisted, flat shape of a routing rule.
type AutomationRule struct {
	ID                     uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name                   string                `gorm:"column:name;not null"`
	Priority               int                   `gorm:"column:priority;not null;default:0"`
	Scope                  enums.RuleScope       `gorm:"column:scope;type:rule_scope;not null"`
	OwnerVendorID          *uuid.UUID            `gorm:"column:owner_vendor_id;type:uuid"`
	Active                 bool                  `gorm:"column:active;not null"`
	ServiceIDs             dbtypes.UUIDArray     `gorm:"column:service_ids;type:uuid[];not null;default:'{}'"`
	RoutingTarget          enums.RoutingTarget   `gorm:"column:routing_target;type:routing_target;not null"`
	RoutingStrategy        enums.RoutingStrategy `gorm:"column:routing_strategy;type:routing_strategy;not null"`
	AllowedVendorIDs       dbtypes.UUIDArray     `gorm:"column:allowed_vendor_ids;type:uuid[];not null;default:'{}'"`
	ExcludedVendorIDs      dbtypes.UUIDArray     `gorm:"column:excluded_vendor_ids;type:uuid[];not null;default:'{}'"`
	FallbackAction         enums.FallbackAction  `gorm:"column:fallback_action;type:fallback_action;not null;default:'leave_pending'"`
	AllowPartialAssignment bool                  `gorm:"column:allow_partial_assignment;not null;default:false"`
	MatchCriteria          datatypes.JSON        `gorm:"column:match_criteria;type:jsonb;not null;default:'{}'"`
	CreatedAt              time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
