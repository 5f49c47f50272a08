package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// AutomationAssignmentLog is one append-only step of an assignment decision.
type AutomationAssignmentLog struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RunID            uuid.UUID               `gorm:"column:run_id;type:uuid;not null"`
	Sequence         int                     `gorm:"column:sequence;not null"`
	RequestID        uuid.UUID               `gorm:"column:request_id;type:uuid;not null"`
	RequestType      enums.RequestType       `gorm:"column:request_type;type:request_type;not null"`
	RuleID           *uuid.UUID              `gorm:"column:rule_id;type:uuid"`
	ServiceID        uuid.UUID               `gorm:"column:service_id;type:uuid;not null"`
	Units            int                     `gorm:"column:units;not null;default:1"`
	Day              string                  `gorm:"column:day;type:varchar(10);not null"`
	Step             enums.AssignmentStep    `gorm:"column:step;type:assignment_step;not null"`
	Candidates       datatypes.JSON          `gorm:"column:candidates;type:jsonb;not null;default:'[]'"`
	ChosenID         *uuid.UUID              `gorm:"column:chosen_id;type:uuid"`
	Result           *enums.AssignmentStatus `gorm:"column:result;type:assignment_status"`
	Reason           string                  `gorm:"column:reason;not null;default:''"`
	CapacitySnapshot datatypes.JSON          `gorm:"column:capacity_snapshot;type:jsonb;not null"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
}
