package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// ServiceRequest is the job record owned by the request store. Only the
// automation fields are written by the engine.
type ServiceRequest struct {
	ID                   uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RequestType          enums.RequestType       `gorm:"column:request_type;type:request_type;not null;default:'service_request'"`
	ServiceID            uuid.UUID               `gorm:"column:service_id;type:uuid;not null"`
	ClientID             uuid.UUID               `gorm:"column:client_id;type:uuid;not null"`
	Priority             enums.JobPriority       `gorm:"column:priority;type:job_priority;not null;default:'normal'"`
	Status               enums.JobStatus         `gorm:"column:status;type:job_status;not null;default:'pending'"`
	IsRush               bool                    `gorm:"column:is_rush;not null;default:false"`
	IsVIP                bool                    `gorm:"column:is_vip;not null;default:false"`
	Units                int                     `gorm:"column:units;not null;default:1"`
	PreferredVendorID    *uuid.UUID              `gorm:"column:preferred_vendor_id;type:uuid"`
	AssigneeID           *uuid.UUID              `gorm:"column:assignee_id;type:uuid"`
	AssignedAt           *time.Time              `gorm:"column:assigned_at"`
	VendorAssigneeID     *uuid.UUID              `gorm:"column:vendor_assignee_id;type:uuid"`
	VendorAssignedAt     *time.Time              `gorm:"column:vendor_assigned_at"`
	AutoAssignmentStatus *enums.AssignmentStatus `gorm:"column:auto_assignment_status;type:assignment_status"`
	LastAutomationRunAt  *time.Time              `gorm:"column:last_automation_run_at"`
	LastAutomationNote   *string                 `gorm:"column:last_automation_note"`
	LockedAssignment     bool                    `gorm:"column:locked_assignment;not null;default:false"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
