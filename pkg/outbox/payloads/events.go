package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// JobAutoAssignedEvent is emitted when a run lands a vendor on a job.
type JobAutoAssignedEvent struct {
	RequestID        uuid.UUID              `json:"request_id"`
	RequestType      enums.RequestType      `json:"request_type"`
	RunID            uuid.UUID              `json:"run_id"`
	RuleID           *uuid.UUID             `json:"rule_id,omitempty"`
	Status           enums.AssignmentStatus `json:"status"`
	VendorAssigneeID uuid.UUID              `json:"vendor_assignee_id"`
	AssigneeID       *uuid.UUID             `json:"assignee_id,omitempty"`
	Note             string                 `json:"note"`
}

// AutomationFallbackEvent asks humans to pick up a job automation could not place.
type AutomationFallbackEvent struct {
	RequestID   uuid.UUID              `json:"request_id"`
	RequestType enums.RequestType      `json:"request_type"`
	RunID       uuid.UUID              `json:"run_id"`
	RuleID      *uuid.UUID             `json:"rule_id,omitempty"`
	Status      enums.AssignmentStatus `json:"status"`
	Reason      string                 `json:"reason"`
}

// PriorityDowngradedEvent tells the client their requested priority was lowered.
type PriorityDowngradedEvent struct {
	ClientID  uuid.UUID         `json:"client_id"`
	RequestID *uuid.UUID        `json:"request_id,omitempty"`
	Requested enums.JobPriority `json:"requested"`
	Granted   enums.JobPriority `json:"granted"`
}
