package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/internal/capacity"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// Candidate is one entity as it looked when the step was decided.
type Candidate struct {
	ID        uuid.UUID `json:"id"`
	Capacity  int       `json:"capacity"`
	Committed int       `json:"committed"`
	Headroom  int       `json:"headroom"`
	Weight    int       `json:"weight"`
	Eligible  bool      `json:"eligible"`
	Reason    string    `json:"reason,omitempty"`
}

// Entry is one decision step.
type Entry struct {
	ID          uuid.UUID                 `json:"id"`
	RunID       uuid.UUID                 `json:"run_id"`
	Sequence    int                       `json:"sequence"`
	RequestID   uuid.UUID                 `json:"request_id"`
	RequestType enums.RequestType         `json:"request_type"`
	RuleID      *uuid.UUID                `json:"rule_id,omitempty"`
	ServiceID   uuid.UUID                 `json:"service_id"`
	Units       int                       `json:"units"`
	Day         string                    `json:"day"`
	Step        enums.AssignmentStep      `json:"step"`
	Candidates  []Candidate               `json:"candidates"`
	ChosenID    *uuid.UUID                `json:"chosen_id,omitempty"`
	Result      *enums.AssignmentStatus   `json:"result,omitempty"`
	Reason      string                    `json:"reason"`
	Snapshot    []capacity.EntityCapacity `json:"capacity_snapshot"`
	CreatedAt   time.Time                 `json:"created_at"`
}

func (e Entry) toModel() (models.AutomationAssignmentLog, error) {
	candidates := e.Candidates
	if candidates == nil {
		candidates = []Candidate{}
	}
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return models.AutomationAssignmentLog{}, fmt.Errorf("encode candidates: %w", err)
	}
	snapshotJSON, err := json.Marshal(e.Snapshot)
	if err != nil {
		return models.AutomationAssignmentLog{}, fmt.Errorf("encode capacity snapshot: %w", err)
	}
	return models.AutomationAssignmentLog{
		ID:               e.ID,
		RunID:            e.RunID,
		Sequence:         e.Sequence,
		RequestID:        e.RequestID,
		RequestType:      e.RequestType,
		RuleID:           e.RuleID,
		ServiceID:        e.ServiceID,
		Units:            e.Units,
		Day:              e.Day,
		Step:             e.Step,
		Candidates:       candidatesJSON,
		ChosenID:         e.ChosenID,
		Result:           e.Result,
		Reason:           e.Reason,
		CapacitySnapshot: snapshotJSON,
		CreatedAt:        e.CreatedAt,
	}, nil
}

func fromModel(row models.AutomationAssignmentLog) (Entry, error) {
	entry := Entry{
		ID:          row.ID,
		RunID:       row.RunID,
		Sequence:    row.Sequence,
		RequestID:   row.RequestID,
		RequestType: row.RequestType,
		RuleID:      row.RuleID,
		ServiceID:   row.ServiceID,
		Units:       row.Units,
		Day:         row.Day,
		Step:        row.Step,
		ChosenID:    row.ChosenID,
		Result:      row.Result,
		Reason:      row.Reason,
		CreatedAt:   row.CreatedAt,
	}
	if len(row.Candidates) > 0 {
		if err := json.Unmarshal(row.Candidates, &entry.Candidates); err != nil {
			return Entry{}, fmt.Errorf("decode candidates of %s: %w", row.ID, err)
		}
	}
	if err := json.Unmarshal(row.CapacitySnapshot, &entry.Snapshot); err != nil {
		return Entry{}, fmt.Errorf("decode capacity snapshot of %s: %w", row.ID, err)
	}
	return entry, nil
}
