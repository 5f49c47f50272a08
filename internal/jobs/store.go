package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
)

// Job is the engine's view of a service or bundle request.
type Job struct {
	ID                   uuid.UUID
	RequestType          enums.RequestType
	ServiceID            uuid.UUID
	ClientID             uuid.UUID
	Priority             enums.JobPriority
	Status               enums.JobStatus
	IsRush               bool
	IsVIP                bool
	Units                int
	PreferredVendorID    *uuid.UUID
	VendorAssigneeID     *uuid.UUID
	AssigneeID           *uuid.UUID
	AutoAssignmentStatus *enums.AssignmentStatus
	LastAutomationRunAt  *time.Time
	LastAutomationNote   string
	LockedAssignment     bool
}

func fromModel(row *models.ServiceRequest, defaultUnits int) Job {
	units := row.Units
	if units <= 0 {
		units = defaultUnits
	}
	job := Job{
		ID:                   row.ID,
		RequestType:          row.RequestType,
		ServiceID:            row.ServiceID,
		ClientID:             row.ClientID,
		Priority:             row.Priority,
		Status:               row.Status,
		IsRush:               row.IsRush,
		IsVIP:                row.IsVIP,
		Units:                units,
		PreferredVendorID:    row.PreferredVendorID,
		VendorAssigneeID:     row.VendorAssigneeID,
		AssigneeID:           row.AssigneeID,
		AutoAssignmentStatus: row.AutoAssignmentStatus,
		LastAutomationRunAt:  row.LastAutomationRunAt,
		LockedAssignment:     row.LockedAssignment,
	}
	if job.RequestType == "" {
		job.RequestType = enums.RequestTypeService
	}
	if row.LastAutomationNote != nil {
		job.LastAutomationNote = *row.LastAutomationNote
	}
	return job
}

// Assignment is the outcome written back to the job record.
type Assignment struct {
	Status     enums.AssignmentStatus
	VendorID   *uuid.UUID
	DesignerID *uuid.UUID
	Note       string
	RunAt      time.Time
}

// PriorityCounts summarizes a client's active jobs.
type PriorityCounts struct {
	Active int
	Urgent int
	High   int
}

// Store adapts the request table to the engine.
type Store struct {
	repo         *Repository
	defaultUnits int
}

func NewStore(repo *Repository, defaultUnits int) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if defaultUnits <= 0 {
		defaultUnits = 1
	}
	return &Store{repo: repo, defaultUnits: defaultUnits}, nil
}

func (s *Store) WithTx(tx *gorm.DB) *Store {
	if tx == nil {
		return s
	}
	return &Store{repo: s.repo.WithTx(tx), defaultUnits: s.defaultUnits}
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
		}
		return nil, pkgerrors.Dependency(err, "load job")
	}
	job := fromModel(row, s.defaultUnits)
	return &job, nil
}

// SetAssignment records the run outcome. Assignee fields are only written
// for the levels that were actually chosen.
func (s *Store) SetAssignment(ctx context.Context, jobID uuid.UUID, a Assignment) error {
	if !a.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid assignment status %q", a.Status))
	}
	runAt := a.RunAt.UTC()
	fields := map[string]any{
		"auto_assignment_status": a.Status,
		"last_automation_run_at": runAt,
		"last_automation_note":   a.Note,
	}
	if a.VendorID != nil {
		fields["vendor_assignee_id"] = *a.VendorID
		fields["vendor_assigned_at"] = runAt
	}
	if a.DesignerID != nil {
		fields["assignee_id"] = *a.DesignerID
		fields["assigned_at"] = runAt
	}
	if err := s.repo.UpdateFields(ctx, jobID, fields, runAt); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
		}
		return pkgerrors.Dependency(err, "update job assignment")
	}
	return nil
}

// CountActive counts the client's active jobs by priority.
func (s *Store) CountActive(ctx context.Context, clientID uuid.UUID) (PriorityCounts, error) {
	rows, err := s.repo.CountActiveByPriority(ctx, clientID)
	if err != nil {
		return PriorityCounts{}, pkgerrors.Dependency(err, "count active jobs")
	}
	var counts PriorityCounts
	for _, row := range rows {
		counts.Active += row.Total
		switch row.Priority {
		case enums.PriorityUrgent:
			counts.Urgent += row.Total
		case enums.PriorityHigh:
			counts.High += row.Total
		}
	}
	return counts, nil
}

// Create inserts a job through the adapter.
func (s *Store) Create(ctx context.Context, row *models.ServiceRequest) (*Job, error) {
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job is required")
	}
	if err := s.repo.Create(ctx, row); err != nil {
		return nil, pkgerrors.Dependency(err, "create job")
	}
	job := fromModel(row, s.defaultUnits)
	return &job, nil
}
