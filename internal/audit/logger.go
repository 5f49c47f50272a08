package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/internal/repo"
	"github.com/angelmondragon/jobrouter/pkg/clock"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/pagination"
)

// Logger appends decision steps. Rows are never updated or deleted.
type Logger struct {
	repo.Base
	clock clock.Clock
}

func NewLogger(db *gorm.DB, clk clock.Clock) (*Logger, error) {
	if db == nil {
		return nil, fmt.Errorf("audit logger requires a db")
	}
	if clk == nil {
		return nil, fmt.Errorf("audit logger requires a clock")
	}
	return &Logger{Base: repo.NewBase(db), clock: clk}, nil
}

func (l *Logger) WithTx(tx *gorm.DB) *Logger {
	return &Logger{Base: l.Bind(tx), clock: l.clock}
}

func (e Entry) validate() error {
	switch {
	case e.RunID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "audit entry requires run_id")
	case e.RequestID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "audit entry requires request_id")
	case !e.Step.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid audit step %q", e.Step))
	case e.Snapshot == nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "audit entry requires a capacity snapshot")
	case e.Result != nil && !e.Result.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid audit result %q", *e.Result))
	}
	return nil
}

// Append inserts one entry and returns it with id and timestamp set.
func (l *Logger) Append(ctx context.Context, entry Entry) (*Entry, error) {
	if err := entry.validate(); err != nil {
		return nil, err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.clock.Now().UTC()
	}
	if entry.RequestType == "" {
		entry.RequestType = enums.RequestTypeService
	}
	row, err := entry.toModel()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode audit entry")
	}
	if err := l.DB(ctx).Create(&row).Error; err != nil {
		return nil, pkgerrors.Dependency(err, "append audit entry")
	}
	return &entry, nil
}

// ListByRequest returns every step recorded for a job, oldest first.
func (l *Logger) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]Entry, error) {
	var rows []models.AutomationAssignmentLog
	if err := l.DB(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Order("run_id ASC").
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Dependency(err, "list audit entries")
	}
	return decodeRows(rows)
}

// Run groups the steps of one assignment run.
type Run struct {
	RunID     uuid.UUID               `json:"run_id"`
	StartedAt time.Time               `json:"started_at"`
	Result    *enums.AssignmentStatus `json:"result,omitempty"`
	Steps     []Entry                 `json:"steps"`
}

// RunPage is one page of runs, newest first.
type RunPage struct {
	Runs   []Run  `json:"runs"`
	Cursor string `json:"cursor,omitempty"`
}

// ListRuns pages through the runs recorded for a job, newest first. The
// cursor points at the first step of the last run returned.
func (l *Logger) ListRuns(ctx context.Context, requestID uuid.UUID, params pagination.Params) (*RunPage, error) {
	query := l.DB(ctx).
		Where("request_id = ?", requestID).
		Where("sequence = ?", 1)
	cursor, err := pagination.DecodeRunCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.StartedAt, cursor.StartedAt, cursor.HeadID)
	}

	var heads []models.AutomationAssignmentLog
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(params.Fetch()).
		Find(&heads).Error; err != nil {
		return nil, pkgerrors.Dependency(err, "list assignment runs")
	}

	page := &RunPage{Runs: []Run{}}
	heads, more := pagination.Trim(heads, params)
	if more {
		last := heads[len(heads)-1]
		page.Cursor = pagination.RunCursor{StartedAt: last.CreatedAt, HeadID: last.ID}.Encode()
	}
	if len(heads) == 0 {
		return page, nil
	}

	runIDs := make([]uuid.UUID, len(heads))
	for i, head := range heads {
		runIDs[i] = head.RunID
	}
	var rows []models.AutomationAssignmentLog
	if err := l.DB(ctx).
		Where("run_id IN ?", runIDs).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Dependency(err, "list audit entries")
	}
	entries, err := decodeRows(rows)
	if err != nil {
		return nil, err
	}
	byRun := make(map[uuid.UUID][]Entry, len(heads))
	for _, entry := range entries {
		byRun[entry.RunID] = append(byRun[entry.RunID], entry)
	}

	for _, head := range heads {
		steps := byRun[head.RunID]
		run := Run{RunID: head.RunID, StartedAt: head.CreatedAt, Steps: steps}
		if n := len(steps); n > 0 {
			run.Result = steps[n-1].Result
		}
		page.Runs = append(page.Runs, run)
	}
	return page, nil
}

// ListSince returns entries created on or after the given day, for replay.
func (l *Logger) ListSince(ctx context.Context, day string) ([]Entry, error) {
	var rows []models.AutomationAssignmentLog
	if err := l.DB(ctx).
		Where("day >= ?", day).
		Order("created_at ASC").
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Dependency(err, "list audit entries")
	}
	return decodeRows(rows)
}

func decodeRows(rows []models.AutomationAssignmentLog) ([]Entry, error) {
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := fromModel(row)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode audit entry")
		}
		out = append(out, entry)
	}
	return out, nil
}

// UsageKey identifies one capacity bucket.
type UsageKey struct {
	Kind      enums.EntityKind
	EntityID  uuid.UUID
	ServiceID uuid.UUID
	Day       string
}

// ReplayCommittedUnits rebuilds committed units from successful runs. The
// result should equal the capacity_usages cache for the same days.
func ReplayCommittedUnits(entries []Entry) map[UsageKey]int {
	runs := map[uuid.UUID][]Entry{}
	for _, e := range entries {
		runs[e.RunID] = append(runs[e.RunID], e)
	}
	out := map[UsageKey]int{}
	for _, steps := range runs {
		if !succeeded(steps) {
			continue
		}
		for _, step := range steps {
			if step.ChosenID == nil {
				continue
			}
			var kind enums.EntityKind
			switch step.Step {
			case enums.StepVendorSelection:
				kind = enums.EntityKindVendor
			case enums.StepDesignerSelection:
				kind = enums.EntityKindDesigner
			default:
				continue
			}
			out[UsageKey{Kind: kind, EntityID: *step.ChosenID, ServiceID: step.ServiceID, Day: step.Day}] += step.Units
		}
	}
	return out
}

func succeeded(steps []Entry) bool {
	for _, step := range steps {
		if step.Step == enums.StepFinal && step.Result != nil {
			return step.Result.IsSuccess()
		}
	}
	return false
}
