package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/internal/capacity"
	"github.com/angelmondragon/jobrouter/internal/notifications"
	"github.com/angelmondragon/jobrouter/internal/quota"
	"github.com/angelmondragon/jobrouter/pkg/clock"
	"github.com/angelmondragon/jobrouter/pkg/config"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/logger"
	"github.com/angelmondragon/jobrouter/pkg/metrics"
	"github.com/angelmondragon/jobrouter/pkg/outbox/payloads"
	"github.com/angelmondragon/jobrouter/pkg/redis"
)

// Outcome is what one run decided.
type Outcome struct {
	RunID      uuid.UUID              `json:"run_id"`
	JobID      uuid.UUID              `json:"job_id"`
	Status     enums.AssignmentStatus `json:"status"`
	RuleID     *uuid.UUID             `json:"rule_id,omitempty"`
	VendorID   *uuid.UUID             `json:"vendor_assignee_id,omitempty"`
	DesignerID *uuid.UUID             `json:"assignee_id,omitempty"`
	Reason     string                 `json:"reason"`
	Fallback   enums.FallbackAction   `json:"fallback_action,omitempty"`
	Day        string                 `json:"day"`
	Attempts   int                    `json:"attempts"`
}

// PriorityChecker applies the client priority quota.
type PriorityChecker interface {
	Preview(ctx context.Context, clientID uuid.UUID) (*quota.Preview, error)
	CheckAllowance(ctx context.Context, clientID uuid.UUID, requested enums.JobPriority) (*quota.Allowance, error)
}

// Service runs assignment decisions.
type Service interface {
	RunAssignment(ctx context.Context, jobID uuid.UUID) (*Outcome, error)
	CheckPriorityAllowance(ctx context.Context, clientID uuid.UUID, requested enums.JobPriority) (*quota.Allowance, error)
	PreviewPriority(ctx context.Context, clientID uuid.UUID) (*quota.Preview, error)
}

// Deps wires the service. Locker is optional; without it concurrent runs
// for one job are only serialized by the ledger.
type Deps struct {
	Tx        TxRunner
	Jobs      JobStore
	Directory Directory
	Rules     RuleMatcher
	Ledger    capacity.Ledger
	Router    Router
	Audit     AuditLog
	Notifier  Notifier
	Quota     PriorityChecker
	Locker    RunLocker
	Clock     clock.Clock
	Metrics   *metrics.AssignmentMetrics
	Logger    *logger.Logger
	Config    config.EngineConfig
}

type service struct {
	tx        TxRunner
	jobs      JobStore
	directory Directory
	rules     RuleMatcher
	ledger    capacity.Ledger
	router    Router
	audit     AuditLog
	notifier  Notifier
	quota     PriorityChecker
	locker    RunLocker
	clock     clock.Clock
	metrics   *metrics.AssignmentMetrics
	logg      *logger.Logger
	lockTTL   time.Duration
	maxTries  int
}

// NewService builds the assignment service.
func NewService(d Deps) (Service, error) {
	if d.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if d.Jobs == nil {
		return nil, fmt.Errorf("job store required")
	}
	if d.Directory == nil {
		return nil, fmt.Errorf("directory required")
	}
	if d.Rules == nil {
		return nil, fmt.Errorf("rule matcher required")
	}
	if d.Ledger == nil {
		return nil, fmt.Errorf("capacity ledger required")
	}
	if d.Router == nil {
		return nil, fmt.Errorf("router required")
	}
	if d.Audit == nil {
		return nil, fmt.Errorf("audit log required")
	}
	if d.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if d.Quota == nil {
		return nil, fmt.Errorf("priority checker required")
	}
	if d.Clock == nil {
		return nil, fmt.Errorf("clock required")
	}
	if d.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	lockTTL := d.Config.JobLockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	maxTries := d.Config.MaxCommitTries
	if maxTries < 1 {
		maxTries = 1
	}
	return &service{
		tx:        d.Tx,
		jobs:      d.Jobs,
		directory: d.Directory,
		rules:     d.Rules,
		ledger:    d.Ledger,
		router:    d.Router,
		audit:     d.Audit,
		notifier:  d.Notifier,
		quota:     d.Quota,
		locker:    d.Locker,
		clock:     d.Clock,
		metrics:   d.Metrics,
		logg:      d.Logger,
		lockTTL:   lockTTL,
		maxTries:  maxTries,
	}, nil
}

// RunAssignment decides who takes jobID and records the decision. The whole
// run is one transaction; a storage failure leaves nothing behind.
func (s *service) RunAssignment(ctx context.Context, jobID uuid.UUID) (*Outcome, error) {
	if jobID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job id is required")
	}
	runID := uuid.New()
	ctx = s.logg.WithJobID(ctx, jobID.String())
	ctx = s.logg.WithRunID(ctx, runID.String())
	started := time.Now()

	var outcome *Outcome
	exec := func(ctx context.Context) error {
		var err error
		outcome, err = s.execute(ctx, runID, jobID)
		return err
	}

	var err error
	if s.locker != nil {
		err = redis.WithLock(ctx, s.locker, s.locker.JobLockKey(jobID.String()), s.lockTTL, exec)
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "assignment already running for job")
		}
	} else {
		err = exec(ctx)
	}
	if err != nil {
		s.logg.Error(ctx, "assignment run failed", err)
		return nil, pkgerrors.Dependency(err, "run assignment")
	}

	s.metrics.ObserveOutcome(string(outcome.Status), time.Since(started))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"status":   string(outcome.Status),
		"attempts": outcome.Attempts,
	}), "assignment run finished")
	return outcome, nil
}

func (s *service) execute(ctx context.Context, runID, jobID uuid.UUID) (*Outcome, error) {
	var outcome *Outcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		r := &run{
			service:       s,
			tx:            tx,
			id:            runID,
			jobs:          s.jobs.WithTx(tx),
			directory:     s.directory.WithTx(tx),
			rules:         s.rules.WithTx(tx),
			ledger:        s.ledger.WithTx(tx),
			router:        s.router.WithTx(tx),
			audit:         s.audit.WithTx(tx),
			day:           s.ledger.Today(),
			now:           s.clock.Now(),
			lostDesigners: map[uuid.UUID]bool{},
		}
		out, err := r.decide(ctx, jobID)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// CheckPriorityAllowance applies the client quota to a requested priority.
// A downgrade is announced to the client through the outbox.
func (s *service) CheckPriorityAllowance(ctx context.Context, clientID uuid.UUID, requested enums.JobPriority) (*quota.Allowance, error) {
	allowance, err := s.quota.CheckAllowance(ctx, clientID, requested)
	if err != nil {
		return nil, err
	}
	if allowance.Decision == enums.QuotaDowngraded {
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			s.notifier.Notify(ctx, tx, notifications.Notification{
				Event:       enums.EventPriorityDowngraded,
				RequestType: enums.RequestTypeService,
				RequestID:   clientID,
				Data: payloads.PriorityDowngradedEvent{
					ClientID:  clientID,
					Requested: allowance.Requested,
					Granted:   allowance.Granted,
				},
			})
			return nil
		})
		if err != nil {
			s.logg.Error(ctx, "priority downgrade notice not queued", err)
		}
	}
	return allowance, nil
}

func (s *service) PreviewPriority(ctx context.Context, clientID uuid.UUID) (*quota.Preview, error) {
	return s.quota.Preview(ctx, clientID)
}
