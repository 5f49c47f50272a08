package assignment

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/internal/audit"
	"github.com/angelmondragon/jobrouter/internal/directory"
	"github.com/angelmondragon/jobrouter/internal/jobs"
	"github.com/angelmondragon/jobrouter/internal/notifications"
	"github.com/angelmondragon/jobrouter/internal/routing"
	"github.com/angelmondragon/jobrouter/internal/rules"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	"github.com/angelmondragon/jobrouter/pkg/redis"
)

// TxRunner opens the run transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// JobStore reads jobs and records run outcomes on them.
type JobStore interface {
	WithTx(tx *gorm.DB) JobStore
	GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	SetAssignment(ctx context.Context, id uuid.UUID, a jobs.Assignment) error
}

// Directory lists who may receive work.
type Directory interface {
	WithTx(tx *gorm.DB) Directory
	VendorsForService(ctx context.Context, serviceID uuid.UUID) ([]uuid.UUID, error)
	DesignersForVendorAndService(ctx context.Context, vendorID, serviceID uuid.UUID) ([]uuid.UUID, error)
}

// RuleMatcher finds the rule that governs a job.
type RuleMatcher interface {
	WithTx(tx *gorm.DB) RuleMatcher
	Match(ctx context.Context, job rules.Job) (*rules.Rule, error)
}

// Router applies a routing strategy to a candidate pool.
type Router interface {
	WithTx(tx *gorm.DB) Router
	Select(ctx context.Context, strategy enums.RoutingStrategy, cursorKey string, pool routing.Pool) (routing.Candidate, error)
}

// AuditLog appends decision steps.
type AuditLog interface {
	WithTx(tx *gorm.DB) AuditLog
	Append(ctx context.Context, entry audit.Entry) (*audit.Entry, error)
}

// Notifier hands messages to the external dispatcher. It never fails the run.
type Notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, n notifications.Notification)
}

// RunLocker guards a job against concurrent runs.
type RunLocker interface {
	redis.LockStore
	JobLockKey(jobID string) string
}

type jobStore struct{ s *jobs.Store }

// JobStoreFrom adapts the jobs store.
func JobStoreFrom(s *jobs.Store) JobStore { return jobStore{s: s} }

func (j jobStore) WithTx(tx *gorm.DB) JobStore { return jobStore{s: j.s.WithTx(tx)} }
func (j jobStore) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	return j.s.GetJob(ctx, id)
}
func (j jobStore) SetAssignment(ctx context.Context, id uuid.UUID, a jobs.Assignment) error {
	return j.s.SetAssignment(ctx, id, a)
}

type directoryAdapter struct{ d *directory.Directory }

// DirectoryFrom adapts the directory reader.
func DirectoryFrom(d *directory.Directory) Directory { return directoryAdapter{d: d} }

func (a directoryAdapter) WithTx(tx *gorm.DB) Directory { return directoryAdapter{d: a.d.WithTx(tx)} }
func (a directoryAdapter) VendorsForService(ctx context.Context, serviceID uuid.UUID) ([]uuid.UUID, error) {
	return a.d.VendorsForService(ctx, serviceID)
}
func (a directoryAdapter) DesignersForVendorAndService(ctx context.Context, vendorID, serviceID uuid.UUID) ([]uuid.UUID, error) {
	return a.d.DesignersForVendorAndService(ctx, vendorID, serviceID)
}

type ruleMatcher struct{ s *rules.Store }

// RulesFrom adapts the rule store.
func RulesFrom(s *rules.Store) RuleMatcher { return ruleMatcher{s: s} }

func (m ruleMatcher) WithTx(tx *gorm.DB) RuleMatcher { return ruleMatcher{s: m.s.WithTx(tx)} }
func (m ruleMatcher) Match(ctx context.Context, job rules.Job) (*rules.Rule, error) {
	return m.s.Match(ctx, job)
}

type router struct{ s *routing.Selector }

// RouterFrom adapts the strategy selector.
func RouterFrom(s *routing.Selector) Router { return router{s: s} }

func (r router) WithTx(tx *gorm.DB) Router { return router{s: r.s.WithTx(tx)} }
func (r router) Select(ctx context.Context, strategy enums.RoutingStrategy, cursorKey string, pool routing.Pool) (routing.Candidate, error) {
	return r.s.Select(ctx, strategy, cursorKey, pool)
}

type auditLog struct{ l *audit.Logger }

// AuditFrom adapts the audit logger.
func AuditFrom(l *audit.Logger) AuditLog { return auditLog{l: l} }

func (a auditLog) WithTx(tx *gorm.DB) AuditLog { return auditLog{l: a.l.WithTx(tx)} }
func (a auditLog) Append(ctx context.Context, entry audit.Entry) (*audit.Entry, error) {
	return a.l.Append(ctx, entry)
}
