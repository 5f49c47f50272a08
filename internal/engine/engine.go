// Package engine assembles the assignment engine from its storage backends.
package engine

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/internal/assignment"
	"github.com/angelmondragon/jobrouter/internal/audit"
	"github.com/angelmondragon/jobrouter/internal/capacity"
	"github.com/angelmondragon/jobrouter/internal/directory"
	"github.com/angelmondragon/jobrouter/internal/jobs"
	"github.com/angelmondragon/jobrouter/internal/notifications"
	"github.com/angelmondragon/jobrouter/internal/quota"
	"github.com/angelmondragon/jobrouter/internal/routing"
	"github.com/angelmondragon/jobrouter/internal/rules"
	"github.com/angelmondragon/jobrouter/pkg/clock"
	"github.com/angelmondragon/jobrouter/pkg/config"
	"github.com/angelmondragon/jobrouter/pkg/db"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	"github.com/angelmondragon/jobrouter/pkg/logger"
	"github.com/angelmondragon/jobrouter/pkg/metrics"
	"github.com/angelmondragon/jobrouter/pkg/outbox"
	"github.com/angelmondragon/jobrouter/pkg/redis"
)

// Params are the shared clients an engine is built on. Redis and Registerer
// may be nil.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
}

// Engine exposes the assembled service plus the stores the admin surface
// talks to directly.
type Engine struct {
	Assignment assignment.Service
	Ledger     capacity.Ledger
	Rules      *rules.Store
	Directory  *directory.Directory
	Audit      *audit.Logger
	Clock      clock.Clock
	Metrics    *metrics.AssignmentMetrics
}

func New(p Params) (*Engine, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil {
		return nil, fmt.Errorf("config, logger and db are required")
	}
	cfg, logg, conn := p.Config, p.Logger, p.DB.DB()

	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, err
	}
	clk := clock.NewSystem(loc)
	m := metrics.NewAssignmentMetrics(p.Registerer)

	ledger, err := capacity.NewLedger(conn, clk)
	if err != nil {
		return nil, fmt.Errorf("capacity ledger: %w", err)
	}
	ruleStore, err := rules.NewStore(rules.NewRepository(conn), clk, logg)
	if err != nil {
		return nil, fmt.Errorf("rule store: %w", err)
	}
	jobStore, err := jobs.NewStore(jobs.NewRepository(conn), cfg.Engine.DefaultUnits)
	if err != nil {
		return nil, fmt.Errorf("job store: %w", err)
	}
	dir, err := directory.New(conn)
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}
	auditLog, err := audit.NewLogger(conn, clk)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}

	cursors, err := cursorStore(cfg.Engine, conn, p.Redis, clk)
	if err != nil {
		return nil, err
	}
	selector, err := routing.NewSelector(cursors)
	if err != nil {
		return nil, fmt.Errorf("routing selector: %w", err)
	}

	notifier, err := notifications.NewNotifier(
		outbox.NewService(outbox.NewRepository(conn), logg),
		logg,
		cfg.FeatureFlags.Notifications,
	)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	settings, err := quota.NewDBSettings(conn, cfg.Quota)
	if err != nil {
		return nil, fmt.Errorf("quota settings: %w", err)
	}
	policy, err := enums.ParseQuotaOverflowPolicy(strings.ToLower(strings.TrimSpace(cfg.Quota.OverflowPolicy)))
	if err != nil {
		return nil, err
	}
	enforcer, err := quota.NewEnforcer(jobStore, settings, policy, m, logg)
	if err != nil {
		return nil, fmt.Errorf("quota enforcer: %w", err)
	}

	deps := assignment.Deps{
		Tx:        p.DB,
		Jobs:      assignment.JobStoreFrom(jobStore),
		Directory: assignment.DirectoryFrom(dir),
		Rules:     assignment.RulesFrom(ruleStore),
		Ledger:    ledger,
		Router:    assignment.RouterFrom(selector),
		Audit:     assignment.AuditFrom(auditLog),
		Notifier:  notifier,
		Quota:     enforcer,
		Clock:     clk,
		Metrics:   m,
		Logger:    logg,
		Config:    cfg.Engine,
	}
	if cfg.FeatureFlags.JobRunLock && p.Redis != nil {
		deps.Locker = p.Redis
	}
	svc, err := assignment.NewService(deps)
	if err != nil {
		return nil, fmt.Errorf("assignment service: %w", err)
	}

	return &Engine{
		Assignment: svc,
		Ledger:     ledger,
		Rules:      ruleStore,
		Directory:  dir,
		Audit:      auditLog,
		Clock:      clk,
		Metrics:    m,
	}, nil
}

func cursorStore(cfg config.EngineConfig, conn *gorm.DB, rc *redis.Client, clk clock.Clock) (routing.CursorStore, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.CursorBackend), config.CursorBackendRedis) {
		if rc == nil {
			return nil, fmt.Errorf("redis cursor backend selected but redis is not configured")
		}
		return routing.NewRedisCursorStore(rc, 0)
	}
	return routing.NewDBCursorStore(conn, clk), nil
}
