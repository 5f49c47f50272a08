package quota

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/jobrouter/internal/jobs"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/logger"
	"github.com/angelmondragon/jobrouter/pkg/metrics"
)

// ActiveCounter counts a client's active jobs.
type ActiveCounter interface {
	CountActive(ctx context.Context, clientID uuid.UUID) (jobs.PriorityCounts, error)
}

// Preview is the per-client quota state.
type Preview struct {
	ClientID         uuid.UUID       `json:"client_id"`
	ActiveCount      int             `json:"active_count"`
	UrgentCount      int             `json:"urgent_count"`
	HighCount        int             `json:"high_count"`
	UrgentCap        int             `json:"urgent_cap"`
	HighCap          int             `json:"high_cap"`
	MaxUrgentPercent decimal.Decimal `json:"max_urgent_percent"`
	MaxHighPercent   decimal.Decimal `json:"max_high_percent"`
}

// Allowance is the verdict for one requested priority.
type Allowance struct {
	Preview
	Requested enums.JobPriority   `json:"requested"`
	Granted   enums.JobPriority   `json:"granted"`
	Decision  enums.QuotaDecision `json:"decision"`
}

// Enforcer caps the share of a client's active jobs at urgent and high.
type Enforcer struct {
	counter  ActiveCounter
	settings SettingsSource
	policy   enums.QuotaOverflowPolicy
	metrics  *metrics.AssignmentMetrics
	logg     *logger.Logger
}

func NewEnforcer(counter ActiveCounter, settings SettingsSource, policy enums.QuotaOverflowPolicy, m *metrics.AssignmentMetrics, logg *logger.Logger) (*Enforcer, error) {
	if counter == nil {
		return nil, fmt.Errorf("active job counter required")
	}
	if settings == nil {
		return nil, fmt.Errorf("quota settings required")
	}
	if policy == "" {
		policy = enums.QuotaOverflowDowngrade
	}
	if _, err := enums.ParseQuotaOverflowPolicy(string(policy)); err != nil {
		return nil, err
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Enforcer{counter: counter, settings: settings, policy: policy, metrics: m, logg: logg}, nil
}

// Caps computes floor(active * percent / 100) for both capped tiers.
func Caps(active int, p Percents) (urgentCap, highCap int) {
	return capFor(active, p.MaxUrgent), capFor(active, p.MaxHigh)
}

func capFor(active int, percent decimal.Decimal) int {
	if active <= 0 || !percent.IsPositive() {
		return 0
	}
	return int(decimal.NewFromInt(int64(active)).Mul(percent).Div(decimal.NewFromInt(100)).Floor().IntPart())
}

func (e *Enforcer) Preview(ctx context.Context, clientID uuid.UUID) (*Preview, error) {
	if clientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "client_id is required")
	}
	percents, err := e.settings.Percents(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := e.counter.CountActive(ctx, clientID)
	if err != nil {
		return nil, pkgerrors.Dependency(err, "count active jobs")
	}
	urgentCap, highCap := Caps(counts.Active, percents)
	return &Preview{
		ClientID:         clientID,
		ActiveCount:      counts.Active,
		UrgentCount:      counts.Urgent,
		HighCount:        counts.High,
		UrgentCap:        urgentCap,
		HighCap:          highCap,
		MaxUrgentPercent: percents.MaxUrgent,
		MaxHighPercent:   percents.MaxHigh,
	}, nil
}

// CheckAllowance decides which priority a new job for clientID may carry.
func (e *Enforcer) CheckAllowance(ctx context.Context, clientID uuid.UUID, requested enums.JobPriority) (*Allowance, error) {
	if !requested.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid priority %q", requested))
	}
	preview, err := e.Preview(ctx, clientID)
	if err != nil {
		return nil, err
	}

	out := &Allowance{Preview: *preview, Requested: requested, Granted: requested, Decision: enums.QuotaAccepted}
	if !preview.hasRoom(requested) {
		if e.policy == enums.QuotaOverflowReject {
			out.Decision = enums.QuotaRejected
		} else {
			out.Decision = enums.QuotaDowngraded
			out.Granted = preview.downgrade(requested)
		}
	}

	e.metrics.IncQuotaDecision(string(requested), string(out.Decision))
	if out.Decision != enums.QuotaAccepted {
		e.logg.Info(e.logg.WithFields(ctx, map[string]any{
			"client_id": clientID.String(),
			"requested": string(requested),
			"granted":   string(out.Granted),
			"decision":  string(out.Decision),
		}), "priority quota applied")
	}
	return out, nil
}

func (p Preview) hasRoom(priority enums.JobPriority) bool {
	switch priority {
	case enums.PriorityUrgent:
		return p.UrgentCount < p.UrgentCap
	case enums.PriorityHigh:
		return p.HighCount < p.HighCap
	}
	return true
}

// downgrade walks down the tiers until one has room.
func (p Preview) downgrade(priority enums.JobPriority) enums.JobPriority {
	next := priority.Lower()
	for next.IsCapped() && !p.hasRoom(next) {
		next = next.Lower()
	}
	return next
}
