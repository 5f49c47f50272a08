package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/pkg/clock"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/logger"
)

// Store loads, validates and edits automation rules.
type Store struct {
	repo  *Repository
	clock clock.Clock
	logg  *logger.Logger
}

func NewStore(repo *Repository, clk clock.Clock, logg *logger.Logger) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("rules repository required")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Store{repo: repo, clock: clk, logg: logg}, nil
}

// WithTx binds reads and writes to tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	if tx == nil {
		return s
	}
	return &Store{repo: s.repo.WithTx(tx), clock: s.clock, logg: s.logg}
}

// ListActive returns evaluable active rules in precedence order. Rows that
// fail validation are logged and skipped.
func (s *Store) ListActive(ctx context.Context) ([]Rule, error) {
	rows, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.Dependency(err, "list active automation rules")
	}
	return s.convert(ctx, rows), nil
}

// List returns every rule, active or not. Invalid rows are skipped.
func (s *Store) List(ctx context.Context) ([]Rule, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Dependency(err, "list automation rules")
	}
	return s.convert(ctx, rows), nil
}

func (s *Store) convert(ctx context.Context, rows []models.AutomationRule) []Rule {
	out := make([]Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := FromModel(row)
		if err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"rule_id": row.ID.String(),
				"reason":  err.Error(),
			}), "skipping invalid automation rule")
			continue
		}
		out = append(out, rule)
	}
	return out
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Rule, error) {
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "automation rule not found")
		}
		return nil, pkgerrors.Dependency(err, "load automation rule")
	}
	rule, err := FromModel(*row)
	if err != nil {
		return nil, pkgerrors.InvalidConfiguration(err, "automation rule is misconfigured")
	}
	return &rule, nil
}

// RuleInput is the editable content of a rule.
type RuleInput struct {
	Name                   string
	Priority               int
	Scope                  enums.RuleScope
	OwnerVendorID          *uuid.UUID
	Active                 bool
	ServiceIDs             []uuid.UUID
	RoutingTarget          enums.RoutingTarget
	RoutingStrategy        enums.RoutingStrategy
	AllowedVendorIDs       []uuid.UUID
	ExcludedVendorIDs      []uuid.UUID
	FallbackAction         enums.FallbackAction
	AllowPartialAssignment bool
	MatchCriteria          MatchCriteria
}

func (in RuleInput) toRule() (Rule, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Rule{}, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if !in.RoutingTarget.IsValid() {
		return Rule{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid routing target %q", in.RoutingTarget))
	}
	if !in.RoutingStrategy.IsValid() {
		return Rule{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid routing strategy %q", in.RoutingStrategy))
	}
	fallback := in.FallbackAction
	if fallback == "" {
		fallback = enums.FallbackLeavePending
	}
	if !fallback.IsValid() {
		return Rule{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid fallback action %q", in.FallbackAction))
	}
	if err := in.MatchCriteria.validate(); err != nil {
		return Rule{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid match criteria")
	}

	var scope Scope
	switch in.Scope {
	case enums.RuleScopeGlobal:
		if in.OwnerVendorID != nil {
			return Rule{}, pkgerrors.New(pkgerrors.CodeValidation, "global rules cannot have an owner vendor")
		}
		scope = GlobalScope{AllowedVendorIDs: in.AllowedVendorIDs, ExcludedVendorIDs: in.ExcludedVendorIDs}
	case enums.RuleScopeVendor:
		if in.OwnerVendorID == nil || *in.OwnerVendorID == uuid.Nil {
			return Rule{}, pkgerrors.New(pkgerrors.CodeValidation, "vendor rules require owner_vendor_id")
		}
		if len(in.AllowedVendorIDs) > 0 || len(in.ExcludedVendorIDs) > 0 {
			return Rule{}, pkgerrors.New(pkgerrors.CodeValidation, "vendor rules cannot carry allowed or excluded vendor lists")
		}
		scope = VendorScope{OwnerVendorID: *in.OwnerVendorID}
	default:
		return Rule{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid scope %q", in.Scope))
	}

	return Rule{
		Name:                   name,
		Priority:               in.Priority,
		Scope:                  scope,
		Active:                 in.Active,
		ServiceIDs:             in.ServiceIDs,
		Target:                 in.RoutingTarget,
		Strategy:               in.RoutingStrategy,
		Fallback:               fallback,
		AllowPartialAssignment: in.AllowPartialAssignment,
		Criteria:               in.MatchCriteria,
	}, nil
}

func (s *Store) Create(ctx context.Context, input RuleInput) (*Rule, error) {
	rule, err := input.toRule()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	rule.ID = uuid.New()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	row, err := rule.ToModel()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rule")
	}
	if err := s.repo.Create(ctx, &row); err != nil {
		return nil, pkgerrors.Dependency(err, "create automation rule")
	}
	s.logg.Info(s.logg.WithRuleID(ctx, rule.ID.String()), "automation rule created")
	return &rule, nil
}

// Update replaces the content of an existing rule.
func (s *Store) Update(ctx context.Context, id uuid.UUID, input RuleInput) (*Rule, error) {
	rule, err := input.toRule()
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "automation rule not found")
		}
		return nil, pkgerrors.Dependency(err, "load automation rule")
	}
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.clock.Now().UTC()

	row, err := rule.ToModel()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rule")
	}
	if err := s.repo.Save(ctx, &row); err != nil {
		return nil, pkgerrors.Dependency(err, "update automation rule")
	}
	s.logg.Info(s.logg.WithRuleID(ctx, id.String()), "automation rule updated")
	return &rule, nil
}

func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.patch(ctx, id, map[string]any{"active": active})
}

func (s *Store) SetPriority(ctx context.Context, id uuid.UUID, priority int) error {
	return s.patch(ctx, id, map[string]any{"priority": priority})
}

func (s *Store) patch(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if err := s.repo.UpdateFields(ctx, id, fields, s.clock.Now().UTC()); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "automation rule not found")
		}
		return pkgerrors.Dependency(err, "update automation rule")
	}
	return nil
}
