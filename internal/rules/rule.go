package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/pkg/db/models"
	dbtypes "github.com/angelmondragon/jobrouter/pkg/db/types"
	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// ErrInvalidConfiguration marks a stored rule that cannot be evaluated.
var ErrInvalidConfiguration = errors.New("invalid rule configuration")

// Scope is either GlobalScope or VendorScope.
type Scope interface {
	Kind() enums.RuleScope
	isScope()
}

// GlobalScope applies to every job. Empty allow list means every vendor.
type GlobalScope struct {
	AllowedVendorIDs  []uuid.UUID
	ExcludedVendorIDs []uuid.UUID
}

func (GlobalScope) Kind() enums.RuleScope { return enums.RuleScopeGlobal }
func (GlobalScope) isScope()              {}

// VendorScope applies only to jobs pinned to the owning vendor.
type VendorScope struct {
	OwnerVendorID uuid.UUID
}

func (VendorScope) Kind() enums.RuleScope { return enums.RuleScopeVendor }
func (VendorScope) isScope()              {}

// MatchCriteria narrows which jobs a rule handles. Empty fields match anything.
type MatchCriteria struct {
	Rush         *bool               `json:"rush,omitempty"`
	VIP          *bool               `json:"vip,omitempty"`
	ClientIDs    []uuid.UUID         `json:"client_ids,omitempty"`
	RequestTypes []enums.RequestType `json:"request_types,omitempty"`
	Priorities   []enums.JobPriority `json:"priorities,omitempty"`
}

func (c MatchCriteria) validate() error {
	for _, rt := range c.RequestTypes {
		if !rt.IsValid() {
			return fmt.Errorf("unknown request type %q", rt)
		}
	}
	for _, p := range c.Priorities {
		if !p.IsValid() {
			return fmt.Errorf("unknown priority %q", p)
		}
	}
	return nil
}

// Rule is a validated automation rule.
type Rule struct {
	ID                     uuid.UUID
	Name                   string
	Priority               int
	Scope                  Scope
	Active                 bool
	ServiceIDs             []uuid.UUID
	Target                 enums.RoutingTarget
	Strategy               enums.RoutingStrategy
	Fallback               enums.FallbackAction
	AllowPartialAssignment bool
	Criteria               MatchCriteria
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// FromModel converts a stored row, rejecting rows whose scope fields disagree.
func FromModel(row models.AutomationRule) (Rule, error) {
	invalid := func(format string, args ...any) (Rule, error) {
		return Rule{}, fmt.Errorf("%w: rule %s: %s", ErrInvalidConfiguration, row.ID, fmt.Sprintf(format, args...))
	}
	if !row.RoutingTarget.IsValid() {
		return invalid("unknown routing target %q", row.RoutingTarget)
	}
	if !row.RoutingStrategy.IsValid() {
		return invalid("unknown routing strategy %q", row.RoutingStrategy)
	}
	fallback := row.FallbackAction
	if fallback == "" {
		fallback = enums.FallbackLeavePending
	}
	if !fallback.IsValid() {
		return invalid("unknown fallback action %q", row.FallbackAction)
	}

	var scope Scope
	switch row.Scope {
	case enums.RuleScopeGlobal:
		if row.OwnerVendorID != nil {
			return invalid("global rule carries an owner vendor")
		}
		scope = GlobalScope{
			AllowedVendorIDs:  []uuid.UUID(row.AllowedVendorIDs),
			ExcludedVendorIDs: []uuid.UUID(row.ExcludedVendorIDs),
		}
	case enums.RuleScopeVendor:
		if row.OwnerVendorID == nil || *row.OwnerVendorID == uuid.Nil {
			return invalid("vendor rule without owner vendor")
		}
		if len(row.AllowedVendorIDs) > 0 || len(row.ExcludedVendorIDs) > 0 {
			return invalid("vendor rule carries vendor lists")
		}
		scope = VendorScope{OwnerVendorID: *row.OwnerVendorID}
	default:
		return invalid("unknown scope %q", row.Scope)
	}

	var criteria MatchCriteria
	if len(row.MatchCriteria) > 0 {
		if err := json.Unmarshal(row.MatchCriteria, &criteria); err != nil {
			return invalid("match criteria: %v", err)
		}
	}
	if err := criteria.validate(); err != nil {
		return invalid("match criteria: %v", err)
	}

	return Rule{
		ID:                     row.ID,
		Name:                   row.Name,
		Priority:               row.Priority,
		Scope:                  scope,
		Active:                 row.Active,
		ServiceIDs:             []uuid.UUID(row.ServiceIDs),
		Target:                 row.RoutingTarget,
		Strategy:               row.RoutingStrategy,
		Fallback:               fallback,
		AllowPartialAssignment: row.AllowPartialAssignment,
		Criteria:               criteria,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
	}, nil
}

// ToModel flattens the rule for storage.
func (r Rule) ToModel() (models.AutomationRule, error) {
	criteria, err := json.Marshal(r.Criteria)
	if err != nil {
		return models.AutomationRule{}, fmt.Errorf("encode match criteria: %w", err)
	}
	row := models.AutomationRule{
		ID:                     r.ID,
		Name:                   r.Name,
		Priority:               r.Priority,
		Active:                 r.Active,
		ServiceIDs:             dbtypes.UUIDArray(nonNil(r.ServiceIDs)),
		RoutingTarget:          r.Target,
		RoutingStrategy:        r.Strategy,
		FallbackAction:         r.Fallback,
		AllowPartialAssignment: r.AllowPartialAssignment,
		MatchCriteria:          criteria,
		AllowedVendorIDs:       dbtypes.UUIDArray{},
		ExcludedVendorIDs:      dbtypes.UUIDArray{},
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
	switch scope := r.Scope.(type) {
	case GlobalScope:
		row.Scope = enums.RuleScopeGlobal
		row.AllowedVendorIDs = dbtypes.UUIDArray(nonNil(scope.AllowedVendorIDs))
		row.ExcludedVendorIDs = dbtypes.UUIDArray(nonNil(scope.ExcludedVendorIDs))
	case VendorScope:
		row.Scope = enums.RuleScopeVendor
		owner := scope.OwnerVendorID
		row.OwnerVendorID = &owner
	default:
		return models.AutomationRule{}, fmt.Errorf("%w: rule scope is required", ErrInvalidConfiguration)
	}
	return row, nil
}

// CoversService reports whether the service filter admits serviceID.
func (r Rule) CoversService(serviceID uuid.UUID) bool {
	return len(r.ServiceIDs) == 0 || containsID(r.ServiceIDs, serviceID)
}

// RequiresDesigner reports whether the rule routes down to a designer.
func (r Rule) RequiresDesigner() bool {
	return r.Target.RequiresDesigner()
}

func nonNil(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
