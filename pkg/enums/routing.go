package enums

import "fmt"

// RoutingStrategy maps to the routing_strategy enum in Postgres.
type RoutingStrategy string

const (
	RoutingStrategyLeastLoaded   RoutingStrategy = "least_loaded"
	RoutingStrategyRoundRobin    RoutingStrategy = "round_robin"
	RoutingStrategyPriorityFirst RoutingStrategy = "priority_first"
)

var validRoutingStrategies = []RoutingStrategy{
	RoutingStrategyLeastLoaded,
	RoutingStrategyRoundRobin,
	RoutingStrategyPriorityFirst,
}

// String implements fmt.Stringer.
func (s RoutingStrategy) String() string {
	return string(s)
}

// IsValid reports whether the value is a known RoutingStrategy.
func (s RoutingStrategy) IsValid() bool {
	for _, candidate := range validRoutingStrategies {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseRoutingStrategy converts raw input into a RoutingStrategy.
func ParseRoutingStrategy(value string) (RoutingStrategy, error) {
	for _, candidate := range validRoutingStrategies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid routing strategy %q", value)
}

// RoutingTarget controls how deep a rule routes a job.
type RoutingTarget string

const (
	RoutingTargetVendorOnly         RoutingTarget = "vendor_only"
	RoutingTargetVendorThenDesigner RoutingTarget = "vendor_then_designer"
)

var validRoutingTargets = []RoutingTarget{
	RoutingTargetVendorOnly,
	RoutingTargetVendorThenDesigner,
}

func (t RoutingTarget) IsValid() bool {
	for _, candidate := range validRoutingTargets {
		if candidate == t {
			return true
		}
	}
	return false
}

// RequiresDesigner reports whether a designer must be picked after the vendor.
func (t RoutingTarget) RequiresDesigner() bool {
	return t == RoutingTargetVendorThenDesigner
}

func ParseRoutingTarget(value string) (RoutingTarget, error) {
	for _, candidate := range validRoutingTargets {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid routing target %q", value)
}

// RuleScope distinguishes platform-wide rules from vendor-owned rules.
type RuleScope string

const (
	RuleScopeGlobal RuleScope = "global"
	RuleScopeVendor RuleScope = "vendor"
)

func (s RuleScope) IsValid() bool {
	return s == RuleScopeGlobal || s == RuleScopeVendor
}

func ParseRuleScope(value string) (RuleScope, error) {
	scope := RuleScope(value)
	if !scope.IsValid() {
		return "", fmt.Errorf("invalid rule scope %q", value)
	}
	return scope, nil
}

// FallbackAction decides what happens to a job nobody could take.
type FallbackAction string

const (
	FallbackLeavePending FallbackAction = "leave_pending"
	FallbackNotifyOnly   FallbackAction = "notify_only"
)

func (f FallbackAction) IsValid() bool {
	return f == FallbackLeavePending || f == FallbackNotifyOnly
}

func ParseFallbackAction(value string) (FallbackAction, error) {
	action := FallbackAction(value)
	if !action.IsValid() {
		return "", fmt.Errorf("invalid fallback action %q", value)
	}
	return action, nil
}

// EntityKind names the two capacity holders tracked by the ledger.
type EntityKind string

const (
	EntityKindVendor   EntityKind = "vendor"
	EntityKindDesigner EntityKind = "designer"
)

func (k EntityKind) IsValid() bool {
	return k == EntityKindVendor || k == EntityKindDesigner
}
