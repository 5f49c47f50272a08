package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/api/responses"
	"github.com/angelmondragon/jobrouter/api/validators"
	"github.com/angelmondragon/jobrouter/internal/rules"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/logger"
)

// RuleAdmin edits automation rules.
type RuleAdmin interface {
	List(ctx context.Context) ([]rules.Rule, error)
	Get(ctx context.Context, id uuid.UUID) (*rules.Rule, error)
	Create(ctx context.Context, input rules.RuleInput) (*rules.Rule, error)
	Update(ctx context.Context, id uuid.UUID, input rules.RuleInput) (*rules.Rule, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SetPriority(ctx context.Context, id uuid.UUID, priority int) error
}

type ruleRequest struct {
	Name                   string              `json:"name" validate:"required,max=120"`
	Priority               int                 `json:"priority"`
	Scope                  string              `json:"scope" validate:"required,oneof=global vendor"`
	OwnerVendorID          *uuid.UUID          `json:"owner_vendor_id,omitempty"`
	Active                 *bool               `json:"active,omitempty"`
	ServiceIDs             []uuid.UUID         `json:"service_ids"`
	RoutingTarget          string              `json:"routing_target" validate:"required,routing_target"`
	RoutingStrategy        string              `json:"routing_strategy" validate:"required,routing_strategy"`
	AllowedVendorIDs       []uuid.UUID         `json:"allowed_vendor_ids"`
	ExcludedVendorIDs      []uuid.UUID         `json:"excluded_vendor_ids"`
	FallbackAction         string              `json:"fallback_action,omitempty" validate:"omitempty,fallback_action"`
	AllowPartialAssignment bool                `json:"allow_partial_assignment"`
	MatchCriteria          rules.MatchCriteria `json:"match_criteria"`
}

func (r ruleRequest) toInput() rules.RuleInput {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return rules.RuleInput{
		Name:                   validators.SanitizeString(r.Name, 120),
		Priority:               r.Priority,
		Scope:                  enums.RuleScope(r.Scope),
		OwnerVendorID:          r.OwnerVendorID,
		Active:                 active,
		ServiceIDs:             r.ServiceIDs,
		RoutingTarget:          enums.RoutingTarget(r.RoutingTarget),
		RoutingStrategy:        enums.RoutingStrategy(r.RoutingStrategy),
		AllowedVendorIDs:       r.AllowedVendorIDs,
		ExcludedVendorIDs:      r.ExcludedVendorIDs,
		FallbackAction:         enums.FallbackAction(r.FallbackAction),
		AllowPartialAssignment: r.AllowPartialAssignment,
		MatchCriteria:          r.MatchCriteria,
	}
}

// Vendor admins may only write rules scoped to their own vendor.
func (r *ruleRequest) confine(scope *uuid.UUID) error {
	if scope == nil {
		return nil
	}
	if r.Scope != string(enums.RuleScopeVendor) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "vendor admins may only manage vendor rules")
	}
	if r.OwnerVendorID == nil {
		owner := *scope
		r.OwnerVendorID = &owner
	}
	return requireVendor(scope, *r.OwnerVendorID)
}

type ruleResponse struct {
	ID                     uuid.UUID             `json:"id"`
	Name                   string                `json:"name"`
	Priority               int                   `json:"priority"`
	Scope                  enums.RuleScope       `json:"scope"`
	OwnerVendorID          *uuid.UUID            `json:"owner_vendor_id,omitempty"`
	Active                 bool                  `json:"active"`
	ServiceIDs             []uuid.UUID           `json:"service_ids"`
	RoutingTarget          enums.RoutingTarget   `json:"routing_target"`
	RoutingStrategy        enums.RoutingStrategy `json:"routing_strategy"`
	AllowedVendorIDs       []uuid.UUID           `json:"allowed_vendor_ids"`
	ExcludedVendorIDs      []uuid.UUID           `json:"excluded_vendor_ids"`
	FallbackAction         enums.FallbackAction  `json:"fallback_action"`
	AllowPartialAssignment bool                  `json:"allow_partial_assignment"`
	MatchCriteria          rules.MatchCriteria   `json:"match_criteria"`
	CreatedAt              time.Time             `json:"created_at"`
	UpdatedAt              time.Time             `json:"updated_at"`
}

func toRuleResponse(rule rules.Rule) ruleResponse {
	out := ruleResponse{
		ID:                     rule.ID,
		Name:                   rule.Name,
		Priority:               rule.Priority,
		Scope:                  rule.Scope.Kind(),
		Active:                 rule.Active,
		ServiceIDs:             nonNilIDs(rule.ServiceIDs),
		RoutingTarget:          rule.Target,
		RoutingStrategy:        rule.Strategy,
		AllowedVendorIDs:       []uuid.UUID{},
		ExcludedVendorIDs:      []uuid.UUID{},
		FallbackAction:         rule.Fallback,
		AllowPartialAssignment: rule.AllowPartialAssignment,
		MatchCriteria:          rule.Criteria,
		CreatedAt:              rule.CreatedAt,
		UpdatedAt:              rule.UpdatedAt,
	}
	switch scope := rule.Scope.(type) {
	case rules.GlobalScope:
		out.AllowedVendorIDs = nonNilIDs(scope.AllowedVendorIDs)
		out.ExcludedVendorIDs = nonNilIDs(scope.ExcludedVendorIDs)
	case rules.VendorScope:
		owner := scope.OwnerVendorID
		out.OwnerVendorID = &owner
	}
	return out
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func ownedBy(rule rules.Rule, vendorID uuid.UUID) bool {
	scope, ok := rule.Scope.(rules.VendorScope)
	return ok && scope.OwnerVendorID == vendorID
}

// AdminRulesList returns every rule the caller may manage.
func AdminRulesList(svc RuleAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "rule store unavailable"))
			return
		}
		scope, err := callerVendor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]ruleResponse, 0, len(list))
		for _, rule := range list {
			if scope != nil && !ownedBy(rule, *scope) {
				continue
			}
			out = append(out, toRuleResponse(rule))
		}
		responses.WriteSuccess(w, out)
	}
}

func AdminRulesCreate(svc RuleAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "rule store unavailable"))
			return
		}
		scope, err := callerVendor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body ruleRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := body.confine(scope); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rule, err := svc.Create(r.Context(), body.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toRuleResponse(*rule))
	}
}

// AdminRulesUpdate replaces the content of a rule.
func AdminRulesUpdate(svc RuleAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "rule store unavailable"))
			return
		}
		ruleID, scope, ok := loadManagedRule(w, r, svc, logg)
		if !ok {
			return
		}

		var body ruleRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := body.confine(scope); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rule, err := svc.Update(r.Context(), ruleID, body.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toRuleResponse(*rule))
	}
}

type rulePatchRequest struct {
	Active   *bool `json:"active,omitempty"`
	Priority *int  `json:"priority,omitempty"`
}

// AdminRulesPatch toggles a rule or moves it in the evaluation order.
func AdminRulesPatch(svc RuleAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "rule store unavailable"))
			return
		}
		ruleID, _, ok := loadManagedRule(w, r, svc, logg)
		if !ok {
			return
		}

		var body rulePatchRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.Active == nil && body.Priority == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "active or priority is required"))
			return
		}

		if body.Active != nil {
			if err := svc.SetActive(r.Context(), ruleID, *body.Active); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		if body.Priority != nil {
			if err := svc.SetPriority(r.Context(), ruleID, *body.Priority); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		rule, err := svc.Get(r.Context(), ruleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toRuleResponse(*rule))
	}
}

// loadManagedRule resolves {ruleId} and checks the caller may edit it.
func loadManagedRule(w http.ResponseWriter, r *http.Request, svc RuleAdmin, logg *logger.Logger) (uuid.UUID, *uuid.UUID, bool) {
	ruleID, err := validators.ParseUUIDParam(r, "ruleId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, nil, false
	}
	scope, err := callerVendor(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, nil, false
	}
	if scope == nil {
		return ruleID, nil, true
	}

	existing, err := svc.Get(r.Context(), ruleID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, nil, false
	}
	if !ownedBy(*existing, *scope) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "rule not managed by caller"))
		return uuid.Nil, nil, false
	}
	return ruleID, scope, true
}
