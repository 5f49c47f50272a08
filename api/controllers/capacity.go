package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/api/responses"
	"github.com/angelmondragon/jobrouter/api/validators"
	"github.com/angelmondragon/jobrouter/internal/capacity"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/logger"
)

// CapacityAdmin edits configured capacity. Rows are upserted, never deleted.
type CapacityAdmin interface {
	UpsertVendorCapacity(ctx context.Context, input capacity.VendorCapacityInput) (*models.VendorServiceCapacity, error)
	UpsertDesignerCapacity(ctx context.Context, input capacity.DesignerCapacityInput) (*models.VendorDesignerCapacity, error)
}

// DesignerOwners resolves which vendor a designer belongs to.
type DesignerOwners interface {
	ParentVendor(ctx context.Context, designerID uuid.UUID) (uuid.UUID, error)
}

type vendorCapacityEntry struct {
	VendorID          uuid.UUID `json:"vendor_id" validate:"required"`
	ServiceID         uuid.UUID `json:"service_id" validate:"required"`
	DailyCapacity     int       `json:"daily_capacity" validate:"gte=0"`
	AutoAssignEnabled bool      `json:"auto_assign_enabled"`
	PriorityWeight    int       `json:"priority_weight"`
	RoutingStrategy   string    `json:"routing_strategy,omitempty" validate:"omitempty,routing_strategy"`
}

type vendorCapacityRequest struct {
	Entries []vendorCapacityEntry `json:"entries" validate:"required,min=1,max=100,dive"`
}

type designerCapacityEntry struct {
	DesignerID        uuid.UUID `json:"designer_id" validate:"required"`
	ServiceID         uuid.UUID `json:"service_id" validate:"required"`
	DailyCapacity     int       `json:"daily_capacity" validate:"gte=0"`
	IsPrimary         bool      `json:"is_primary"`
	AutoAssignEnabled bool      `json:"auto_assign_enabled"`
	PriorityWeight    int       `json:"priority_weight"`
}

type designerCapacityRequest struct {
	Entries []designerCapacityEntry `json:"entries" validate:"required,min=1,max=100,dive"`
}

type vendorCapacityResponse struct {
	VendorID          uuid.UUID              `json:"vendor_id"`
	ServiceID         uuid.UUID              `json:"service_id"`
	DailyCapacity     int                    `json:"daily_capacity"`
	AutoAssignEnabled bool                   `json:"auto_assign_enabled"`
	PriorityWeight    int                    `json:"priority_weight"`
	RoutingStrategy   *enums.RoutingStrategy `json:"routing_strategy"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

type designerCapacityResponse struct {
	DesignerID        uuid.UUID `json:"designer_id"`
	ServiceID         uuid.UUID `json:"service_id"`
	DailyCapacity     int       `json:"daily_capacity"`
	IsPrimary         bool      `json:"is_primary"`
	AutoAssignEnabled bool      `json:"auto_assign_enabled"`
	PriorityWeight    int       `json:"priority_weight"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// AdminVendorCapacity upserts vendor capacity rows. Every entry is checked
// before anything is written.
func AdminVendorCapacity(svc CapacityAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "capacity ledger unavailable"))
			return
		}
		scope, err := callerVendor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body vendorCapacityRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		for _, entry := range body.Entries {
			if err := requireVendor(scope, entry.VendorID); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		out := make([]vendorCapacityResponse, 0, len(body.Entries))
		for _, entry := range body.Entries {
			row, err := svc.UpsertVendorCapacity(r.Context(), capacity.VendorCapacityInput{
				VendorID:          entry.VendorID,
				ServiceID:         entry.ServiceID,
				DailyCapacity:     entry.DailyCapacity,
				AutoAssignEnabled: entry.AutoAssignEnabled,
				PriorityWeight:    entry.PriorityWeight,
				RoutingStrategy:   enums.RoutingStrategy(entry.RoutingStrategy),
			})
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			out = append(out, vendorCapacityResponse{
				VendorID:          row.VendorID,
				ServiceID:         row.ServiceID,
				DailyCapacity:     row.DailyCapacity,
				AutoAssignEnabled: row.AutoAssignEnabled,
				PriorityWeight:    row.PriorityWeight,
				RoutingStrategy:   row.RoutingStrategy,
				UpdatedAt:         row.UpdatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// AdminDesignerCapacity upserts designer capacity rows.
func AdminDesignerCapacity(svc CapacityAdmin, owners DesignerOwners, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || owners == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "capacity ledger unavailable"))
			return
		}
		scope, err := callerVendor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body designerCapacityRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if scope != nil {
			for _, entry := range body.Entries {
				vendorID, err := owners.ParentVendor(r.Context(), entry.DesignerID)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, err)
					return
				}
				if err := requireVendor(scope, vendorID); err != nil {
					responses.WriteError(r.Context(), logg, w, err)
					return
				}
			}
		}

		out := make([]designerCapacityResponse, 0, len(body.Entries))
		for _, entry := range body.Entries {
			row, err := svc.UpsertDesignerCapacity(r.Context(), capacity.DesignerCapacityInput{
				DesignerID:        entry.DesignerID,
				ServiceID:         entry.ServiceID,
				DailyCapacity:     entry.DailyCapacity,
				IsPrimary:         entry.IsPrimary,
				AutoAssignEnabled: entry.AutoAssignEnabled,
				PriorityWeight:    entry.PriorityWeight,
			})
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			out = append(out, designerCapacityResponse{
				DesignerID:        row.DesignerID,
				ServiceID:         row.ServiceID,
				DailyCapacity:     row.DailyCapacity,
				IsPrimary:         row.IsPrimary,
				AutoAssignEnabled: row.AutoAssignEnabled,
				PriorityWeight:    row.PriorityWeight,
				UpdatedAt:         row.UpdatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
