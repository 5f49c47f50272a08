package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/api/responses"
	"github.com/angelmondragon/jobrouter/api/validators"
	"github.com/angelmondragon/jobrouter/internal/assignment"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/logger"
)

type priorityAllowanceRequest struct {
	ClientID string `json:"client_id" validate:"required,uuid"`
	Priority string `json:"priority" validate:"required,job_priority"`
}

// PriorityAllowance decides which priority a new job for the client may carry.
// A rejected request is still a 200; the verdict is in the body.
func PriorityAllowance(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}

		var body priorityAllowanceRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		clientID, err := uuid.Parse(body.ClientID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid client id"))
			return
		}

		allowance, err := svc.CheckPriorityAllowance(r.Context(), clientID, enums.JobPriority(body.Priority))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, allowance)
	}
}

// PriorityPreview shows the client's current quota usage.
func PriorityPreview(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}

		clientID, err := validators.ParseUUIDParam(r, "clientId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		preview, err := svc.PreviewPriority(r.Context(), clientID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, preview)
	}
}
