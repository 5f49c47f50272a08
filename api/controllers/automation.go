package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/api/responses"
	"github.com/angelmondragon/jobrouter/api/validators"
	"github.com/angelmondragon/jobrouter/internal/assignment"
	"github.com/angelmondragon/jobrouter/internal/audit"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/logger"
	"github.com/angelmondragon/jobrouter/pkg/pagination"
)

// RunLogReader pages through recorded assignment runs.
type RunLogReader interface {
	ListRuns(ctx context.Context, requestID uuid.UUID, params pagination.Params) (*audit.RunPage, error)
}

// AutomationRun triggers a manual assignment run for a job.
func AutomationRun(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}

		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome, err := svc.RunAssignment(r.Context(), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}

// AutomationLogs lists the decision trail of a job, newest run first.
func AutomationLogs(reader RunLogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit log unavailable"))
			return
		}

		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := reader.ListRuns(r.Context(), jobID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
