package controllers

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/api/middleware"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
)

// callerVendor returns the vendor a vendor admin is confined to, or nil for
// platform admins.
func callerVendor(ctx context.Context) (*uuid.UUID, error) {
	if middleware.RoleFromContext(ctx) != string(enums.ActorRoleVendorAdmin) {
		return nil, nil
	}
	raw := middleware.VendorIDFromContext(ctx)
	if raw == "" {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "vendor context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "invalid vendor context")
	}
	return &id, nil
}

func requireVendor(scope *uuid.UUID, vendorID uuid.UUID) error {
	if scope != nil && *scope != vendorID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "vendor not managed by caller")
	}
	return nil
}
