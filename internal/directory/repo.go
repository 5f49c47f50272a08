package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/internal/repo"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
)

// Directory answers who may receive work. It is read-only.
type Directory struct {
	repo.Base
}

func New(db *gorm.DB) (*Directory, error) {
	if db == nil {
		return nil, fmt.Errorf("directory requires a db")
	}
	return &Directory{Base: repo.NewBase(db)}, nil
}

func (d *Directory) WithTx(tx *gorm.DB) *Directory {
	return &Directory{Base: d.Bind(tx)}
}

// VendorsForService lists active vendors that carry a capacity row for the
// service, whether or not auto assign is currently enabled.
func (d *Directory) VendorsForService(ctx context.Context, serviceID uuid.UUID) ([]uuid.UUID, error) {
	offering := d.DB(ctx).
		Model(&models.VendorServiceCapacity{}).
		Select("vendor_id").
		Where("service_id = ?", serviceID)

	var ids []uuid.UUID
	if err := d.DB(ctx).
		Model(&models.DirectoryMember{}).
		Where("role = ? AND active = ?", enums.EntityKindVendor, true).
		Where("id IN (?)", offering).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, pkgerrors.Dependency(err, "list vendors for service")
	}
	return ids, nil
}

// DesignersForVendorAndService lists the vendor's active designers that carry
// a capacity row for the service. As with vendors, a disabled or zero row
// still counts so the caller can report it.
func (d *Directory) DesignersForVendorAndService(ctx context.Context, vendorID, serviceID uuid.UUID) ([]uuid.UUID, error) {
	offering := d.DB(ctx).
		Model(&models.VendorDesignerCapacity{}).
		Select("designer_id").
		Where("service_id = ?", serviceID)

	var ids []uuid.UUID
	if err := d.DB(ctx).
		Model(&models.DirectoryMember{}).
		Where("role = ? AND parent_vendor_id = ? AND active = ?", enums.EntityKindDesigner, vendorID, true).
		Where("id IN (?)", offering).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, pkgerrors.Dependency(err, "list designers for vendor")
	}
	return ids, nil
}

// ParentVendor returns the vendor a designer works for.
func (d *Directory) ParentVendor(ctx context.Context, designerID uuid.UUID) (uuid.UUID, error) {
	var member models.DirectoryMember
	err := d.DB(ctx).
		Where("id = ? AND role = ?", designerID, enums.EntityKindDesigner).
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && member.ParentVendorID == nil) {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "designer not found")
	}
	if err != nil {
		return uuid.Nil, pkgerrors.Dependency(err, "load designer")
	}
	return *member.ParentVendorID, nil
}

// Upsert writes a directory member. Used by seeding tools and tests.
func (d *Directory) Upsert(ctx context.Context, member *models.DirectoryMember) error {
	if member == nil || member.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "member id is required")
	}
	if !member.Role.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid member role %q", member.Role))
	}
	if member.Role == enums.EntityKindDesigner && member.ParentVendorID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "designers require a parent vendor")
	}
	return pkgerrors.Dependency(d.DB(ctx).Save(member).Error, "save directory member")
}
