package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// DirectoryMember mirrors the vendor/designer directory the engine reads from.
type DirectoryMember struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Role           enums.EntityKind `gorm:"column:role;type:capacity_entity_kind;not null"`
	ParentVendorID *uuid.UUID       `gorm:"column:parent_vendor_id;type:uuid"`
	DisplayName    string           `gorm:"column:display_name;not null;default:''"`
	Active         bool             `gorm:"column:active;not null"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
}
