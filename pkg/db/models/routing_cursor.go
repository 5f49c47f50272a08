package models

import (
	"time"

	"github.com/google/uuid"
)

// RoutingCursor stores the last round-robin pick for a rule or vendor pool.
type RoutingCursor struct {
	CursorKey    string    `gorm:"column:cursor_key;primaryKey"`
	LastChosenID uuid.UUID `gorm:"column:last_chosen_id;type:uuid;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
