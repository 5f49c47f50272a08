package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformSettingsID is the primary key of the single settings row.
const PlatformSettingsID = 1

// PlatformSettings carries the admin-edited priority quota percentages.
type PlatformSettings struct {
	ID               int             `gorm:"column:id;primaryKey"`
	MaxUrgentPercent decimal.Decimal `gorm:"column:max_urgent_percent;type:numeric(5,2);not null"`
	MaxHighPercent   decimal.Decimal `gorm:"column:max_high_percent;type:numeric(5,2);not null"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
