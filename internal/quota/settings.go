package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/pkg/config"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
)

// Percents are the two platform-wide quota percentages.
type Percents struct {
	MaxUrgent decimal.Decimal `json:"max_urgent_percent"`
	MaxHigh   decimal.Decimal `json:"max_high_percent"`
}

// SettingsSource loads the active quota percentages.
type SettingsSource interface {
	Percents(ctx context.Context) (Percents, error)
}

// DBSettings reads the platform_settings row and falls back to the
// configured defaults when it does not exist.
type DBSettings struct {
	db       *gorm.DB
	fallback Percents
}

func NewDBSettings(db *gorm.DB, cfg config.QuotaConfig) (*DBSettings, error) {
	if db == nil {
		return nil, fmt.Errorf("quota settings require a db")
	}
	urgent, high, err := cfg.Percents()
	if err != nil {
		return nil, err
	}
	if err := config.ValidateQuotaPercents(urgent, high); err != nil {
		return nil, err
	}
	return &DBSettings{db: db, fallback: Percents{MaxUrgent: urgent, MaxHigh: high}}, nil
}

func (s *DBSettings) Percents(ctx context.Context) (Percents, error) {
	var row models.PlatformSettings
	err := s.db.WithContext(ctx).Where("id = ?", models.PlatformSettingsID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.fallback, nil
	}
	if err != nil {
		return Percents{}, pkgerrors.Dependency(err, "load platform settings")
	}
	// The settings layer validates on write; a bad row is not evaluated.
	if err := config.ValidateQuotaPercents(row.MaxUrgentPercent, row.MaxHighPercent); err != nil {
		return Percents{}, pkgerrors.InvalidConfiguration(err, "platform quota settings are invalid")
	}
	return Percents{MaxUrgent: row.MaxUrgentPercent, MaxHigh: row.MaxHighPercent}, nil
}

// Save stores new percentages on the settings row.
func (s *DBSettings) Save(ctx context.Context, p Percents) error {
	if err := config.ValidateQuotaPercents(p.MaxUrgent, p.MaxHigh); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quota percentages")
	}
	row := models.PlatformSettings{
		ID:               models.PlatformSettingsID,
		MaxUrgentPercent: p.MaxUrgent,
		MaxHighPercent:   p.MaxHigh,
	}
	return pkgerrors.Dependency(s.db.WithContext(ctx).Save(&row).Error, "save platform settings")
}

// StaticSettings always returns the same percentages.
type StaticSettings Percents

func (s StaticSettings) Percents(context.Context) (Percents, error) {
	return Percents(s), nil
}
