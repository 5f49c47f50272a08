package rules

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/internal/repo"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
)

// Repository persists automation rules.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{Base: r.Bind(tx)}
}

// ListActive returns active rows ordered by precedence.
func (r *Repository) ListActive(ctx context.Context) ([]models.AutomationRule, error) {
	var rows []models.AutomationRule
	err := r.DB(ctx).
		Where("active = ?", true).
		Order("priority DESC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) List(ctx context.Context) ([]models.AutomationRule, error) {
	var rows []models.AutomationRule
	err := r.DB(ctx).
		Order("priority DESC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.AutomationRule, error) {
	var row models.AutomationRule
	if err := r.DB(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) Create(ctx context.Context, row *models.AutomationRule) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.DB(ctx).Create(row).Error
}

// Save writes every column of row.
func (r *Repository) Save(ctx context.Context, row *models.AutomationRule) error {
	return r.DB(ctx).Select("*").Omit("created_at").Updates(row).Error
}

// UpdateFields patches a single rule; returns gorm.ErrRecordNotFound when no row matched.
func (r *Repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any, now time.Time) error {
	fields["updated_at"] = now
	res := r.DB(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
