package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/jobrouter/internal/repo"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
)

// Repository reads and writes the automation fields of service requests.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{Base: r.Bind(tx)}
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ServiceRequest, error) {
	var row models.ServiceRequest
	if err := r.DB(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Create inserts a job. Used by seeding tools and tests; production jobs are
// written by the request store.
func (r *Repository) Create(ctx context.Context, row *models.ServiceRequest) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.DB(ctx).Create(row).Error
}

// UpdateFields patches one job; returns gorm.ErrRecordNotFound when nothing matched.
func (r *Repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any, now time.Time) error {
	fields["updated_at"] = now
	res := r.DB(ctx).Model(&models.ServiceRequest{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// PriorityCount is one GROUP BY row of active jobs.
type PriorityCount struct {
	Priority enums.JobPriority
	Total    int
}

// CountActiveByPriority groups a client's active jobs by priority.
func (r *Repository) CountActiveByPriority(ctx context.Context, clientID uuid.UUID) ([]PriorityCount, error) {
	var rows []PriorityCount
	err := r.DB(ctx).
		Model(&models.ServiceRequest{}).
		Select("priority, COUNT(*) AS total").
		Where("client_id = ? AND status IN ?", clientID, enums.ActiveJobStatuses).
		Group("priority").
		Scan(&rows).Error
	return rows, err
}
