package repository

import (
	"context"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"gorm.io/gorm"
)

type refreshEventRepository struct {
	db *gorm.DB
}

// NewRefreshEventRepository creates the append-only refresh event repository
func NewRefreshEventRepository(db *gorm.DB) RefreshEventRepository {
	return &refreshEventRepository{db: db}
}

func (r *refreshEventRepository) Create(ctx context.Context, event *models.RefreshEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *refreshEventRepository) ListByProfile(ctx context.Context, accountID uint, profileID string, limit int) ([]models.RefreshEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.RefreshEvent
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND profile_id = ?", accountID, profileID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
