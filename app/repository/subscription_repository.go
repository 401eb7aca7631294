package repository

import (
	"context"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"gorm.io/gorm"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription record repository
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetByProfile(ctx context.Context, accountID uint, profileID string) (*models.SubscriptionRecord, error) {
	var rec models.SubscriptionRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND profile_id = ?", accountID, profileID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *subscriptionRepository) ListByAccount(ctx context.Context, accountID uint) ([]models.SubscriptionRecord, error) {
	var recs []models.SubscriptionRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&recs).Error
	return recs, err
}

func (r *subscriptionRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	res := r.db.WithContext(ctx).Model(&models.SubscriptionRecord{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
