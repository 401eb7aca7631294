package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type profileCacheRepository struct {
	db *gorm.DB
}

// NewProfileCacheRepository creates a profile cache repository backed by GORM.
func NewProfileCacheRepository(db *gorm.DB) ProfileCacheRepository {
	return &profileCacheRepository{db: db}
}

func (r *profileCacheRepository) Get(ctx context.Context, accountID uint, profileID string) (*models.ProfileCacheEntry, error) {
	var entry models.ProfileCacheEntry
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND profile_id = ?", accountID, profileID).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *profileCacheRepository) GetMany(ctx context.Context, accountID uint, profileIDs []string) ([]models.ProfileCacheEntry, error) {
	if len(profileIDs) == 0 {
		return nil, nil
	}
	var entries []models.ProfileCacheEntry
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND profile_id IN ?", accountID, profileIDs).
		Find(&entries).Error
	return entries, err
}

func (r *profileCacheRepository) Upsert(ctx context.Context, entry *models.ProfileCacheEntry) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "account_id"},
			{Name: "profile_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"profile_source",
			"preferred_gateway",
			"raw_profile",
			"refreshed_at",
		}),
	}).Create(entry).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.WithContext(ctx).
		Where("account_id = ? AND profile_id = ?", entry.AccountID, entry.ProfileID).
		First(entry).Error
}

func (r *profileCacheRepository) Delete(ctx context.Context, accountID uint, profileID string) error {
	return r.db.WithContext(ctx).
		Where("account_id = ? AND profile_id = ?", accountID, profileID).
		Delete(&models.ProfileCacheEntry{}).Error
}

func (r *profileCacheRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("refreshed_at < ?", cutoff).
		Delete(&models.ProfileCacheEntry{})
	return res.RowsAffected, res.Error
}
