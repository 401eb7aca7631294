package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// keepCancelContext keeps a queued cancellation when a refresh is enqueued
// for the same profile.
const keepCancelContext = "CASE WHEN JSON_UNQUOTE(JSON_EXTRACT(`context`, '$.operation')) = 'cancel' " +
	"AND COALESCE(JSON_UNQUOTE(JSON_EXTRACT(VALUES(`context`), '$.operation')), '') <> 'cancel' " +
	"THEN `context` ELSE VALUES(`context`) END"

type refreshJobRepository struct {
	db *gorm.DB
}

// NewRefreshJobRepository creates a refresh job repository backed by GORM.
func NewRefreshJobRepository(db *gorm.DB) RefreshJobRepository {
	return &refreshJobRepository{db: db}
}

func (r *refreshJobRepository) Upsert(ctx context.Context, job *models.RefreshJob) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "account_id"},
			{Name: "profile_id"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"available_at": gorm.Expr("LEAST(`available_at`, VALUES(`available_at`))"),
			"attempts":     0,
			"locked_at":    nil,
			"locked_by":    "",
			"last_error":   "",
			"context":      gorm.Expr(keepCancelContext),
			"updated_at":   time.Now(),
		}),
	}).Create(job).Error; err != nil {
		return err
	}

	return r.db.WithContext(ctx).
		Where("account_id = ? AND profile_id = ?", job.AccountID, job.ProfileID).
		First(job).Error
}

func (r *refreshJobRepository) GetByID(ctx context.Context, id uint) (*models.RefreshJob, error) {
	var job models.RefreshJob
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *refreshJobRepository) GetByKey(ctx context.Context, accountID uint, profileID string) (*models.RefreshJob, error) {
	var job models.RefreshJob
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND profile_id = ?", accountID, profileID).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *refreshJobRepository) ListClaimable(ctx context.Context, now, leaseCutoff time.Time, maxAttempts, limit int) ([]models.RefreshJob, error) {
	q := r.db.WithContext(ctx).
		Where("available_at <= ?", now).
		Where("locked_at IS NULL OR locked_at < ?", leaseCutoff)
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	var jobs []models.RefreshJob
	err := q.Order("available_at ASC, id ASC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

func (r *refreshJobRepository) TryLock(ctx context.Context, id uint, worker string, now, leaseCutoff time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.RefreshJob{}).
		Where("id = ? AND available_at <= ?", id, now).
		Where("locked_at IS NULL OR locked_at < ?", leaseCutoff).
		Updates(map[string]interface{}{
			"locked_at":   now,
			"locked_by":   worker,
			"attempts":    gorm.Expr("attempts + 1"),
			"last_run_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *refreshJobRepository) Delete(ctx context.Context, id uint, worker string, attempt int) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND locked_by = ? AND attempts = ?", id, worker, attempt).
		Delete(&models.RefreshJob{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *refreshJobRepository) Release(ctx context.Context, id uint, worker string, attempt int, lastError string, availableAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.RefreshJob{}).
		Where("id = ? AND locked_by = ? AND attempts = ?", id, worker, attempt).
		Updates(map[string]interface{}{
			"locked_at":    nil,
			"locked_by":    "",
			"last_error":   lastError,
			"available_at": availableAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *refreshJobRepository) Stats(ctx context.Context, f QueueStatsFilter) (*QueueStats, error) {
	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&models.RefreshJob{})
		if f.AccountID != nil {
			q = q.Where("account_id = ?", *f.AccountID)
		}
		return q
	}
	pending := func() *gorm.DB {
		q := base().Where("locked_at IS NULL OR locked_at < ?", f.LeaseCutoff)
		if f.MaxAttempts > 0 {
			q = q.Where("attempts < ?", f.MaxAttempts)
		}
		return q
	}

	var s QueueStats
	if err := base().Count(&s.Total).Error; err != nil {
		return nil, err
	}
	if err := pending().Count(&s.Pending).Error; err != nil {
		return nil, err
	}
	if err := pending().Where("available_at <= ?", f.Now).Count(&s.Due).Error; err != nil {
		return nil, err
	}
	if err := base().Where("locked_at IS NOT NULL AND locked_at >= ?", f.LeaseCutoff).Count(&s.Locked).Error; err != nil {
		return nil, err
	}
	if f.MaxAttempts > 0 {
		err := base().
			Where("locked_at IS NULL OR locked_at < ?", f.LeaseCutoff).
			Where("attempts >= ?", f.MaxAttempts).
			Count(&s.Stuck).Error
		if err != nil {
			return nil, err
		}
	}

	var oldest sql.NullTime
	if err := pending().Select("MIN(available_at)").Row().Scan(&oldest); err != nil {
		return nil, err
	}
	if oldest.Valid {
		t := oldest.Time
		s.OldestPendingAt = &t
	}
	return &s, nil
}

func (r *refreshJobRepository) ListStuck(ctx context.Context, maxAttempts, limit int) ([]models.RefreshJob, error) {
	if maxAttempts <= 0 {
		return nil, nil
	}
	var jobs []models.RefreshJob
	err := r.db.WithContext(ctx).
		Where("attempts >= ?", maxAttempts).
		Order("attempts DESC, updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}
