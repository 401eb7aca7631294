package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"gorm.io/gorm"
)

// SubscriptionRepository reads the locally tracked recurring agreements and
// moves their lifecycle status.
type SubscriptionRepository interface {
	GetByProfile(ctx context.Context, accountID uint, profileID string) (*models.SubscriptionRecord, error)
	ListByAccount(ctx context.Context, accountID uint) ([]models.SubscriptionRecord, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
}

// ProfileCacheRepository persists gateway classifications keyed by
// (account, profile).
type ProfileCacheRepository interface {
	Get(ctx context.Context, accountID uint, profileID string) (*models.ProfileCacheEntry, error)
	GetMany(ctx context.Context, accountID uint, profileIDs []string) ([]models.ProfileCacheEntry, error)
	Upsert(ctx context.Context, entry *models.ProfileCacheEntry) error
	Delete(ctx context.Context, accountID uint, profileID string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RefreshJobRepository is the durable job table behind the refresh queue.
type RefreshJobRepository interface {
	// Upsert inserts the job or, when one already exists for the same
	// (account, profile), moves available_at to the earlier of both values,
	// clears attempts, lock and last error, and replaces the context unless
	// the existing row holds a cancel and the new one does not.
	Upsert(ctx context.Context, job *models.RefreshJob) error
	GetByID(ctx context.Context, id uint) (*models.RefreshJob, error)
	GetByKey(ctx context.Context, accountID uint, profileID string) (*models.RefreshJob, error)
	ListClaimable(ctx context.Context, now, leaseCutoff time.Time, maxAttempts, limit int) ([]models.RefreshJob, error)
	// TryLock leases a single job. It only succeeds when the job is due and
	// unlocked (or its lease is older than leaseCutoff), so at most one
	// caller wins.
	TryLock(ctx context.Context, id uint, worker string, now, leaseCutoff time.Time) (bool, error)
	// Delete and Release only touch the row while worker still holds the
	// lease it took on attempt. They report false when the job was
	// re-enqueued or re-claimed in the meantime.
	Delete(ctx context.Context, id uint, worker string, attempt int) (bool, error)
	Release(ctx context.Context, id uint, worker string, attempt int, lastError string, availableAt time.Time) (bool, error)
	Stats(ctx context.Context, filter QueueStatsFilter) (*QueueStats, error)
	ListStuck(ctx context.Context, maxAttempts, limit int) ([]models.RefreshJob, error)
}

// RefreshEventRepository is the append-only audit log.
type RefreshEventRepository interface {
	Create(ctx context.Context, event *models.RefreshEvent) error
	ListByProfile(ctx context.Context, accountID uint, profileID string, limit int) ([]models.RefreshEvent, error)
}

// QueueStatsFilter scopes queue statistics. A nil AccountID means all accounts.
// MaxAttempts <= 0 disables the stuck bucket.
type QueueStatsFilter struct {
	AccountID   *uint
	Now         time.Time
	LeaseCutoff time.Time
	MaxAttempts int
}

// QueueStats summarizes the refresh job table.
type QueueStats struct {
	Total           int64      `json:"total"`
	Pending         int64      `json:"pending"`
	Due             int64      `json:"due"`
	Locked          int64      `json:"locked"`
	Stuck           int64      `json:"stuck"`
	OldestPendingAt *time.Time `json:"oldest_pending_at,omitempty"`
}

// Repositories holds all repository instances
type Repositories struct {
	Subscription SubscriptionRepository
	ProfileCache ProfileCacheRepository
	RefreshJob   RefreshJobRepository
	RefreshEvent RefreshEventRepository
}

// NewRepositories creates GORM backed repository instances
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Subscription: NewSubscriptionRepository(db),
		ProfileCache: NewProfileCacheRepository(db),
		RefreshJob:   NewRefreshJobRepository(db),
		RefreshEvent: NewRefreshEventRepository(db),
	}
}
