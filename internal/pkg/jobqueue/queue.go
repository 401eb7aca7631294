package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/app/repository"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/metrics"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/metrics/counter"
)

var (
	// ErrInvalidKey is returned for an empty account or profile.
	ErrInvalidKey = errors.New("account and profile are required")
	// ErrLeaseLost is returned by Complete and Fail when the job was
	// re-enqueued or re-claimed after the caller claimed it. The row is left
	// alone so the newer work still runs.
	ErrLeaseLost = errors.New("job lease lost")
)

// Queue is the durable refresh job table. Every mutation is a single-row
// upsert, conditional update or delete; the (account, profile) unique key and
// the lease columns are the only coordination between workers.
type Queue struct {
	repo        repository.RefreshJobRepository
	client      *redis.Client
	counters    *counter.Counters
	maxAttempts int
	lease       time.Duration
	now         func() time.Time
}

// NewQueue creates a queue. client may be nil; wake-ups and shared counters
// are then disabled and workers rely on polling.
func NewQueue(repo repository.RefreshJobRepository, client *redis.Client, cfg Config) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		repo:        repo,
		client:      client,
		counters:    counter.New(client),
		maxAttempts: cfg.MaxAttempts,
		lease:       cfg.Lease,
		now:         time.Now,
	}
}

// SetClock replaces the clock; used by tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Enqueue adds or refreshes the job for (account, profile). An existing job
// keeps the earlier available_at, gets its attempts reset and its lock and
// error cleared, and takes the new context unless it is a pending cancel.
func (q *Queue) Enqueue(ctx context.Context, accountID uint, profileID string, opts EnqueueOptions) (*models.RefreshJob, error) {
	if accountID == 0 || strings.TrimSpace(profileID) == "" {
		return nil, ErrInvalidKey
	}
	now := q.now()
	availableAt := opts.AvailableAt
	if availableAt.IsZero() {
		availableAt = now
	}
	job := &models.RefreshJob{
		AccountID:   accountID,
		ProfileID:   profileID,
		AvailableAt: availableAt.UTC(),
	}
	if err := job.EncodeContext(opts.Context); err != nil {
		return nil, fmt.Errorf("encode job context: %w", err)
	}
	if err := q.repo.Upsert(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue %d/%s: %w", accountID, profileID, err)
	}

	if op := job.DecodeContext().Operation; op != opts.Context.Operation && opts.Context.Operation != "" {
		log.Infof("[RefreshQueue] Job %d for profile %s keeps pending %s over %s", job.ID, profileID, op, opts.Context.Operation)
	}

	metrics.QueueEvent("enqueued", 1)
	q.count(ctx, counter.FieldEnqueued, 1)
	if !job.AvailableAt.After(now) {
		q.wake(ctx)
	}
	log.Infof("[RefreshQueue] Enqueued %s job %d for account %d profile %s (available %s)",
		job.DecodeContext().Operation, job.ID, accountID, profileID, job.AvailableAt.Format(time.RFC3339))
	return job, nil
}

// Schedule enqueues jc to run as soon as possible.
func (q *Queue) Schedule(ctx context.Context, accountID uint, profileID string, jc models.JobContext) error {
	_, err := q.Enqueue(ctx, accountID, profileID, EnqueueOptions{Context: jc})
	return err
}

// Claim leases up to limit due jobs for worker. Each row is locked with a
// conditional update, so a job another worker grabbed in between is skipped
// and the caller simply gets fewer jobs.
func (q *Queue) Claim(ctx context.Context, worker string, limit int, lease time.Duration) ([]models.RefreshJob, error) {
	if limit <= 0 {
		limit = DefaultClaimLimit
	}
	if lease <= 0 {
		lease = q.lease
	}
	now := q.now()
	cutoff := now.Add(-lease)

	candidates, err := q.repo.ListClaimable(ctx, now, cutoff, q.maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list claimable jobs: %w", err)
	}

	claimed := make([]models.RefreshJob, 0, len(candidates))
	for _, job := range candidates {
		ok, err := q.repo.TryLock(ctx, job.ID, worker, now, cutoff)
		if err != nil {
			return claimed, fmt.Errorf("lock job %d: %w", job.ID, err)
		}
		if !ok {
			continue
		}
		lockedAt := now
		job.LockedAt = &lockedAt
		job.LockedBy = worker
		job.Attempts++
		job.LastRunAt = &lockedAt
		claimed = append(claimed, job)
	}

	if len(claimed) > 0 {
		metrics.QueueEvent("claimed", len(claimed))
		q.count(ctx, counter.FieldClaimed, int64(len(claimed)))
		log.Debugf("[RefreshQueue] Worker %s claimed %d/%d jobs", worker, len(claimed), len(candidates))
	}
	return claimed, nil
}

// Complete removes a finished job claimed by the caller. When the job was
// re-enqueued or re-claimed in the meantime the row stays and ErrLeaseLost is
// returned.
func (q *Queue) Complete(ctx context.Context, job *models.RefreshJob) error {
	ok, err := q.repo.Delete(ctx, job.ID, job.LockedBy, job.Attempts)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", job.ID, err)
	}
	if !ok {
		metrics.QueueEvent("superseded", 1)
		return fmt.Errorf("complete job %d: %w", job.ID, ErrLeaseLost)
	}
	metrics.QueueEvent("completed", 1)
	q.count(ctx, counter.FieldCompleted, 1)
	return nil
}

// Fail releases the caller's lease, records errMsg and pushes available_at
// out by Backoff(retry, attempts). A lost lease leaves the row to its new
// owner and returns ErrLeaseLost.
func (q *Queue) Fail(ctx context.Context, job *models.RefreshJob, errMsg string, retry time.Duration) error {
	delay := Backoff(retry, job.Attempts)
	next := q.now().Add(delay)
	ok, err := q.repo.Release(ctx, job.ID, job.LockedBy, job.Attempts, errMsg, next)
	if err != nil {
		return fmt.Errorf("release job %d: %w", job.ID, err)
	}
	if !ok {
		metrics.QueueEvent("superseded", 1)
		return fmt.Errorf("release job %d: %w", job.ID, ErrLeaseLost)
	}

	metrics.QueueEvent("failed", 1)
	q.count(ctx, counter.FieldFailed, 1)
	if q.maxAttempts > 0 && job.Attempts >= q.maxAttempts {
		log.Errorf("[RefreshQueue] Job %d for profile %s is stuck after %d attempts: %s", job.ID, job.ProfileID, job.Attempts, errMsg)
	} else {
		log.Warnf("[RefreshQueue] Job %d for profile %s failed (attempt %d), retry at %s: %s",
			job.ID, job.ProfileID, job.Attempts, next.Format(time.RFC3339), errMsg)
	}
	return nil
}

// Metrics reports queue depth across all accounts.
func (q *Queue) Metrics(ctx context.Context) (*Metrics, error) {
	m, err := q.stats(ctx, nil)
	if err != nil {
		return nil, err
	}
	if all, cerr := q.counters.All(ctx); cerr == nil {
		m.Counters = all
	} else {
		log.Debugf("[RefreshQueue] Counters unavailable: %v", cerr)
	}
	return m, nil
}

// CustomerMetrics reports queue depth for one account.
func (q *Queue) CustomerMetrics(ctx context.Context, accountID uint) (*Metrics, error) {
	return q.stats(ctx, &accountID)
}

func (q *Queue) stats(ctx context.Context, accountID *uint) (*Metrics, error) {
	now := q.now()
	s, err := q.repo.Stats(ctx, repository.QueueStatsFilter{
		AccountID:   accountID,
		Now:         now,
		LeaseCutoff: now.Add(-q.lease),
		MaxAttempts: q.maxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &Metrics{
		Total:           s.Total,
		Pending:         s.Pending,
		Due:             s.Due,
		Locked:          s.Locked,
		Stuck:           s.Stuck,
		OldestPendingAt: s.OldestPendingAt,
	}, nil
}

// Stuck lists jobs that reached the attempt limit and are no longer claimed.
// Re-enqueueing one resets its attempts.
func (q *Queue) Stuck(ctx context.Context, limit int) ([]models.RefreshJob, error) {
	return q.repo.ListStuck(ctx, q.maxAttempts, limit)
}

// Get returns the pending job for (account, profile), or nil.
func (q *Queue) Get(ctx context.Context, accountID uint, profileID string) (*models.RefreshJob, error) {
	job, err := q.repo.GetByKey(ctx, accountID, profileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// Wait blocks until a wake-up arrives, timeout passes or ctx is done.
func (q *Queue) Wait(ctx context.Context, timeout time.Duration) {
	if q.client != nil {
		// BLPop returns redis.Nil on timeout; any other error means Redis is
		// gone and we fall back to sleeping.
		_, err := q.client.BLPop(ctx, timeout, WakeupKey).Result()
		if err == nil || errors.Is(err, redis.Nil) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Debugf("[RefreshQueue] Wake-up wait failed, polling: %v", err)
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (q *Queue) wake(ctx context.Context) {
	if q.client == nil {
		return
	}
	pipe := q.client.Pipeline()
	pipe.RPush(ctx, WakeupKey, "1")
	pipe.LTrim(ctx, WakeupKey, -wakeupBacklog, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Debugf("[RefreshQueue] Wake-up push failed: %v", err)
	}
}

func (q *Queue) count(ctx context.Context, field string, n int64) {
	if err := q.counters.Add(ctx, field, n); err != nil {
		log.Debugf("[RefreshQueue] Counter %s update failed: %v", field, err)
	}
}
