package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"gorm.io/gorm"
)

// NewMemoryRepositories returns process-local repositories with the same
// uniqueness and leasing rules as the MySQL ones. Used by tests and by
// STORAGE=memory local runs.
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Subscription: NewMemorySubscriptionRepository(),
		ProfileCache: NewMemoryProfileCacheRepository(),
		RefreshJob:   NewMemoryRefreshJobRepository(),
		RefreshEvent: NewMemoryRefreshEventRepository(),
	}
}

type profileKey struct {
	accountID uint
	profileID string
}

// MemorySubscriptionRepository keeps subscription records in memory.
type MemorySubscriptionRepository struct {
	mu     sync.RWMutex
	nextID uint
	byID   map[uint]*models.SubscriptionRecord
}

func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{byID: make(map[uint]*models.SubscriptionRecord)}
}

// Put inserts or replaces a record; records are created outside this service
// so this only exists for seeding.
func (r *MemorySubscriptionRepository) Put(rec *models.SubscriptionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == 0 {
		r.nextID++
		rec.ID = r.nextID
	} else if rec.ID > r.nextID {
		r.nextID = rec.ID
	}
	cp := *rec
	r.byID[rec.ID] = &cp
}

func (r *MemorySubscriptionRepository) GetByProfile(_ context.Context, accountID uint, profileID string) (*models.SubscriptionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.byID {
		if rec.AccountID == accountID && rec.ProfileID == profileID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *MemorySubscriptionRepository) ListByAccount(_ context.Context, accountID uint) ([]models.SubscriptionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.SubscriptionRecord
	for _, rec := range r.byID {
		if rec.AccountID == accountID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemorySubscriptionRepository) UpdateStatus(_ context.Context, id uint, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	return nil
}

// MemoryProfileCacheRepository keeps cache entries in memory and counts reads
// so tests can assert round trips.
type MemoryProfileCacheRepository struct {
	mu      sync.RWMutex
	nextID  uint
	entries map[profileKey]*models.ProfileCacheEntry
	reads   int
}

func NewMemoryProfileCacheRepository() *MemoryProfileCacheRepository {
	return &MemoryProfileCacheRepository{entries: make(map[profileKey]*models.ProfileCacheEntry)}
}

// Reads returns how many Get/GetMany calls reached the repository.
func (r *MemoryProfileCacheRepository) Reads() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reads
}

// Len returns the number of stored rows.
func (r *MemoryProfileCacheRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *MemoryProfileCacheRepository) Get(_ context.Context, accountID uint, profileID string) (*models.ProfileCacheEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	e, ok := r.entries[profileKey{accountID, profileID}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *MemoryProfileCacheRepository) GetMany(_ context.Context, accountID uint, profileIDs []string) ([]models.ProfileCacheEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	var out []models.ProfileCacheEntry
	for _, id := range profileIDs {
		if e, ok := r.entries[profileKey{accountID, id}]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *MemoryProfileCacheRepository) Upsert(_ context.Context, entry *models.ProfileCacheEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := profileKey{entry.AccountID, entry.ProfileID}
	if existing, ok := r.entries[k]; ok {
		entry.ID = existing.ID
	} else {
		r.nextID++
		entry.ID = r.nextID
	}
	cp := *entry
	r.entries[k] = &cp
	return nil
}

func (r *MemoryProfileCacheRepository) Delete(_ context.Context, accountID uint, profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, profileKey{accountID, profileID})
	return nil
}

func (r *MemoryProfileCacheRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, e := range r.entries {
		if e.RefreshedAt.Before(cutoff) {
			delete(r.entries, k)
			n++
		}
	}
	return n, nil
}

// MemoryRefreshJobRepository is an in-memory job table. TryLock is a
// compare-and-set under the mutex, matching the conditional UPDATE in MySQL.
type MemoryRefreshJobRepository struct {
	mu     sync.Mutex
	nextID uint
	jobs   map[uint]*models.RefreshJob
}

func NewMemoryRefreshJobRepository() *MemoryRefreshJobRepository {
	return &MemoryRefreshJobRepository{jobs: make(map[uint]*models.RefreshJob)}
}

func copyJob(j *models.RefreshJob) models.RefreshJob {
	cp := *j
	if j.LockedAt != nil {
		t := *j.LockedAt
		cp.LockedAt = &t
	}
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		cp.LastRunAt = &t
	}
	cp.Context = append([]byte(nil), j.Context...)
	return cp
}

func (r *MemoryRefreshJobRepository) findByKey(accountID uint, profileID string) *models.RefreshJob {
	for _, j := range r.jobs {
		if j.AccountID == accountID && j.ProfileID == profileID {
			return j
		}
	}
	return nil
}

func (r *MemoryRefreshJobRepository) Upsert(_ context.Context, job *models.RefreshJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if existing := r.findByKey(job.AccountID, job.ProfileID); existing != nil {
		if job.AvailableAt.Before(existing.AvailableAt) {
			existing.AvailableAt = job.AvailableAt
		}
		existing.Attempts = 0
		existing.LockedAt = nil
		existing.LockedBy = ""
		existing.LastError = ""
		if !existing.KeepsContextOver(job.DecodeContext()) {
			existing.Context = append([]byte(nil), job.Context...)
		}
		existing.UpdatedAt = now
		*job = copyJob(existing)
		return nil
	}
	r.nextID++
	job.ID = r.nextID
	job.CreatedAt = now
	job.UpdatedAt = now
	stored := copyJob(job)
	r.jobs[job.ID] = &stored
	return nil
}

func (r *MemoryRefreshJobRepository) GetByID(_ context.Context, id uint) (*models.RefreshJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := copyJob(j)
	return &cp, nil
}

func (r *MemoryRefreshJobRepository) GetByKey(_ context.Context, accountID uint, profileID string) (*models.RefreshJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.findByKey(accountID, profileID)
	if j == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := copyJob(j)
	return &cp, nil
}

func claimable(j *models.RefreshJob, now, leaseCutoff time.Time) bool {
	return !j.AvailableAt.After(now) && (j.LockedAt == nil || j.LockedAt.Before(leaseCutoff))
}

func (r *MemoryRefreshJobRepository) ListClaimable(_ context.Context, now, leaseCutoff time.Time, maxAttempts, limit int) ([]models.RefreshJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RefreshJob
	for _, j := range r.jobs {
		if !claimable(j, now, leaseCutoff) {
			continue
		}
		if maxAttempts > 0 && j.Attempts >= maxAttempts {
			continue
		}
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].AvailableAt.Equal(out[b].AvailableAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].AvailableAt.Before(out[b].AvailableAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRefreshJobRepository) TryLock(_ context.Context, id uint, worker string, now, leaseCutoff time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || !claimable(j, now, leaseCutoff) {
		return false, nil
	}
	t := now
	j.LockedAt = &t
	j.LockedBy = worker
	j.Attempts++
	run := now
	j.LastRunAt = &run
	return true, nil
}

func (r *MemoryRefreshJobRepository) holds(id uint, worker string, attempt int) (*models.RefreshJob, bool) {
	j, ok := r.jobs[id]
	if !ok || j.LockedBy != worker || j.Attempts != attempt {
		return nil, false
	}
	return j, true
}

func (r *MemoryRefreshJobRepository) Delete(_ context.Context, id uint, worker string, attempt int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.holds(id, worker, attempt); !ok {
		return false, nil
	}
	delete(r.jobs, id)
	return true, nil
}

func (r *MemoryRefreshJobRepository) Release(_ context.Context, id uint, worker string, attempt int, lastError string, availableAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.holds(id, worker, attempt)
	if !ok {
		return false, nil
	}
	j.LockedAt = nil
	j.LockedBy = ""
	j.LastError = lastError
	j.AvailableAt = availableAt
	j.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryRefreshJobRepository) Stats(_ context.Context, f QueueStatsFilter) (*QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s QueueStats
	for _, j := range r.jobs {
		if f.AccountID != nil && j.AccountID != *f.AccountID {
			continue
		}
		s.Total++
		if j.LockedAt != nil && !j.LockedAt.Before(f.LeaseCutoff) {
			s.Locked++
			continue
		}
		if f.MaxAttempts > 0 && j.Attempts >= f.MaxAttempts {
			s.Stuck++
			continue
		}
		s.Pending++
		if !j.AvailableAt.After(f.Now) {
			s.Due++
		}
		if s.OldestPendingAt == nil || j.AvailableAt.Before(*s.OldestPendingAt) {
			t := j.AvailableAt
			s.OldestPendingAt = &t
		}
	}
	return &s, nil
}

func (r *MemoryRefreshJobRepository) ListStuck(_ context.Context, maxAttempts, limit int) ([]models.RefreshJob, error) {
	if maxAttempts <= 0 {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RefreshJob
	for _, j := range r.jobs {
		if j.Attempts >= maxAttempts {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Attempts > out[b].Attempts })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryRefreshEventRepository is an append-only slice.
type MemoryRefreshEventRepository struct {
	mu     sync.RWMutex
	events []models.RefreshEvent
}

func NewMemoryRefreshEventRepository() *MemoryRefreshEventRepository {
	return &MemoryRefreshEventRepository{}
}

func (r *MemoryRefreshEventRepository) Create(_ context.Context, event *models.RefreshEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = uint(len(r.events) + 1)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.events = append(r.events, *event)
	return nil
}

func (r *MemoryRefreshEventRepository) ListByProfile(_ context.Context, accountID uint, profileID string, limit int) ([]models.RefreshEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.RefreshEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		ev := r.events[i]
		if ev.AccountID != accountID || ev.ProfileID != profileID {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
