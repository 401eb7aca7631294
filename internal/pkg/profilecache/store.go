package profilecache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/app/repository"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/metrics"
)

// Classification is what gets cached for a profile.
type Classification struct {
	Status           string
	ProfileSource    string
	PreferredGateway string
	RawProfile       gateway.RawProfile
	RefreshedAt      time.Time
}

// Store is the durable profile cache plus the request overlay found in the
// context.
type Store struct {
	repo repository.ProfileCacheRepository
	now  func() time.Time
}

// NewStore creates a cache store on top of repo.
func NewStore(repo repository.ProfileCacheRepository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// Now returns the store clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// SetClock replaces the clock; used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func validKey(accountID uint, profileID string) bool {
	return accountID != 0 && strings.TrimSpace(profileID) != ""
}

// Lookup returns the cached entry or nil when there is none. A miss is not an
// error.
func (s *Store) Lookup(ctx context.Context, accountID uint, profileID string) (*models.ProfileCacheEntry, error) {
	if !validKey(accountID, profileID) {
		return nil, nil
	}
	overlay := OverlayFrom(ctx)
	if e, known := overlay.get(accountID, profileID); known {
		metrics.CacheLookup("overlay")
		return e, nil
	}

	e, err := s.repo.Get(ctx, accountID, profileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.CacheLookup("miss")
			overlay.put(accountID, profileID, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("profile cache lookup %d/%s: %w", accountID, profileID, err)
	}
	metrics.CacheLookup("hit")
	overlay.put(accountID, profileID, e)
	return e, nil
}

// Store upserts the classification for (account, profile), overwriting every
// field and stamping RefreshedAt with the store clock when it is zero.
func (s *Store) Store(ctx context.Context, accountID uint, profileID string, c Classification) (*models.ProfileCacheEntry, error) {
	if !validKey(accountID, profileID) {
		return nil, nil
	}
	raw, err := gateway.EncodeProfile(c.RawProfile)
	if err != nil {
		return nil, fmt.Errorf("encode profile %s: %w", profileID, err)
	}
	refreshed := c.RefreshedAt
	if refreshed.IsZero() {
		refreshed = s.now()
	}
	source := models.NormalizeProfileSource(c.ProfileSource)
	if source == models.ProfileSourceUnknown && c.RawProfile != nil {
		source = c.RawProfile.Source()
	}

	entry := &models.ProfileCacheEntry{
		AccountID:        accountID,
		ProfileID:        profileID,
		Status:           strings.TrimSpace(c.Status),
		ProfileSource:    source,
		PreferredGateway: strings.TrimSpace(c.PreferredGateway),
		RawProfile:       datatypes.JSON(raw),
		RefreshedAt:      refreshed,
	}
	if err := s.repo.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("profile cache store %d/%s: %w", accountID, profileID, err)
	}
	OverlayFrom(ctx).put(accountID, profileID, entry)
	return entry, nil
}

// Invalidate deletes the row and records the miss in the overlay. If the
// delete fails the overlay forgets the key so the next lookup asks storage.
func (s *Store) Invalidate(ctx context.Context, accountID uint, profileID string) error {
	if !validKey(accountID, profileID) {
		return nil
	}
	overlay := OverlayFrom(ctx)
	if err := s.repo.Delete(ctx, accountID, profileID); err != nil {
		overlay.forget(accountID, profileID)
		return fmt.Errorf("profile cache invalidate %d/%s: %w", accountID, profileID, err)
	}
	overlay.put(accountID, profileID, nil)
	return nil
}

// Prefetch loads all entries for the given profiles of one account into the
// overlay in a single query. Profiles without a row are remembered as misses.
// Without an overlay in ctx it is a no-op.
func (s *Store) Prefetch(ctx context.Context, accountID uint, profileIDs []string) error {
	overlay := OverlayFrom(ctx)
	if overlay == nil || accountID == 0 {
		return nil
	}
	ids := lo.Uniq(lo.Filter(profileIDs, func(id string, _ int) bool {
		if strings.TrimSpace(id) == "" {
			return false
		}
		_, known := overlay.get(accountID, id)
		return !known
	}))
	if len(ids) == 0 {
		return nil
	}

	entries, err := s.repo.GetMany(ctx, accountID, ids)
	if err != nil {
		return fmt.Errorf("profile cache prefetch account %d: %w", accountID, err)
	}
	found := make(map[string]struct{}, len(entries))
	for i := range entries {
		overlay.put(accountID, entries[i].ProfileID, &entries[i])
		found[entries[i].ProfileID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			overlay.put(accountID, id, nil)
		}
	}
	log.Debugf("[ProfileCache] Prefetched %d/%d entries for account %d", len(entries), len(ids), accountID)
	return nil
}

// IsExpired reports whether entry is older than ttl by the store clock.
func (s *Store) IsExpired(entry *models.ProfileCacheEntry, ttl time.Duration) bool {
	return IsExpired(entry, ttl, s.now())
}

// Sweep deletes entries not refreshed within horizon.
func (s *Store) Sweep(ctx context.Context, horizon time.Duration) (int64, error) {
	if horizon <= 0 {
		horizon = DefaultCleanupHorizon
	}
	cutoff := s.now().Add(-horizon)
	n, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("profile cache sweep: %w", err)
	}
	if n > 0 {
		log.Infof("[ProfileCache] Swept %d entries older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Decode turns a stored entry back into a Classification.
func Decode(entry *models.ProfileCacheEntry) (Classification, error) {
	if entry == nil {
		return Classification{}, nil
	}
	raw, err := gateway.DecodeProfile(entry.ProfileSource, entry.RawProfile)
	c := Classification{
		Status:           entry.Status,
		ProfileSource:    entry.ProfileSource,
		PreferredGateway: entry.PreferredGateway,
		RawProfile:       raw,
		RefreshedAt:      entry.RefreshedAt,
	}
	return c, err
}
