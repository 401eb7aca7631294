// Package profiles builds display snapshots for subscription records out of
// the profile cache, and warms the cache for list views.
package profiles

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/lo"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/classifier"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/normalizer"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/profilecache"
)

// Enqueuer schedules background work for a profile.
type Enqueuer interface {
	Schedule(ctx context.Context, accountID uint, profileID string, jc models.JobContext) error
}

// Service is the presentation path. Reads never call the gateway; a missing
// or expired cache entry yields a stale snapshot and a queued refresh.
type Service struct {
	classifier *classifier.Classifier
	store      *profilecache.Store
	queue      Enqueuer
}

// New creates the service. queue may be nil, in which case stale snapshots
// are not followed by a refresh.
func New(c *classifier.Classifier, queue Enqueuer) *Service {
	return &Service{classifier: c, store: c.Store(), queue: queue}
}

// BuildSnapshot returns the display snapshot for rec.
func (s *Service) BuildSnapshot(ctx context.Context, rec *models.SubscriptionRecord) (*normalizer.Snapshot, error) {
	if rec == nil || rec.AccountID == 0 || strings.TrimSpace(rec.ProfileID) == "" {
		snap := normalizer.Normalize(nil, models.ProfileSourceUnknown)
		return &snap, nil
	}

	entry, err := s.store.Lookup(ctx, rec.AccountID, rec.ProfileID)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		snap := normalizer.Normalize(nil, models.NormalizeProfileSource(rec.ProfileSource))
		snap.ProfileID = rec.ProfileID
		snap.StatusDisplay = normalizer.DisplayStatus(rec.Status)
		snap.StatusCategory = normalizer.Categorize(rec.Status)
		snap.Stale = true
		s.requestRefresh(ctx, rec, "cache missing")
		return &snap, nil
	}

	cl, derr := profilecache.Decode(entry)
	if derr != nil {
		log.Warnf("[Profiles] Undecodable cached profile %d/%s: %v", rec.AccountID, rec.ProfileID, derr)
	}
	snap := normalizer.Normalize(cl.RawProfile, entry.ProfileSource)
	snap.ProfileID = rec.ProfileID
	snap.RefreshedAt = entry.RefreshedAt
	if snap.StatusDisplay == "" {
		snap.StatusDisplay = normalizer.DisplayStatus(entry.Status)
		snap.StatusCategory = normalizer.Categorize(entry.Status)
	}
	if s.store.IsExpired(entry, s.classifier.TTL()) {
		snap.Stale = true
		s.requestRefresh(ctx, rec, "cache expired")
	}
	return &snap, nil
}

// Snapshots prefetches the cache for records and builds one snapshot each,
// in input order.
func (s *Service) Snapshots(ctx context.Context, records []models.SubscriptionRecord) ([]normalizer.Snapshot, error) {
	ctx = s.withOverlay(ctx)
	if err := s.PrefetchMany(ctx, records); err != nil {
		return nil, err
	}
	out := make([]normalizer.Snapshot, 0, len(records))
	for i := range records {
		snap, err := s.BuildSnapshot(ctx, &records[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, nil
}

// Refresh classifies rec against the gateway, bypassing a fresh cache.
func (s *Service) Refresh(ctx context.Context, rec *models.SubscriptionRecord) (*classifier.Result, error) {
	return s.classifier.Classify(ctx, rec, classifier.Options{ForceRefresh: true})
}

// Prefetch warms the overlay in ctx for profiles of one account.
func (s *Service) Prefetch(ctx context.Context, accountID uint, profileIDs []string) error {
	return s.store.Prefetch(ctx, accountID, profileIDs)
}

// PrefetchMany warms the overlay for records that may span accounts, with
// one round trip per account.
func (s *Service) PrefetchMany(ctx context.Context, records []models.SubscriptionRecord) error {
	byAccount := lo.GroupBy(records, func(r models.SubscriptionRecord) uint { return r.AccountID })
	for accountID, recs := range byAccount {
		ids := lo.Map(recs, func(r models.SubscriptionRecord, _ int) string { return r.ProfileID })
		if err := s.store.Prefetch(ctx, accountID, ids); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) withOverlay(ctx context.Context) context.Context {
	if profilecache.OverlayFrom(ctx) != nil {
		return ctx
	}
	return profilecache.WithOverlay(ctx, profilecache.NewOverlay())
}

func (s *Service) requestRefresh(ctx context.Context, rec *models.SubscriptionRecord, reason string) {
	if s.queue == nil {
		return
	}
	jc := models.JobContext{
		Operation:   models.JobOperationRefresh,
		GatewayHint: rec.GatewayHint,
		Source:      models.RefreshSourceBackground,
		ActorType:   models.ActorTypeSystem,
		Reason:      reason,
	}
	if err := s.queue.Schedule(ctx, rec.AccountID, rec.ProfileID, jc); err != nil {
		log.Errorf("[Profiles] Failed to schedule refresh for account %d profile %s: %v", rec.AccountID, rec.ProfileID, err)
	}
}
