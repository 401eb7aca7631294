// Package classifier decides a profile's current status and which gateway
// protocol backs it, preferring the profile cache over live gateway calls.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/metrics"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/profilecache"
)

// Enqueuer schedules background work for a profile.
type Enqueuer interface {
	Schedule(ctx context.Context, accountID uint, profileID string, jc models.JobContext) error
}

// Options tune one classification.
type Options struct {
	// ForceRefresh skips the fresh-cache short circuit.
	ForceRefresh bool
	// CacheTTL overrides the configured TTL when > 0.
	CacheTTL time.Duration
	// NoEnqueue suppresses scheduling a background refresh on gateway failure.
	// Queue workers set it so a failing job keeps its attempt count.
	NoEnqueue bool
}

// Result is the outcome of Classify.
type Result struct {
	Status           string             `json:"status"`
	ProfileSource    string             `json:"profile_source"`
	PreferredGateway string             `json:"preferred_gateway"`
	RawProfile       gateway.RawProfile `json:"raw_profile"`
	RefreshedAt      time.Time          `json:"refreshed_at"`
	FromCache        bool               `json:"from_cache"`
	Hint             Candidate          `json:"hint"`
	// Message carries the gateway failure text when the live call failed.
	Message string `json:"message,omitempty"`
}

// Live reports whether the result came from a successful gateway call.
func (r *Result) Live() bool {
	return r != nil && !r.FromCache && !r.RefreshedAt.IsZero()
}

// Classifier resolves profile state through the cache and the gateway.
type Classifier struct {
	store  *profilecache.Store
	client gateway.Client
	queue  Enqueuer
	hints  []HintSource
	ttl    time.Duration
}

// New creates a Classifier. queue may be nil.
func New(store *profilecache.Store, client gateway.Client, queue Enqueuer) *Classifier {
	return &Classifier{
		store:  store,
		client: client,
		queue:  queue,
		hints:  DefaultHintSources,
		ttl:    profilecache.ConfiguredTTL(),
	}
}

// SetHintSources replaces the hint chain.
func (c *Classifier) SetHintSources(sources []HintSource) {
	c.hints = sources
}

// SetTTL replaces the default cache TTL.
func (c *Classifier) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		c.ttl = ttl
	}
}

// TTL returns the default cache TTL.
func (c *Classifier) TTL() time.Duration {
	return c.ttl
}

// Store returns the cache store the classifier reads through.
func (c *Classifier) Store() *profilecache.Store {
	return c.store
}

// Hint resolves the gateway hint for rec from the hint chain, reading the
// cache entry when needed.
func (c *Classifier) Hint(ctx context.Context, rec *models.SubscriptionRecord) (Candidate, error) {
	if rec == nil {
		return ResolveHint(c.hints, HintInput{}), nil
	}
	cached, err := c.store.Lookup(ctx, rec.AccountID, rec.ProfileID)
	if err != nil {
		return Candidate{}, err
	}
	return ResolveHint(c.hints, HintInput{Record: rec, Cached: cached}), nil
}

// Classify returns the best known state of rec's profile. Gateway failures
// never surface as errors; only storage faults do.
func (c *Classifier) Classify(ctx context.Context, rec *models.SubscriptionRecord, opts Options) (*Result, error) {
	if rec == nil || rec.AccountID == 0 || strings.TrimSpace(rec.ProfileID) == "" {
		metrics.Classified("empty")
		return &Result{ProfileSource: models.ProfileSourceUnknown}, nil
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = c.ttl
	}

	cached, err := c.store.Lookup(ctx, rec.AccountID, rec.ProfileID)
	if err != nil {
		return nil, err
	}
	stale := c.decode(cached)

	if !opts.ForceRefresh && cached != nil && !c.store.IsExpired(cached, ttl) {
		metrics.Classified("cache")
		res := fromClassification(stale)
		res.FromCache = true
		res.Hint = ResolveHint(c.hints, HintInput{Record: rec, Cached: cached})
		return res, nil
	}

	hint := ResolveHint(c.hints, HintInput{Record: rec, Cached: cached})
	live, callErr := c.client.GetStatus(ctx, rec, hint.Value)

	if callErr == nil && live != nil && live.Success {
		merged := merge(stale, live, c.store.Now())
		if _, err := c.store.Store(ctx, rec.AccountID, rec.ProfileID, merged); err != nil {
			return nil, err
		}
		metrics.Classified("live")
		res := fromClassification(merged)
		res.Hint = hint
		return res, nil
	}

	msg := failureMessage(live, callErr)
	c.scheduleRefresh(ctx, rec, hint, opts)

	if cached == nil {
		log.Warnf("[Classifier] Gateway status failed for account %d profile %s, no cache: %s", rec.AccountID, rec.ProfileID, msg)
		metrics.Classified("unavailable")
		return &Result{
			ProfileSource: models.NormalizeProfileSource(rec.ProfileSource),
			Hint:          hint,
			Message:       msg,
		}, nil
	}

	log.Warnf("[Classifier] Gateway status failed for account %d profile %s, serving cache from %s: %s",
		rec.AccountID, rec.ProfileID, cached.RefreshedAt.Format(time.RFC3339), msg)
	// The entry keeps its original refreshed_at so it stays expired and the
	// next read retries the gateway.
	if _, err := c.store.Store(ctx, rec.AccountID, rec.ProfileID, stale); err != nil {
		return nil, err
	}
	metrics.Classified("fallback")
	res := fromClassification(stale)
	res.FromCache = true
	res.Hint = hint
	res.Message = msg
	return res, nil
}

func (c *Classifier) decode(entry *models.ProfileCacheEntry) profilecache.Classification {
	cl, err := profilecache.Decode(entry)
	if err != nil {
		log.Warnf("[Classifier] Ignoring undecodable cached profile %d/%s: %v", entry.AccountID, entry.ProfileID, err)
	}
	return cl
}

func (c *Classifier) scheduleRefresh(ctx context.Context, rec *models.SubscriptionRecord, hint Candidate, opts Options) {
	if c.queue == nil || opts.NoEnqueue {
		return
	}
	jc := models.JobContext{
		Operation:   models.JobOperationRefresh,
		GatewayHint: hint.Value,
		Source:      models.RefreshSourceBackground,
		ActorType:   models.ActorTypeSystem,
		Reason:      "gateway status failed",
	}
	if err := c.queue.Schedule(ctx, rec.AccountID, rec.ProfileID, jc); err != nil {
		log.Errorf("[Classifier] Failed to schedule refresh for account %d profile %s: %v", rec.AccountID, rec.ProfileID, err)
	}
}

// merge lays live over stale; each live field wins when present.
func merge(stale profilecache.Classification, live *gateway.StatusResult, now time.Time) profilecache.Classification {
	out := stale
	if s := strings.TrimSpace(live.Status); s != "" {
		out.Status = s
	}
	if src := models.NormalizeProfileSource(live.ProfileSource); src != models.ProfileSourceUnknown {
		out.ProfileSource = src
	} else if live.Profile != nil {
		out.ProfileSource = live.Profile.Source()
	}
	if g := strings.TrimSpace(live.Gateway); g != "" {
		out.PreferredGateway = g
	}
	if live.Profile != nil {
		out.RawProfile = live.Profile
	}
	if out.ProfileSource == "" {
		out.ProfileSource = models.ProfileSourceUnknown
	}
	out.RefreshedAt = now
	return out
}

func fromClassification(cl profilecache.Classification) *Result {
	source := cl.ProfileSource
	if source == "" {
		source = models.ProfileSourceUnknown
	}
	return &Result{
		Status:           cl.Status,
		ProfileSource:    source,
		PreferredGateway: cl.PreferredGateway,
		RawProfile:       cl.RawProfile,
		RefreshedAt:      cl.RefreshedAt,
	}
}

func failureMessage(live *gateway.StatusResult, err error) string {
	if err != nil {
		return fmt.Sprintf("gateway status call failed: %v", err)
	}
	if live != nil && strings.TrimSpace(live.Message) != "" {
		return live.Message
	}
	return "gateway did not report a status"
}
