package classifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/app/repository"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway/gatewaytest"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/profilecache"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type scheduled struct {
	accountID uint
	profileID string
	ctx       models.JobContext
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []scheduled
}

func (q *recordingQueue) Schedule(_ context.Context, accountID uint, profileID string, jc models.JobContext) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, scheduled{accountID, profileID, jc})
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fixture struct {
	classifier *Classifier
	store      *profilecache.Store
	repo       *repository.MemoryProfileCacheRepository
	client     *gatewaytest.Client
	queue      *recordingQueue
}

func newFixture() *fixture {
	repo := repository.NewMemoryProfileCacheRepository()
	store := profilecache.NewStore(repo)
	store.SetClock(func() time.Time { return now })
	client := gatewaytest.New()
	queue := &recordingQueue{}
	c := New(store, client, queue)
	c.SetTTL(5 * time.Minute)
	return &fixture{classifier: c, store: store, repo: repo, client: client, queue: queue}
}

func record() *models.SubscriptionRecord {
	return &models.SubscriptionRecord{ID: 1, AccountID: 7, ProfileID: "P-1", Status: models.SubscriptionStatusActive}
}

func (f *fixture) seed(t *testing.T, refreshedAt time.Time) {
	t.Helper()
	_, err := f.store.Store(context.Background(), 7, "P-1", profilecache.Classification{
		Status:           "Active",
		ProfileSource:    models.ProfileSourceLegacy,
		PreferredGateway: gateway.GatewayLegacy,
		RawProfile:       gateway.LegacyProfile{"STATUS": "Active", "AMT": "10.00"},
		RefreshedAt:      refreshedAt,
	})
	require.NoError(t, err)
}

func TestFreshCacheShortCircuits(t *testing.T) {
	f := newFixture()
	f.seed(t, now.Add(-time.Minute))

	res, err := f.classifier.Classify(context.Background(), record(), Options{})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "Active", res.Status)
	assert.Equal(t, models.ProfileSourceLegacy, res.ProfileSource)
	assert.Equal(t, 0, f.client.CallCount("get_status"))
}

func TestAbsentCacheCallsGateway(t *testing.T) {
	f := newFixture()
	f.client.SetStatus(&gateway.StatusResult{
		Success: true,
		Status:  "ACTIVE",
		Profile: gateway.ModernProfile{"status": "ACTIVE", "plan_id": "P-PLAN"},
		Gateway: gateway.GatewayModern,
	}, nil)

	entry, err := f.store.Lookup(context.Background(), 7, "P-1")
	require.NoError(t, err)
	assert.True(t, f.store.IsExpired(entry, 5*time.Minute))

	res, err := f.classifier.Classify(context.Background(), record(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.client.CallCount("get_status"))
	assert.False(t, res.FromCache)
	assert.True(t, res.Live())
	assert.Equal(t, "ACTIVE", res.Status)
	assert.Equal(t, models.ProfileSourceModern, res.ProfileSource)
	assert.Equal(t, gateway.GatewayModern, res.PreferredGateway)
	assert.Equal(t, now, res.RefreshedAt)

	stored, err := f.store.Lookup(context.Background(), 7, "P-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, gateway.GatewayModern, stored.PreferredGateway)
}

func TestForceRefreshBypassesFreshCache(t *testing.T) {
	f := newFixture()
	f.seed(t, now.Add(-time.Minute))
	f.client.SetStatus(&gateway.StatusResult{Success: true, Status: "Suspended"}, nil)

	res, err := f.classifier.Classify(context.Background(), record(), Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, "Suspended", res.Status)
	// fields the live call did not report are kept from the cache
	assert.Equal(t, models.ProfileSourceLegacy, res.ProfileSource)
	assert.Equal(t, gateway.GatewayLegacy, res.PreferredGateway)
	assert.Equal(t, gateway.LegacyProfile{"STATUS": "Active", "AMT": "10.00"}, res.RawProfile)
	assert.Equal(t, gateway.GatewayLegacy, f.client.Calls()[0].Hint)
}

func TestGatewayFailureFallsBackToStaleCache(t *testing.T) {
	f := newFixture()
	stale := now.Add(-2 * time.Hour)
	f.seed(t, stale)
	f.client.SetStatus(&gateway.StatusResult{Success: false, Message: "Profile ID is not valid"}, nil)

	res, err := f.classifier.Classify(context.Background(), record(), Options{})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "Active", res.Status)
	assert.Equal(t, "Profile ID is not valid", res.Message)
	assert.Equal(t, stale, res.RefreshedAt)

	assert.Equal(t, 1, f.repo.Len())
	require.Equal(t, 1, f.queue.count())
	assert.Equal(t, models.JobOperationRefresh, f.queue.jobs[0].ctx.Operation)
	assert.Equal(t, models.RefreshSourceBackground, f.queue.jobs[0].ctx.Source)
}

func TestGatewayErrorFallsBackToStaleCache(t *testing.T) {
	f := newFixture()
	f.seed(t, now.Add(-2*time.Hour))
	f.client.SetStatus(nil, gateway.ErrTimeout)

	res, err := f.classifier.Classify(context.Background(), record(), Options{NoEnqueue: true})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Contains(t, res.Message, "timed out")
	assert.Equal(t, 0, f.queue.count())
}

func TestGatewayFailureWithoutCache(t *testing.T) {
	f := newFixture()
	f.client.SetStatus(nil, errors.New("connection refused"))

	res, err := f.classifier.Classify(context.Background(), record(), Options{})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.False(t, res.Live())
	assert.Empty(t, res.Status)
	assert.Contains(t, res.Message, "connection refused")
	assert.Equal(t, 0, f.repo.Len())
	assert.Equal(t, 1, f.queue.count())
}

func TestBlankProfileShortCircuits(t *testing.T) {
	f := newFixture()

	for _, rec := range []*models.SubscriptionRecord{
		nil,
		{AccountID: 7, ProfileID: "  "},
		{AccountID: 0, ProfileID: "P-1"},
	} {
		res, err := f.classifier.Classify(context.Background(), rec, Options{})
		require.NoError(t, err)
		assert.False(t, res.FromCache)
		assert.Empty(t, res.Status)
	}
	assert.Equal(t, 0, f.client.CallCount("get_status"))
	assert.Equal(t, 0, f.repo.Reads())
}

func TestHintChainOrder(t *testing.T) {
	cached := &models.ProfileCacheEntry{PreferredGateway: "", ProfileSource: models.ProfileSourceModern}

	tests := []struct {
		name   string
		in     HintInput
		value  string
		conf   Confidence
		source string
	}{
		{
			name:   "explicit record hint",
			in:     HintInput{Record: &models.SubscriptionRecord{GatewayHint: "legacy"}, Cached: cached},
			value:  "legacy",
			conf:   ConfidenceHigh,
			source: "record_hint",
		},
		{
			name:   "cached preferred gateway",
			in:     HintInput{Record: &models.SubscriptionRecord{}, Cached: &models.ProfileCacheEntry{PreferredGateway: "modern"}},
			value:  "modern",
			conf:   ConfidenceHigh,
			source: "cached_gateway",
		},
		{
			name:   "cached source",
			in:     HintInput{Record: &models.SubscriptionRecord{}, Cached: cached},
			value:  models.ProfileSourceModern,
			conf:   ConfidenceHigh,
			source: "cached_source",
		},
		{
			name:   "record source",
			in:     HintInput{Record: &models.SubscriptionRecord{ProfileSource: "legacy", PlanID: "P-PLAN"}},
			value:  models.ProfileSourceLegacy,
			conf:   ConfidenceMedium,
			source: "record_source",
		},
		{
			name:   "plan id shape",
			in:     HintInput{Record: &models.SubscriptionRecord{ProfileSource: "unknown", PlanID: "P-PLAN"}},
			value:  gateway.GatewayModern,
			conf:   ConfidenceMedium,
			source: "profile_shape",
		},
		{
			name:   "no opinion",
			in:     HintInput{Record: &models.SubscriptionRecord{}},
			conf:   ConfidenceNone,
			source: "none",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveHint(DefaultHintSources, tt.in)
			assert.Equal(t, tt.value, got.Value)
			assert.Equal(t, tt.conf, got.Confidence)
			assert.Equal(t, tt.source, got.Source)
		})
	}
}

func TestCustomHintSource(t *testing.T) {
	f := newFixture()
	f.classifier.SetHintSources(append([]HintSource{{
		Label:      "override",
		Confidence: ConfidenceLow,
		Extract:    func(HintInput) string { return "sandbox" },
	}}, DefaultHintSources...))

	hint, err := f.classifier.Hint(context.Background(), record())
	require.NoError(t, err)
	assert.Equal(t, "sandbox", hint.Value)
	assert.Equal(t, "low", hint.Confidence.String())
}
