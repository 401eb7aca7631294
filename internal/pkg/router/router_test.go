package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/app/repository"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/classifier"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway/gatewaytest"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/lifecycle"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/profilecache"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/profiles"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/refreshlog"
)

const testToken = "secret"

type testServer struct {
	app    *fiber.App
	subs   *repository.MemorySubscriptionRepository
	client *gatewaytest.Client
	queue  *jobqueue.Queue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repos := repository.NewMemoryRepositories()
	subs := repos.Subscription.(*repository.MemorySubscriptionRepository)
	subs.Put(&models.SubscriptionRecord{ID: 1, AccountID: 7, ProfileID: "P-1", Status: models.SubscriptionStatusActive, ProfileSource: models.ProfileSourceLegacy})
	subs.Put(&models.SubscriptionRecord{ID: 2, AccountID: 7, ProfileID: "I-2", Status: models.SubscriptionStatusSuspended, ProfileSource: models.ProfileSourceModern})

	queue := jobqueue.NewQueue(repos.RefreshJob, nil, jobqueue.DefaultConfig())
	store := profilecache.NewStore(repos.ProfileCache)
	client := gatewaytest.New()
	c := classifier.New(store, client, queue)
	events := refreshlog.New(repos.RefreshEvent)

	app := fiber.New()
	InstallRouter(app, Services{
		Subscriptions: subs,
		Profiles:      profiles.New(c, queue),
		Orchestrator:  lifecycle.New(subs, c, client, events, queue),
		Queue:         queue,
		Events:        events,
		APIToken:      testToken,
		RateLimit:     1000,
	})
	return &testServer{app: app, subs: subs, client: client, queue: queue}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-API-Key", testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestAPIRequiresToken(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/v1/accounts/7/profiles/P-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestGetProfileWithoutCache(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/api/v1/accounts/7/profiles/P-1", "")
	require.Equal(t, fiber.StatusOK, status)
	snap := body["snapshot"].(map[string]interface{})
	assert.Equal(t, true, snap["stale"])
	assert.Equal(t, "Active", snap["status_display"])
	assert.Empty(t, s.client.Calls())

	job, err := s.queue.Get(context.Background(), 7, "P-1")
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestGetProfileNotFound(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/api/v1/accounts/7/profiles/P-404", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])

	status, _ = s.do(t, "GET", "/api/v1/accounts/abc/profiles/P-1", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestGetProfileWithRefresh(t *testing.T) {
	s := newTestServer(t)
	s.client.SetStatus(&gateway.StatusResult{
		Success:       true,
		Status:        "ActiveProfile",
		Profile:       gateway.LegacyProfile{"STATUS": "ActiveProfile", "AMT": "19.9", "CURRENCYCODE": "EUR"},
		ProfileSource: models.ProfileSourceLegacy,
	}, nil)

	status, body := s.do(t, "GET", "/api/v1/accounts/7/profiles/P-1?refresh=1", "")
	require.Equal(t, fiber.StatusOK, status)
	refresh := body["refresh"].(map[string]interface{})
	assert.Equal(t, true, refresh["live"])
	snap := body["snapshot"].(map[string]interface{})
	assert.Equal(t, false, snap["stale"])
	assert.Equal(t, "19.90", snap["amount"])
	assert.Equal(t, "EUR", snap["currency"])
}

func TestListProfiles(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/api/v1/accounts/7/profiles", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["profiles"], 2)
}

func TestCancelThenSuspendIsRejected(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "POST", "/api/v1/accounts/7/profiles/P-1/cancel", `{"note":"customer request","source":"admin_manual","actor_type":"admin","actor_id":"3"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, models.SubscriptionStatusCancelled, body["status"])

	status, body = s.do(t, "POST", "/api/v1/accounts/7/profiles/P-1/suspend", "")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, lifecycle.ErrTerminalState.Error(), body["message"])

	status, body = s.do(t, "GET", "/api/v1/accounts/7/profiles/P-1/events", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["events"], 2)
}

func TestDeferredCancelIsQueued(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "POST", "/api/v1/accounts/7/profiles/P-1/cancel", `{"defer":true}`)
	require.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, true, body["queued"])
	assert.Zero(t, s.client.CallCount("cancel"))

	status, body = s.do(t, "GET", "/api/v1/accounts/7/queue/metrics", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])
}

func TestGatewayFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t)
	s.client.SetAction("reactivate", &gateway.ActionResult{Success: false, Message: "Profile is locked"})

	status, body := s.do(t, "POST", "/api/v1/accounts/7/profiles/I-2/reactivate", "")
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "Profile is locked", body["message"])
	assert.Equal(t, false, body["success"])
}

func TestRefreshEndpoint(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, "POST", "/api/v1/accounts/7/profiles/P-1/refresh", `{"delay_seconds":-5}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, _ = s.do(t, "POST", "/api/v1/accounts/7/profiles/P-1/refresh", `{"source":"somewhere"}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, body := s.do(t, "POST", "/api/v1/accounts/7/profiles/P-1/refresh", `{"reason":"support ticket"}`)
	require.Equal(t, fiber.StatusAccepted, status)
	assert.NotZero(t, body["job_id"])

	job, err := s.queue.Get(context.Background(), 7, "P-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	jc := job.DecodeContext()
	assert.Equal(t, models.RefreshSourceAPI, jc.Source)
	assert.Equal(t, "support ticket", jc.Reason)
}

func TestBillingCycleUpdate(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, "POST", "/api/v1/accounts/7/profiles/I-2/billing-cycles", `{}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, body := s.do(t, "POST", "/api/v1/accounts/7/profiles/I-2/billing-cycles", `{"payload":{"total_cycles":12}}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])

	calls := s.client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "update_billing_cycles", calls[0].Op)
	assert.EqualValues(t, 12, calls[0].Payload["total_cycles"])
}

func TestQueueEndpointsAndHealth(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/api/v1/queue/metrics", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 0, body["total"])

	status, body = s.do(t, "GET", "/api/v1/queue/stuck", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["jobs"], 0)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = s.app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
