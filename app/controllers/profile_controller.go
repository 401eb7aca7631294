package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/app/repository"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/lifecycle"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/profiles"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/refreshlog"
)

// ProfileController serves snapshots, refreshes and lifecycle actions for
// the subscription records of one account.
type ProfileController struct {
	subs         repository.SubscriptionRepository
	profiles     *profiles.Service
	orchestrator *lifecycle.Orchestrator
	queue        *jobqueue.Queue
	events       *refreshlog.Log
	validate     *validator.Validate
}

// NewProfileController creates a new profile controller
func NewProfileController(
	subs repository.SubscriptionRepository,
	profileService *profiles.Service,
	orchestrator *lifecycle.Orchestrator,
	queue *jobqueue.Queue,
	events *refreshlog.Log,
) *ProfileController {
	return &ProfileController{
		subs:         subs,
		profiles:     profileService,
		orchestrator: orchestrator,
		queue:        queue,
		events:       events,
		validate:     validator.New(),
	}
}

// actorFields are shared by every write request.
type actorFields struct {
	Source    string `json:"source" validate:"omitempty,oneof=admin_manual background api"`
	ActorType string `json:"actor_type" validate:"omitempty,oneof=system admin customer"`
	ActorID   string `json:"actor_id" validate:"max=64"`
}

type actionRequest struct {
	actorFields
	Note        string `json:"note" validate:"max=255"`
	GatewayHint string `json:"gateway_hint" validate:"max=64"`
	Defer       bool   `json:"defer"`
}

type refreshRequest struct {
	actorFields
	DelaySeconds int    `json:"delay_seconds" validate:"gte=0,lte=86400"`
	Reason       string `json:"reason" validate:"max=255"`
}

type updateRequest struct {
	actorFields
	Payload map[string]interface{} `json:"payload" validate:"required,min=1"`
}

// parseBody decodes an optional JSON body into req and validates it. When it
// reports false the error response has been written.
func (pc *ProfileController) parseBody(c *fiber.Ctx, req interface{}) (bool, error) {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(req); err != nil {
			return false, errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
		}
	}
	if err := pc.validate.Struct(req); err != nil {
		return false, errorJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}
	return true, nil
}

// loadRecord resolves the subscription from the route. It writes the error
// response itself and returns nil when the handler should stop.
func (pc *ProfileController) loadRecord(c *fiber.Ctx) (*models.SubscriptionRecord, error) {
	accountID, ok := accountParam(c)
	profileID := strings.TrimSpace(c.Params("profile"))
	if !ok || profileID == "" {
		return nil, errorJSON(c, fiber.StatusBadRequest, "bad_request", "Account and profile are required")
	}
	rec, err := pc.subs.GetByProfile(c.UserContext(), accountID, profileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorJSON(c, fiber.StatusNotFound, "not_found", "Subscription not found")
		}
		log.Errorf("[ProfileController] Failed to load subscription %d/%s: %v", accountID, profileID, err)
		return nil, errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}
	return rec, nil
}

// HandleListProfiles returns a snapshot for every subscription of an account.
func (pc *ProfileController) HandleListProfiles(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid account")
	}
	records, err := pc.subs.ListByAccount(c.UserContext(), accountID)
	if err != nil {
		log.Errorf("[ProfileController] Failed to list subscriptions of account %d: %v", accountID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscriptions")
	}
	snaps, err := pc.profiles.Snapshots(c.UserContext(), records)
	if err != nil {
		log.Errorf("[ProfileController] Failed to build snapshots for account %d: %v", accountID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load profiles")
	}
	return c.JSON(fiber.Map{"account_id": accountID, "profiles": snaps})
}

// HandleGetProfile returns the snapshot of one profile. With ?refresh=1 the
// gateway is asked first.
func (pc *ProfileController) HandleGetProfile(c *fiber.Ctx) error {
	rec, err := pc.loadRecord(c)
	if rec == nil {
		return err
	}
	ctx := c.UserContext()

	response := fiber.Map{"subscription": rec}
	if c.QueryBool("refresh") {
		res, err := pc.profiles.Refresh(ctx, rec)
		if err != nil {
			log.Errorf("[ProfileController] Refresh of %s failed: %v", rec.ProfileID, err)
			return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to refresh profile")
		}
		response["refresh"] = fiber.Map{
			"live":        res.Live(),
			"from_cache":  res.FromCache,
			"message":     res.Message,
			"hint":        res.Hint.Value,
			"hint_source": res.Hint.Source,
		}
	}

	snap, err := pc.profiles.BuildSnapshot(ctx, rec)
	if err != nil {
		log.Errorf("[ProfileController] Snapshot of %s failed: %v", rec.ProfileID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load profile")
	}
	response["snapshot"] = snap
	return c.JSON(response)
}

// HandleRefreshProfile queues a background refresh.
func (pc *ProfileController) HandleRefreshProfile(c *fiber.Ctx) error {
	var req refreshRequest
	if ok, err := pc.parseBody(c, &req); !ok {
		return err
	}
	rec, err := pc.loadRecord(c)
	if rec == nil {
		return err
	}

	source := req.Source
	if source == "" {
		source = models.RefreshSourceAPI
	}
	opts := jobqueue.EnqueueOptions{
		Context: models.JobContext{
			Operation:   models.JobOperationRefresh,
			GatewayHint: rec.GatewayHint,
			Source:      source,
			ActorType:   req.ActorType,
			ActorID:     req.ActorID,
			Reason:      req.Reason,
		},
	}
	if req.DelaySeconds > 0 {
		opts.AvailableAt = time.Now().Add(time.Duration(req.DelaySeconds) * time.Second)
	}
	job, err := pc.queue.Enqueue(c.UserContext(), rec.AccountID, rec.ProfileID, opts)
	if err != nil {
		log.Errorf("[ProfileController] Failed to enqueue refresh for %s: %v", rec.ProfileID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to queue refresh")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":       job.ID,
		"available_at": job.AvailableAt.UTC().Format(time.RFC3339),
	})
}

func (pc *ProfileController) HandleCancel(c *fiber.Ctx) error {
	return pc.handleAction(c, lifecycle.ActionCancel)
}

func (pc *ProfileController) HandleSuspend(c *fiber.Ctx) error {
	return pc.handleAction(c, lifecycle.ActionSuspend)
}

func (pc *ProfileController) HandleReactivate(c *fiber.Ctx) error {
	return pc.handleAction(c, lifecycle.ActionReactivate)
}

func (pc *ProfileController) handleAction(c *fiber.Ctx, action string) error {
	var req actionRequest
	if ok, err := pc.parseBody(c, &req); !ok {
		return err
	}
	rec, err := pc.loadRecord(c)
	if rec == nil {
		return err
	}

	opts := lifecycle.Options{
		Note:        req.Note,
		Source:      req.Source,
		ActorType:   req.ActorType,
		ActorID:     req.ActorID,
		GatewayHint: req.GatewayHint,
		Record:      rec,
		Defer:       req.Defer,
	}
	ctx := c.UserContext()
	var res *lifecycle.Result
	switch action {
	case lifecycle.ActionCancel:
		res, err = pc.orchestrator.CancelNow(ctx, rec.AccountID, rec.ProfileID, opts)
	case lifecycle.ActionSuspend:
		res, err = pc.orchestrator.Suspend(ctx, rec.AccountID, rec.ProfileID, opts)
	default:
		res, err = pc.orchestrator.Reactivate(ctx, rec.AccountID, rec.ProfileID, opts)
	}
	return pc.respondLifecycle(c, action, res, err)
}

// HandleUpdateBillingCycles forwards a billing cycle change to the gateway.
func (pc *ProfileController) HandleUpdateBillingCycles(c *fiber.Ctx) error {
	return pc.handleUpdate(c, lifecycle.ActionUpdateBillingCycles)
}

// HandleUpdatePaymentSource forwards a payment source change to the gateway.
func (pc *ProfileController) HandleUpdatePaymentSource(c *fiber.Ctx) error {
	return pc.handleUpdate(c, lifecycle.ActionUpdatePaymentSource)
}

func (pc *ProfileController) handleUpdate(c *fiber.Ctx, action string) error {
	var req updateRequest
	if ok, err := pc.parseBody(c, &req); !ok {
		return err
	}
	rec, err := pc.loadRecord(c)
	if rec == nil {
		return err
	}

	opts := lifecycle.Options{
		Source:    req.Source,
		ActorType: req.ActorType,
		ActorID:   req.ActorID,
		Record:    rec,
	}
	var res *lifecycle.Result
	if action == lifecycle.ActionUpdateBillingCycles {
		res, err = pc.orchestrator.UpdateBillingCycles(c.UserContext(), rec.AccountID, rec.ProfileID, req.Payload, opts)
	} else {
		res, err = pc.orchestrator.UpdatePaymentSource(c.UserContext(), rec.AccountID, rec.ProfileID, req.Payload, opts)
	}
	return pc.respondLifecycle(c, action, res, err)
}

func (pc *ProfileController) respondLifecycle(c *fiber.Ctx, action string, res *lifecycle.Result, err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrTerminalState), errors.Is(err, lifecycle.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(res)
	case err != nil:
		log.Errorf("[ProfileController] %s failed: %v", action, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Action failed")
	case !res.Success:
		return c.Status(fiber.StatusBadGateway).JSON(res)
	case res.Queued:
		return c.Status(fiber.StatusAccepted).JSON(res)
	}
	return c.JSON(res)
}

// HandleListEvents returns the audit trail of a profile, newest first.
func (pc *ProfileController) HandleListEvents(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	profileID := strings.TrimSpace(c.Params("profile"))
	if !ok || profileID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Account and profile are required")
	}
	limit := c.QueryInt("limit", refreshlog.DefaultListLimit)
	if limit <= 0 || limit > 500 {
		limit = refreshlog.DefaultListLimit
	}
	events, err := pc.events.List(c.UserContext(), accountID, profileID, limit)
	if err != nil {
		log.Errorf("[ProfileController] Failed to list events for %d/%s: %v", accountID, profileID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load events")
	}
	if events == nil {
		events = []models.RefreshEvent{}
	}
	return c.JSON(fiber.Map{"events": events})
}
