// Package lifecycle runs cancel/suspend/reactivate and billing updates
// against the gateway and keeps local state, cache and audit log in step.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/app/repository"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/classifier"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/metrics"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/refreshlog"
)

var (
	// ErrTerminalState is returned when an action targets a cancelled record.
	ErrTerminalState = errors.New("subscription is already cancelled")
	// ErrInvalidTransition is returned when the local status does not allow the action.
	ErrInvalidTransition = errors.New("status transition not allowed")
)

// Action names, also used as metric and audit labels.
const (
	ActionCancel              = "cancel"
	ActionSuspend             = "suspend"
	ActionReactivate          = "reactivate"
	ActionUpdateBillingCycles = "update_billing_cycles"
	ActionUpdatePaymentSource = "update_payment_source"
)

var targetStatus = map[string]string{
	ActionCancel:     models.SubscriptionStatusCancelled,
	ActionSuspend:    models.SubscriptionStatusSuspended,
	ActionReactivate: models.SubscriptionStatusActive,
}

var successMessages = map[string]string{
	ActionCancel:              "Subscription cancelled.",
	ActionSuspend:             "Subscription suspended.",
	ActionReactivate:          "Subscription reactivated.",
	ActionUpdateBillingCycles: "Billing cycles updated.",
	ActionUpdatePaymentSource: "Payment source updated.",
}

// Enqueuer schedules background work for a profile.
type Enqueuer interface {
	Schedule(ctx context.Context, accountID uint, profileID string, jc models.JobContext) error
}

// Hook runs after a successful gateway action, e.g. to detach a linked
// benefit. Its error is logged and reported in the result details but does
// not undo the action.
type Hook func(ctx context.Context, rec *models.SubscriptionRecord) error

// Options for a lifecycle action.
type Options struct {
	Note        string
	Source      string
	ActorType   string
	ActorID     string
	GatewayHint string
	// Record skips the lookup when the caller already has it.
	Record       *models.SubscriptionRecord
	AfterSuccess Hook
	// Defer queues a cancellation for a background worker instead of calling
	// the gateway inline. Only honoured by CancelNow.
	Defer bool
}

// Result is the structured outcome of an action.
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Status  string                 `json:"status,omitempty"`
	Queued  bool                   `json:"queued,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Orchestrator coordinates the gateway, subscription records, cache and log.
type Orchestrator struct {
	subs       repository.SubscriptionRepository
	classifier *classifier.Classifier
	client     gateway.Client
	events     *refreshlog.Log
	queue      Enqueuer
}

// New creates an Orchestrator. queue may be nil, which disables Defer.
func New(subs repository.SubscriptionRepository, c *classifier.Classifier, client gateway.Client, events *refreshlog.Log, queue Enqueuer) *Orchestrator {
	return &Orchestrator{subs: subs, classifier: c, client: client, events: events, queue: queue}
}

func (o *Orchestrator) CancelNow(ctx context.Context, accountID uint, profileID string, opts Options) (*Result, error) {
	return o.run(ctx, ActionCancel, accountID, profileID, nil, opts)
}

func (o *Orchestrator) Suspend(ctx context.Context, accountID uint, profileID string, opts Options) (*Result, error) {
	opts.Defer = false
	return o.run(ctx, ActionSuspend, accountID, profileID, nil, opts)
}

func (o *Orchestrator) Reactivate(ctx context.Context, accountID uint, profileID string, opts Options) (*Result, error) {
	opts.Defer = false
	return o.run(ctx, ActionReactivate, accountID, profileID, nil, opts)
}

// UpdateBillingCycles forwards payload to the gateway and drops the cached
// profile so the next read picks up the new schedule.
func (o *Orchestrator) UpdateBillingCycles(ctx context.Context, accountID uint, profileID string, payload map[string]interface{}, opts Options) (*Result, error) {
	opts.Defer = false
	return o.run(ctx, ActionUpdateBillingCycles, accountID, profileID, payload, opts)
}

func (o *Orchestrator) UpdatePaymentSource(ctx context.Context, accountID uint, profileID string, payload map[string]interface{}, opts Options) (*Result, error) {
	opts.Defer = false
	return o.run(ctx, ActionUpdatePaymentSource, accountID, profileID, payload, opts)
}

func (o *Orchestrator) resolve(ctx context.Context, accountID uint, profileID string, opts Options) (*models.SubscriptionRecord, error) {
	if opts.Record != nil {
		return opts.Record, nil
	}
	rec, err := o.subs.GetByProfile(ctx, accountID, profileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load subscription %d/%s: %w", accountID, profileID, err)
	}
	return rec, nil
}

func (o *Orchestrator) run(ctx context.Context, action string, accountID uint, profileID string, payload map[string]interface{}, opts Options) (*Result, error) {
	if accountID == 0 || strings.TrimSpace(profileID) == "" {
		return &Result{Success: false, Message: "account and profile are required"}, nil
	}
	rec, err := o.resolve(ctx, accountID, profileID, opts)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &Result{Success: false, Message: "subscription not found"}, nil
	}

	target, changesStatus := targetStatus[action]
	if rec.IsCancelled() {
		if action == ActionCancel {
			res := &Result{Success: true, Message: ErrTerminalState.Error(), Status: models.SubscriptionStatusCancelled}
			o.audit(ctx, action, rec, opts, res, "")
			return res, nil
		}
		res := &Result{Success: false, Message: ErrTerminalState.Error(), Status: models.SubscriptionStatusCancelled}
		o.audit(ctx, action, rec, opts, res, "")
		metrics.LifecycleAction(action, false)
		return res, ErrTerminalState
	}
	if changesStatus && !models.CanTransition(rec.Status, target) {
		res := &Result{
			Success: false,
			Message: fmt.Sprintf("cannot %s a subscription that is %s", action, rec.Status),
			Status:  rec.Status,
		}
		o.audit(ctx, action, rec, opts, res, "")
		metrics.LifecycleAction(action, false)
		return res, ErrInvalidTransition
	}

	hint := strings.TrimSpace(opts.GatewayHint)
	if hint == "" && o.classifier != nil {
		candidate, err := o.classifier.Hint(ctx, rec)
		if err != nil {
			return nil, err
		}
		hint = candidate.Value
	}

	if action == ActionCancel && opts.Defer && o.queue != nil {
		return o.deferCancel(ctx, rec, hint, opts)
	}

	gw, callErr := o.call(ctx, action, rec, opts.Note, hint, payload)
	res := &Result{Status: rec.Status}
	if callErr != nil || gw == nil || !gw.Success {
		res.Message = failureMessage(action, gw, callErr)
		if gw != nil {
			res.Details = gw.Details
		}
		log.Warnf("[Lifecycle] %s failed for account %d profile %s: %s", action, rec.AccountID, rec.ProfileID, res.Message)
		o.audit(ctx, action, rec, opts, res, hint)
		metrics.LifecycleAction(action, false)
		return res, nil
	}

	res.Success = true
	res.Details = gw.Details
	res.Message = strings.TrimSpace(gw.Message)
	if res.Message == "" {
		res.Message = successMessages[action]
	}
	if changesStatus {
		if models.NormalizeSubscriptionStatus(rec.Status) != target {
			if err := o.subs.UpdateStatus(ctx, rec.ID, target); err != nil {
				return nil, fmt.Errorf("update subscription %d status: %w", rec.ID, err)
			}
		}
		rec.Status = target
		res.Status = target
	}
	if o.classifier != nil {
		if err := o.classifier.Store().Invalidate(ctx, rec.AccountID, rec.ProfileID); err != nil {
			log.Errorf("[Lifecycle] Cache invalidation failed for account %d profile %s: %v", rec.AccountID, rec.ProfileID, err)
		}
	}
	if opts.AfterSuccess != nil {
		if err := opts.AfterSuccess(ctx, rec); err != nil {
			log.Warnf("[Lifecycle] After-%s hook failed for profile %s: %v", action, rec.ProfileID, err)
			if res.Details == nil {
				res.Details = map[string]interface{}{}
			}
			res.Details["hook_error"] = err.Error()
		}
	}

	log.Infof("[Lifecycle] %s succeeded for account %d profile %s (status %s)", action, rec.AccountID, rec.ProfileID, res.Status)
	o.audit(ctx, action, rec, opts, res, hint)
	metrics.LifecycleAction(action, true)
	return res, nil
}

func (o *Orchestrator) call(ctx context.Context, action string, rec *models.SubscriptionRecord, note, hint string, payload map[string]interface{}) (*gateway.ActionResult, error) {
	switch action {
	case ActionCancel:
		return o.client.Cancel(ctx, rec, note, hint)
	case ActionSuspend:
		return o.client.Suspend(ctx, rec, note, hint)
	case ActionReactivate:
		return o.client.Reactivate(ctx, rec, note, hint)
	case ActionUpdateBillingCycles:
		return o.client.UpdateBillingCycles(ctx, rec, payload)
	case ActionUpdatePaymentSource:
		return o.client.UpdatePaymentSource(ctx, rec, payload)
	}
	return nil, fmt.Errorf("unknown lifecycle action %q", action)
}

func (o *Orchestrator) deferCancel(ctx context.Context, rec *models.SubscriptionRecord, hint string, opts Options) (*Result, error) {
	jc := models.JobContext{
		Operation:   models.JobOperationCancel,
		GatewayHint: hint,
		Source:      models.NormalizeRefreshSource(opts.Source),
		ActorType:   opts.ActorType,
		ActorID:     opts.ActorID,
		Note:        opts.Note,
	}
	if err := o.queue.Schedule(ctx, rec.AccountID, rec.ProfileID, jc); err != nil {
		return nil, fmt.Errorf("queue cancellation for %s: %w", rec.ProfileID, err)
	}
	res := &Result{Success: true, Queued: true, Message: "Cancellation queued.", Status: rec.Status}
	log.Infof("[Lifecycle] cancel queued for account %d profile %s", rec.AccountID, rec.ProfileID)
	o.audit(ctx, ActionCancel, rec, opts, res, hint)
	return res, nil
}

func (o *Orchestrator) audit(ctx context.Context, action string, rec *models.SubscriptionRecord, opts Options, res *Result, hint string) {
	if o.events == nil {
		return
	}
	c := map[string]interface{}{
		"action":  action,
		"success": res.Success,
		"status":  res.Status,
		"message": res.Message,
	}
	if res.Queued {
		c["queued"] = true
	}
	if opts.Note != "" {
		c["note"] = opts.Note
	}
	if hint != "" {
		c["gateway_hint"] = hint
	}
	if _, err := o.events.Record(ctx, refreshlog.Entry{
		AccountID: rec.AccountID,
		ProfileID: rec.ProfileID,
		Source:    opts.Source,
		ActorType: opts.ActorType,
		ActorID:   opts.ActorID,
		Context:   c,
	}); err != nil {
		log.Errorf("[Lifecycle] %v", err)
	}
}

func failureMessage(action string, gw *gateway.ActionResult, err error) string {
	if gw != nil && strings.TrimSpace(gw.Message) != "" {
		return gw.Message
	}
	if err != nil {
		log.Debugf("[Lifecycle] %s gateway error: %v", action, err)
	}
	return fmt.Sprintf("The payment gateway could not %s. Please try again later.", failurePhrases[action])
}

var failurePhrases = map[string]string{
	ActionCancel:              "cancel the subscription",
	ActionSuspend:             "suspend the subscription",
	ActionReactivate:          "reactivate the subscription",
	ActionUpdateBillingCycles: "update the billing cycles",
	ActionUpdatePaymentSource: "update the payment source",
}
