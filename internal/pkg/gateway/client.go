// Package gateway defines the call surface of the payment gateway adapter.
// The adapter itself (wire protocol, credentials, HTTP) lives outside this
// service; everything here works against the Client interface.
package gateway

import (
	"context"
	"errors"

	"github.com/ManuelReschke/ProfileSync/app/models"
)

// Well known gateway identifiers used as hints. Adapters may use any other
// string; hints are advisory.
const (
	GatewayLegacy = "legacy"
	GatewayModern = "modern"
)

var (
	// ErrTimeout is returned when an adapter call exceeds its deadline.
	ErrTimeout = errors.New("gateway call timed out")
	// ErrUnavailable is reported by UnavailableClient.
	ErrUnavailable = errors.New("payment gateway is not configured")
)

// StatusResult is what a status call reports.
type StatusResult struct {
	Success       bool
	Status        string
	Profile       RawProfile
	ProfileSource string
	Gateway       string
	Message       string
}

// ActionResult is what cancel/suspend/reactivate/update calls report.
type ActionResult struct {
	Success bool
	Message string
	Details map[string]interface{}
}

// Client is the uniform surface over both gateway protocols. Implementations
// should honour ctx; WithTimeout guards against ones that do not.
type Client interface {
	GetStatus(ctx context.Context, rec *models.SubscriptionRecord, hint string) (*StatusResult, error)
	Cancel(ctx context.Context, rec *models.SubscriptionRecord, note, hint string) (*ActionResult, error)
	Suspend(ctx context.Context, rec *models.SubscriptionRecord, note, hint string) (*ActionResult, error)
	Reactivate(ctx context.Context, rec *models.SubscriptionRecord, note, hint string) (*ActionResult, error)
	UpdateBillingCycles(ctx context.Context, rec *models.SubscriptionRecord, payload map[string]interface{}) (*ActionResult, error)
	UpdatePaymentSource(ctx context.Context, rec *models.SubscriptionRecord, payload map[string]interface{}) (*ActionResult, error)
}

// UnavailableClient answers every call with a failed result. It is wired when
// no adapter is registered so reads fall back to the cache instead of
// crashing.
type UnavailableClient struct{}

func (UnavailableClient) GetStatus(context.Context, *models.SubscriptionRecord, string) (*StatusResult, error) {
	return &StatusResult{Success: false, Message: ErrUnavailable.Error()}, nil
}

func (UnavailableClient) Cancel(context.Context, *models.SubscriptionRecord, string, string) (*ActionResult, error) {
	return &ActionResult{Success: false, Message: ErrUnavailable.Error()}, nil
}

func (UnavailableClient) Suspend(context.Context, *models.SubscriptionRecord, string, string) (*ActionResult, error) {
	return &ActionResult{Success: false, Message: ErrUnavailable.Error()}, nil
}

func (UnavailableClient) Reactivate(context.Context, *models.SubscriptionRecord, string, string) (*ActionResult, error) {
	return &ActionResult{Success: false, Message: ErrUnavailable.Error()}, nil
}

func (UnavailableClient) UpdateBillingCycles(context.Context, *models.SubscriptionRecord, map[string]interface{}) (*ActionResult, error) {
	return &ActionResult{Success: false, Message: ErrUnavailable.Error()}, nil
}

func (UnavailableClient) UpdatePaymentSource(context.Context, *models.SubscriptionRecord, map[string]interface{}) (*ActionResult, error) {
	return &ActionResult{Success: false, Message: ErrUnavailable.Error()}, nil
}
