package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/metrics"
)

// DefaultTimeout bounds every adapter call when no other value is configured.
const DefaultTimeout = 20 * time.Second

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout wraps next so that every call returns within timeout, even when
// the adapter ignores its context. It also records call metrics.
func WithTimeout(next Client, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &timeoutClient{next: next, timeout: timeout}
}

type outcome[T any] struct {
	res *T
	err error
}

func call[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (*T, error), ok func(*T) bool) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome[T], 1)
	go func() {
		res, err := fn(ctx)
		done <- outcome[T]{res: res, err: err}
	}()

	select {
	case o := <-done:
		metrics.ObserveGatewayCall(op, o.err == nil && o.res != nil && ok(o.res), time.Since(start))
		return o.res, o.err
	case <-ctx.Done():
		metrics.ObserveGatewayCall(op, false, time.Since(start))
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, op, timeout)
	}
}

func statusOK(r *StatusResult) bool { return r.Success }
func actionOK(r *ActionResult) bool { return r.Success }

func (c *timeoutClient) GetStatus(ctx context.Context, rec *models.SubscriptionRecord, hint string) (*StatusResult, error) {
	return call(ctx, c.timeout, "get_status", func(ctx context.Context) (*StatusResult, error) {
		return c.next.GetStatus(ctx, rec, hint)
	}, statusOK)
}

func (c *timeoutClient) Cancel(ctx context.Context, rec *models.SubscriptionRecord, note, hint string) (*ActionResult, error) {
	return call(ctx, c.timeout, "cancel", func(ctx context.Context) (*ActionResult, error) {
		return c.next.Cancel(ctx, rec, note, hint)
	}, actionOK)
}

func (c *timeoutClient) Suspend(ctx context.Context, rec *models.SubscriptionRecord, note, hint string) (*ActionResult, error) {
	return call(ctx, c.timeout, "suspend", func(ctx context.Context) (*ActionResult, error) {
		return c.next.Suspend(ctx, rec, note, hint)
	}, actionOK)
}

func (c *timeoutClient) Reactivate(ctx context.Context, rec *models.SubscriptionRecord, note, hint string) (*ActionResult, error) {
	return call(ctx, c.timeout, "reactivate", func(ctx context.Context) (*ActionResult, error) {
		return c.next.Reactivate(ctx, rec, note, hint)
	}, actionOK)
}

func (c *timeoutClient) UpdateBillingCycles(ctx context.Context, rec *models.SubscriptionRecord, payload map[string]interface{}) (*ActionResult, error) {
	return call(ctx, c.timeout, "update_billing_cycles", func(ctx context.Context) (*ActionResult, error) {
		return c.next.UpdateBillingCycles(ctx, rec, payload)
	}, actionOK)
}

func (c *timeoutClient) UpdatePaymentSource(ctx context.Context, rec *models.SubscriptionRecord, payload map[string]interface{}) (*ActionResult, error) {
	return call(ctx, c.timeout, "update_payment_source", func(ctx context.Context) (*ActionResult, error) {
		return c.next.UpdatePaymentSource(ctx, rec, payload)
	}, actionOK)
}
