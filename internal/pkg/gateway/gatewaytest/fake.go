// Package gatewaytest provides a programmable gateway.Client for tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway"
)

// Call records one invocation of the fake.
type Call struct {
	Op        string
	ProfileID string
	Hint      string
	Note      string
	Payload   map[string]interface{}
}

// Client answers with the configured results. Unset action results default
// to success; an unset status result defaults to failure.
type Client struct {
	mu sync.Mutex

	Status    *gateway.StatusResult
	StatusErr error
	Action    map[string]*gateway.ActionResult
	ActionErr error
	// Block makes every call wait until the context is done.
	Block bool

	calls []Call
}

// New returns an empty fake.
func New() *Client {
	return &Client{Action: make(map[string]*gateway.ActionResult)}
}

// Calls returns a copy of the recorded calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallCount returns how often op was called.
func (c *Client) CallCount(op string) int {
	n := 0
	for _, call := range c.Calls() {
		if call.Op == op {
			n++
		}
	}
	return n
}

func (c *Client) record(ctx context.Context, call Call) error {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	block := c.Block
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (c *Client) GetStatus(ctx context.Context, rec *models.SubscriptionRecord, hint string) (*gateway.StatusResult, error) {
	if err := c.record(ctx, Call{Op: "get_status", ProfileID: rec.ProfileID, Hint: hint}); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StatusErr != nil {
		return nil, c.StatusErr
	}
	if c.Status == nil {
		return &gateway.StatusResult{Success: false, Message: "no status configured"}, nil
	}
	res := *c.Status
	return &res, nil
}

func (c *Client) action(ctx context.Context, op string, call Call) (*gateway.ActionResult, error) {
	call.Op = op
	if err := c.record(ctx, call); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ActionErr != nil {
		return nil, c.ActionErr
	}
	if res, ok := c.Action[op]; ok && res != nil {
		cp := *res
		return &cp, nil
	}
	return &gateway.ActionResult{Success: true, Message: op + " ok"}, nil
}

func (c *Client) Cancel(ctx context.Context, rec *models.SubscriptionRecord, note, hint string) (*gateway.ActionResult, error) {
	return c.action(ctx, "cancel", Call{ProfileID: rec.ProfileID, Note: note, Hint: hint})
}

func (c *Client) Suspend(ctx context.Context, rec *models.SubscriptionRecord, note, hint string) (*gateway.ActionResult, error) {
	return c.action(ctx, "suspend", Call{ProfileID: rec.ProfileID, Note: note, Hint: hint})
}

func (c *Client) Reactivate(ctx context.Context, rec *models.SubscriptionRecord, note, hint string) (*gateway.ActionResult, error) {
	return c.action(ctx, "reactivate", Call{ProfileID: rec.ProfileID, Note: note, Hint: hint})
}

func (c *Client) UpdateBillingCycles(ctx context.Context, rec *models.SubscriptionRecord, payload map[string]interface{}) (*gateway.ActionResult, error) {
	return c.action(ctx, "update_billing_cycles", Call{ProfileID: rec.ProfileID, Payload: payload})
}

func (c *Client) UpdatePaymentSource(ctx context.Context, rec *models.SubscriptionRecord, payload map[string]interface{}) (*gateway.ActionResult, error) {
	return c.action(ctx, "update_payment_source", Call{ProfileID: rec.ProfileID, Payload: payload})
}

// SetStatus replaces the status result.
func (c *Client) SetStatus(res *gateway.StatusResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Status = res
	c.StatusErr = err
}

// SetAction replaces the result for op.
func (c *Client) SetAction(op string, res *gateway.ActionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Action[op] = res
}
