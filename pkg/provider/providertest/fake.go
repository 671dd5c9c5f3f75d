// Package providertest provides an in-memory provider.Client for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tickettoken/settlement/pkg/provider"
)

// Client records calls and serves scripted responses. Zero value is usable.
type Client struct {
	mu sync.Mutex

	// Intents is keyed by payment intent id.
	Intents map[string]*provider.PaymentIntent
	// RetrieveErrs fails RetrievePaymentIntent for specific ids.
	RetrieveErrs map[string]error
	Events       []provider.Event

	CreateIntentErr error
	ConfirmErr      error
	ConfirmStatus   string
	RefundErr       error
	ListErr         error
	// RefundDelay holds CreateRefund open to widen race windows.
	RefundDelay time.Duration
	// RefundTimeouts makes the next N CreateRefund calls issue the refund and
	// then report context.DeadlineExceeded, as a lost response would.
	RefundTimeouts int
	// OnRefund runs inside CreateRefund before it answers, e.g. to deliver
	// webhooks while the call is in flight.
	OnRefund func(input provider.CreateRefundInput)

	CreateIntentCalls []provider.CreatePaymentIntentInput
	RetrieveCalls     []string
	Refunds           []provider.CreateRefundInput
	ListCalls         []time.Time

	seq          int
	refundsByKey map[string]*provider.Refund
}

func (c *Client) CreatePaymentIntent(_ context.Context, input provider.CreatePaymentIntentInput) (*provider.PaymentIntent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CreateIntentCalls = append(c.CreateIntentCalls, input)
	if c.CreateIntentErr != nil {
		return nil, c.CreateIntentErr
	}
	c.seq++
	intent := &provider.PaymentIntent{
		ID:           fmt.Sprintf("pi_test_%d", c.seq),
		Status:       "requires_confirmation",
		ClientSecret: fmt.Sprintf("pi_test_%d_secret", c.seq),
		AmountCents:  input.AmountCents,
		Currency:     input.Currency,
	}
	if c.Intents == nil {
		c.Intents = map[string]*provider.PaymentIntent{}
	}
	c.Intents[intent.ID] = intent
	copied := *intent
	return &copied, nil
}

func (c *Client) ConfirmPaymentIntent(_ context.Context, id string) (*provider.PaymentIntent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConfirmErr != nil {
		return nil, c.ConfirmErr
	}
	intent, ok := c.Intents[id]
	if !ok {
		return nil, fmt.Errorf("no such payment intent %s", id)
	}
	status := c.ConfirmStatus
	if status == "" {
		status = "succeeded"
	}
	intent.Status = status
	copied := *intent
	return &copied, nil
}

func (c *Client) RetrievePaymentIntent(_ context.Context, id string) (*provider.PaymentIntent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RetrieveCalls = append(c.RetrieveCalls, id)
	if err := c.RetrieveErrs[id]; err != nil {
		return nil, err
	}
	intent, ok := c.Intents[id]
	if !ok {
		return nil, fmt.Errorf("no such payment intent %s", id)
	}
	copied := *intent
	return &copied, nil
}

func (c *Client) CreateRefund(ctx context.Context, input provider.CreateRefundInput) (*provider.Refund, error) {
	if c.RefundDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.RefundDelay):
		}
	}
	if c.OnRefund != nil {
		c.OnRefund(input)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RefundErr != nil {
		return nil, c.RefundErr
	}
	issued, replay := c.refundsByKey[input.IdempotencyKey]
	if !replay {
		c.Refunds = append(c.Refunds, input)
		c.seq++
		issued = &provider.Refund{ID: fmt.Sprintf("re_test_%d", c.seq), Status: "pending"}
		if input.IdempotencyKey != "" {
			if c.refundsByKey == nil {
				c.refundsByKey = map[string]*provider.Refund{}
			}
			c.refundsByKey[input.IdempotencyKey] = issued
		}
	}
	if c.RefundTimeouts > 0 {
		c.RefundTimeouts--
		return nil, context.DeadlineExceeded
	}
	copied := *issued
	return &copied, nil
}

func (c *Client) ListEvents(_ context.Context, since time.Time) ([]provider.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ListCalls = append(c.ListCalls, since)
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	out := make([]provider.Event, 0, len(c.Events))
	for _, ev := range c.Events {
		if !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// RefundedCents sums every refund the provider accepted.
func (c *Client) RefundedCents() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, r := range c.Refunds {
		total += r.AmountCents
	}
	return total
}

// SetIntent registers or replaces an intent.
func (c *Client) SetIntent(intent provider.PaymentIntent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Intents == nil {
		c.Intents = map[string]*provider.PaymentIntent{}
	}
	c.Intents[intent.ID] = &intent
}

// RetrieveCount returns how many retrieve calls were made.
func (c *Client) RetrieveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.RetrieveCalls)
}
