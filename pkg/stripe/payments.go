package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/event"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
	"github.com/tickettoken/settlement/pkg/provider"
)

// maxListedEvents caps one backfill page walk.
const maxListedEvents = 1000

var _ provider.Client = (*Client)(nil)

func (c *Client) CreatePaymentIntent(ctx context.Context, input provider.CreatePaymentIntentInput) (*provider.PaymentIntent, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(input.AmountCents),
		Currency: stripe.String(strings.ToLower(input.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}
	params.Context = ctx

	c.log(ctx, "request", "payment_intent.create", map[string]any{"amount_cents": input.AmountCents})
	pi, err := paymentintent.New(params)
	if err != nil {
		c.log(ctx, "error", "payment_intent.create", map[string]any{"error": err.Error()})
		return nil, mapStripeError(err, "create payment intent")
	}
	return toPaymentIntent(pi), nil
}

func (c *Client) ConfirmPaymentIntent(ctx context.Context, id string) (*provider.PaymentIntent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	pi, err := paymentintent.Confirm(id, params)
	if err != nil {
		c.log(ctx, "error", "payment_intent.confirm", map[string]any{"payment_intent_id": id, "error": err.Error()})
		return nil, mapStripeError(err, "confirm payment intent")
	}
	return toPaymentIntent(pi), nil
}

func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (*provider.PaymentIntent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, mapStripeError(err, "retrieve payment intent")
	}
	return toPaymentIntent(pi), nil
}

func (c *Client) CreateRefund(ctx context.Context, input provider.CreateRefundInput) (*provider.Refund, error) {
	if strings.TrimSpace(input.PaymentIntentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(input.PaymentIntentID),
		Amount:        stripe.Int64(input.AmountCents),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	if input.Reason != "" {
		params.AddMetadata("reason", input.Reason)
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}
	params.Context = ctx

	c.log(ctx, "request", "refund.create", map[string]any{"payment_intent_id": input.PaymentIntentID, "amount_cents": input.AmountCents})
	r, err := refund.New(params)
	if err != nil {
		c.log(ctx, "error", "refund.create", map[string]any{"payment_intent_id": input.PaymentIntentID, "error": err.Error()})
		return nil, mapStripeError(err, "create refund")
	}
	return &provider.Refund{ID: r.ID, Status: string(r.Status)}, nil
}

func (c *Client) ListEvents(ctx context.Context, since time.Time) ([]provider.Event, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripe.EventListParams{
		CreatedRange: &stripe.RangeQueryParams{GreaterThanOrEqual: since.Unix()},
	}
	params.Context = ctx

	var out []provider.Event
	iter := event.List(params)
	for iter.Next() {
		converted, err := toProviderEvent(iter.Event())
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "encode stripe event")
		}
		out = append(out, converted)
		if len(out) >= maxListedEvents {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, mapStripeError(err, "list events")
	}
	return out, nil
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.callTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logg == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logg.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logg.Error(ctx, fmt.Sprintf("stripe %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logg.Debug(ctx, fmt.Sprintf("stripe %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "token", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func toPaymentIntent(pi *stripe.PaymentIntent) *provider.PaymentIntent {
	if pi == nil {
		return nil
	}
	return &provider.PaymentIntent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
	}
}

func toProviderEvent(ev *stripe.Event) (provider.Event, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return provider.Event{}, err
	}
	return provider.Event{
		ID:        ev.ID,
		Type:      string(ev.Type),
		CreatedAt: time.Unix(ev.Created, 0).UTC(),
		Payload:   payload,
	}, nil
}

// mapStripeError classifies Stripe failures. Everything becomes
// CodeProvider except request-shape problems, which are the caller's fault.
// 400, 402 and 404 answers are tagged provider.ErrDeclined: Stripe processed
// the request and refused it. Rate limits, idempotency conflicts, 5xx and
// transport errors leave the outcome unknown.
func mapStripeError(err error, op string) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := pkgerrors.CodeProvider
		cause := err
		switch stripeErr.HTTPStatusCode {
		case http.StatusBadRequest:
			if stripeErr.Type == stripe.ErrorTypeInvalidRequest {
				code = pkgerrors.CodeValidation
			}
			cause = provider.Declined(err)
		case http.StatusPaymentRequired:
			cause = provider.Declined(err)
		case http.StatusNotFound:
			code = pkgerrors.CodeNotFound
			cause = provider.Declined(err)
		}
		return pkgerrors.Wrap(code, cause, fmt.Sprintf("stripe %s failed", op)).WithDetails(map[string]any{
			"stripe_code": string(stripeErr.Code),
			"request_id":  stripeErr.RequestID,
		})
	}
	return pkgerrors.Wrap(pkgerrors.CodeProvider, err, fmt.Sprintf("stripe %s failed", op))
}
