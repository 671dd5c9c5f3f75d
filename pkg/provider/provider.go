// Package provider defines the narrow payment-provider capability the
// settlement core depends on. Status strings use the provider's own vocabulary;
// callers own the mapping onto local states.
package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Name identifies the provider in inbox rows.
const NameStripe = "stripe"

// PaymentIntent is the provider-side view of a payment.
type PaymentIntent struct {
	ID           string
	Status       string
	ClientSecret string
	AmountCents  int64
	Currency     string
}

// Refund is the provider-side view of a refund.
type Refund struct {
	ID     string
	Status string
}

// Event is one entry from the provider's event feed.
type Event struct {
	ID        string
	Type      string
	CreatedAt time.Time
	Payload   json.RawMessage
}

// CreatePaymentIntentInput carries the fields for a new intent.
type CreatePaymentIntentInput struct {
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// CreateRefundInput carries the fields for a new refund.
type CreateRefundInput struct {
	PaymentIntentID string
	AmountCents     int64
	Reason          string
	Metadata        map[string]string
	IdempotencyKey  string
}

// Client is implemented by the Stripe adapter and by test fakes.
type Client interface {
	CreatePaymentIntent(ctx context.Context, input CreatePaymentIntentInput) (*PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, input CreateRefundInput) (*Refund, error)
	ListEvents(ctx context.Context, since time.Time) ([]Event, error)
}
