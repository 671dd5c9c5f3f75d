package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/provider"
)

type transactionLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.Transaction, error)
}

type refundLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	FindByProviderRefundID(ctx context.Context, providerRefundID string) (*models.Refund, error)
}

// PaymentApplier moves a transaction to a provider-reported status.
type PaymentApplier interface {
	ApplyProviderStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus) (*models.Transaction, error)
}

// RefundApplier moves a refund to a provider-reported status.
type RefundApplier interface {
	ApplyProviderRefund(ctx context.Context, refundID uuid.UUID, status enums.RefundStatus, providerRefundID *string) (*models.Refund, error)
}

type StripeHandlerParams struct {
	Transactions transactionLookup
	Refunds      refundLookup
	Payments     PaymentApplier
	RefundFlow   RefundApplier
	Logger       *logger.Logger
}

// StripeHandler applies Stripe events stored in the inbox. Event types it does
// not know are acknowledged without effect.
type StripeHandler struct {
	transactions transactionLookup
	refunds      refundLookup
	payments     PaymentApplier
	refundFlow   RefundApplier
	logg         *logger.Logger
}

func NewStripeHandler(params StripeHandlerParams) (*StripeHandler, error) {
	switch {
	case params.Transactions == nil:
		return nil, errors.New("transaction lookup is required")
	case params.Refunds == nil:
		return nil, errors.New("refund lookup is required")
	case params.Payments == nil:
		return nil, errors.New("payment applier is required")
	case params.RefundFlow == nil:
		return nil, errors.New("refund applier is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	return &StripeHandler{
		transactions: params.Transactions,
		refunds:      params.Refunds,
		payments:     params.Payments,
		refundFlow:   params.RefundFlow,
		logg:         params.Logger,
	}, nil
}

func (h *StripeHandler) Handle(ctx context.Context, entry models.WebhookInboxEntry) error {
	var event stripe.Event
	if err := json.Unmarshal(entry.Payload, &event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event")
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	eventType := string(event.Type)
	switch {
	case strings.HasPrefix(eventType, "payment_intent."):
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
		}
		return h.applyPayment(ctx, eventType, &intent)
	case eventType == "refund.created", eventType == "refund.updated", eventType == "refund.failed", eventType == "charge.refund.updated":
		var refund stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode refund")
		}
		return h.applyRefund(ctx, eventType, &refund)
	default:
		h.logg.Debug(ctx, "stripe event type ignored")
		return nil
	}
}

// PaymentStatusForEvent picks the local status for a payment intent event.
// Terminal event types win over the intent's own status string, which for a
// failed attempt reads requires_payment_method.
func PaymentStatusForEvent(eventType, intentStatus string) enums.TransactionStatus {
	switch eventType {
	case "payment_intent.succeeded":
		return enums.TransactionStatusCompleted
	case "payment_intent.payment_failed":
		return enums.TransactionStatusFailed
	case "payment_intent.canceled":
		return enums.TransactionStatusCancelled
	default:
		return provider.MapPaymentStatus(intentStatus)
	}
}

func (h *StripeHandler) applyPayment(ctx context.Context, eventType string, intent *stripe.PaymentIntent) error {
	row, err := h.transactions.FindByProviderPaymentID(ctx, intent.ID)
	if err != nil {
		return err
	}
	if row == nil {
		ref, ok := metadataID(intent.Metadata, "transaction_id")
		if !ok {
			// not one of ours
			return nil
		}
		row, err = h.transactions.FindByID(ctx, ref)
		if err != nil {
			return err
		}
		if row == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction for payment intent not found")
		}
	}
	_, err = h.payments.ApplyProviderStatus(ctx, row.ID, PaymentStatusForEvent(eventType, string(intent.Status)))
	return err
}

func (h *StripeHandler) applyRefund(ctx context.Context, eventType string, refund *stripe.Refund) error {
	row, err := h.refunds.FindByProviderRefundID(ctx, refund.ID)
	if err != nil {
		return err
	}
	if row == nil {
		ref, ok := metadataID(refund.Metadata, "refund_id")
		if !ok {
			return nil
		}
		row, err = h.refunds.FindByID(ctx, ref)
		if err != nil {
			return err
		}
		if row == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
		}
	}
	status := provider.MapRefundStatus(string(refund.Status))
	if eventType == "refund.failed" {
		status = enums.RefundStatusFailed
	}
	providerID := refund.ID
	_, err = h.refundFlow.ApplyProviderRefund(ctx, row.ID, status, &providerID)
	return err
}

func metadataID(metadata map[string]string, key string) (uuid.UUID, bool) {
	raw, ok := metadata[key]
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
