package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/tickettoken/settlement/pkg/enums"
)

// PaymentCompletedEvent is emitted once a purchase settles and the venue is credited.
type PaymentCompletedEvent struct {
	TransactionID     uuid.UUID `json:"transaction_id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	VenueID           uuid.UUID `json:"venue_id"`
	UserID            uuid.UUID `json:"user_id"`
	EventID           uuid.UUID `json:"event_id"`
	AmountCents       int64     `json:"amount_cents"`
	VenuePayoutCents  int64     `json:"venue_payout_cents"`
	PlatformFeeCents  int64     `json:"platform_fee_cents"`
	Currency          string    `json:"currency"`
	ProviderPaymentID string    `json:"provider_payment_id,omitempty"`
	CompletedAt       time.Time `json:"completed_at"`
}

// PaymentFailedEvent surfaces a purchase the provider declined or cancelled.
type PaymentFailedEvent struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	UserID        uuid.UUID               `json:"user_id"`
	VenueID       uuid.UUID               `json:"venue_id"`
	Status        enums.TransactionStatus `json:"status"`
}

// RefundRequestedEvent is emitted when a refund has been accepted by the provider
// and the venue share deducted.
type RefundRequestedEvent struct {
	RefundID         uuid.UUID `json:"refund_id"`
	TransactionID    uuid.UUID `json:"transaction_id"`
	VenueID          uuid.UUID `json:"venue_id"`
	UserID           uuid.UUID `json:"user_id"`
	AmountCents      int64     `json:"amount_cents"`
	VenueShareCents  int64     `json:"venue_share_cents"`
	Reason           string    `json:"reason,omitempty"`
	ProviderRefundID string    `json:"provider_refund_id,omitempty"`
}

// RefundCompletedEvent is emitted when the provider reports the refund settled.
type RefundCompletedEvent struct {
	RefundID      uuid.UUID `json:"refund_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	AmountCents   int64     `json:"amount_cents"`
	CompletedAt   time.Time `json:"completed_at"`
}

// RefundFailedEvent is emitted when a refund fails and the venue share is restored.
type RefundFailedEvent struct {
	RefundID           uuid.UUID `json:"refund_id"`
	TransactionID      uuid.UUID `json:"transaction_id"`
	VenueID            uuid.UUID `json:"venue_id"`
	AmountCents        int64     `json:"amount_cents"`
	RestoredShareCents int64     `json:"restored_share_cents"`
}

// PayoutProcessedEvent is emitted after a payout debits the available bucket.
type PayoutProcessedEvent struct {
	PayoutTransactionID uuid.UUID `json:"payout_transaction_id"`
	VenueID             uuid.UUID `json:"venue_id"`
	TenantID            uuid.UUID `json:"tenant_id"`
	AmountCents         int64     `json:"amount_cents"`
	Currency            string    `json:"currency"`
	ProcessedAt         time.Time `json:"processed_at"`
}
