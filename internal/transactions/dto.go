package transactions

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/tickettoken/settlement/internal/fees"
	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
)

// CreateInput is the ledger-level create request. Zero-valued Type, Status and
// Currency take the ledger defaults.
type CreateInput struct {
	TenantID          uuid.UUID
	VenueID           uuid.UUID
	UserID            uuid.UUID
	EventID           uuid.UUID
	Type              enums.TransactionType
	AmountCents       int64
	Currency          enums.Currency
	Status            enums.TransactionStatus
	PlatformFeeCents  int64
	VenuePayoutCents  int64
	GasFeeCentsPaid   int64
	TaxCents          int64
	TotalCents        *int64
	ProviderPaymentID *string
	IdempotencyKey    *string
	Metadata          json.RawMessage
}

// Patch lists the mutable transaction fields. Nil fields are left alone.
type Patch struct {
	Status           *enums.TransactionStatus
	AmountCents      *int64
	PlatformFeeCents *int64
	VenuePayoutCents *int64
	GasFeeCentsPaid  *int64
	Metadata         json.RawMessage
	TotalCents       *int64
}

func (p Patch) empty() bool {
	return p.Status == nil &&
		p.AmountCents == nil &&
		p.PlatformFeeCents == nil &&
		p.VenuePayoutCents == nil &&
		p.GasFeeCentsPaid == nil &&
		p.Metadata == nil &&
		p.TotalCents == nil
}

// PurchaseInput starts a ticket purchase.
type PurchaseInput struct {
	TenantID         uuid.UUID      `json:"tenantId" validate:"required"`
	VenueID          uuid.UUID      `json:"venueId" validate:"required"`
	UserID           uuid.UUID      `json:"userId" validate:"required"`
	EventID          uuid.UUID      `json:"eventId" validate:"required"`
	TicketPriceCents int64          `json:"ticketPriceCents" validate:"gte=0"`
	TicketCount      int            `json:"ticketCount" validate:"gte=1,lte=100"`
	Currency         string         `json:"currency" validate:"omitempty,len=3"`
	IdempotencyKey   string         `json:"idempotencyKey" validate:"required,max=255"`
	Metadata         map[string]any `json:"metadata"`
}

// PurchaseResult carries the stored transaction and, for new purchases, the
// provider client secret the buyer confirms with.
type PurchaseResult struct {
	Transaction  *models.Transaction
	ClientSecret string
	Fees         *fees.FeeBreakdown
	Existing     bool
}
