package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tickettoken/settlement/pkg/enums"
)

// Transaction is one money movement for an order. Rows are never deleted.
type Transaction struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	TenantID          uuid.UUID               `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:uq_transactions_idempotency,priority:2"`
	VenueID           uuid.UUID               `gorm:"column:venue_id;type:uuid;not null;index"`
	UserID            uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	EventID           uuid.UUID               `gorm:"column:event_id;type:uuid;not null"`
	Type              enums.TransactionType   `gorm:"column:type;type:transaction_type;not null;default:'purchase'"`
	AmountCents       int64                   `gorm:"column:amount_cents;not null"`
	Currency          enums.Currency          `gorm:"column:currency;not null;default:'USD'"`
	Status            enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'pending'"`
	PlatformFeeCents  int64                   `gorm:"column:platform_fee_cents;not null;default:0"`
	VenuePayoutCents  int64                   `gorm:"column:venue_payout_cents;not null;default:0"`
	GasFeeCentsPaid   int64                   `gorm:"column:gas_fee_cents_paid;not null;default:0"`
	TaxCents          int64                   `gorm:"column:tax_cents;not null;default:0"`
	TotalCents        *int64                  `gorm:"column:total_cents"`
	ProviderPaymentID *string                 `gorm:"column:provider_payment_id;uniqueIndex:uq_transactions_provider_payment"`
	IdempotencyKey    *string                 `gorm:"column:idempotency_key;uniqueIndex:uq_transactions_idempotency,priority:1"`
	Metadata          json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// ComponentSum is the total the stored components imply.
func (t Transaction) ComponentSum() int64 {
	return t.AmountCents + t.PlatformFeeCents + t.GasFeeCentsPaid + t.TaxCents
}
