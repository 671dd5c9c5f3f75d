package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tickettoken/settlement/pkg/enums"
)

// Refund is a claim against exactly one Transaction.
type Refund struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID    uuid.UUID          `gorm:"column:transaction_id;type:uuid;not null;index"`
	AmountCents      int64              `gorm:"column:amount_cents;not null"`
	Reason           string             `gorm:"column:reason;not null;default:''"`
	Status           enums.RefundStatus `gorm:"column:status;type:refund_status;not null;default:'pending'"`
	ProviderRefundID *string            `gorm:"column:provider_refund_id"`
	Metadata         json.RawMessage    `gorm:"column:metadata;type:jsonb"`
	// ShareDeducted is set while the venue's share of this refund is out of
	// its available bucket.
	ShareDeducted    bool               `gorm:"column:share_deducted;not null;default:false"`
	CompletedAt      *time.Time         `gorm:"column:completed_at"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Refund) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
