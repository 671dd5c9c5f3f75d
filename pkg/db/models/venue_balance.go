package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tickettoken/settlement/pkg/enums"
)

// VenueBalance is one accumulating bucket for a venue. Amounts only ever
// change by delta.
type VenueBalance struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	VenueID     uuid.UUID         `gorm:"column:venue_id;type:uuid;not null;uniqueIndex:uq_venue_balances_bucket,priority:1"`
	BalanceType enums.BalanceType `gorm:"column:balance_type;type:balance_type;not null;uniqueIndex:uq_venue_balances_bucket,priority:2"`
	AmountCents int64             `gorm:"column:amount_cents;not null;default:0"`
	Currency    enums.Currency    `gorm:"column:currency;not null;default:'USD'"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *VenueBalance) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
