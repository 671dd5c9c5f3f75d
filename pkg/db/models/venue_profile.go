package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tickettoken/settlement/pkg/enums"
)

// VenueProfile carries the settlement-relevant attributes of a venue: where it
// is taxed, which network mints its tickets, and its chargeback risk tier.
type VenueProfile struct {
	VenueID   uuid.UUID      `gorm:"column:venue_id;type:uuid;primaryKey"`
	TenantID  uuid.UUID      `gorm:"column:tenant_id;type:uuid;not null"`
	State     string         `gorm:"column:state;not null;default:''"`
	City      string         `gorm:"column:city;not null;default:''"`
	Zip       string         `gorm:"column:zip;not null;default:''"`
	Network   string         `gorm:"column:network;not null;default:'solana'"`
	RiskTier  enums.RiskTier `gorm:"column:risk_tier;type:risk_tier;not null;default:'medium'"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
