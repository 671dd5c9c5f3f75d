package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tickettoken/settlement/pkg/enums"
)

// WebhookInboxEntry is one durable provider event awaiting or past processing.
type WebhookInboxEntry struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Provider     string              `gorm:"column:provider;not null;uniqueIndex:uq_webhook_inbox_event,priority:1"`
	EventID      string              `gorm:"column:event_id;not null;uniqueIndex:uq_webhook_inbox_event,priority:2"`
	EventType    string              `gorm:"column:event_type;not null"`
	Payload      json.RawMessage     `gorm:"column:payload;type:jsonb;not null"`
	Status       enums.WebhookStatus `gorm:"column:status;type:webhook_status;not null;default:'pending'"`
	RetryCount   int                 `gorm:"column:retry_count;not null;default:0"`
	ErrorMessage *string             `gorm:"column:error_message"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt  *time.Time          `gorm:"column:processed_at"`
}

func (WebhookInboxEntry) TableName() string { return "webhook_inbox" }

func (w *WebhookInboxEntry) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
