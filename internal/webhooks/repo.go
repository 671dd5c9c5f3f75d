package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
)

// Repository persists inbox entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Enqueue(ctx context.Context, provider, eventID, eventType string, payload json.RawMessage) (bool, error)
	Exists(ctx context.Context, provider, eventID string) (bool, error)
	ListPending(ctx context.Context, limit, maxRetries int) ([]models.WebhookInboxEntry, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inbox repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Enqueue inserts a pending entry. A redelivered (provider, eventID) pair is
// left untouched and reported as not inserted.
func (r *repository) Enqueue(ctx context.Context, provider, eventID, eventType string, payload json.RawMessage) (bool, error) {
	if provider == "" || eventID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "provider and event id are required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	entry := &models.WebhookInboxEntry{
		Provider:  provider,
		EventID:   eventID,
		EventType: eventType,
		Payload:   payload,
		Status:    enums.WebhookStatusPending,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) Exists(ctx context.Context, provider, eventID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.WebhookInboxEntry{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Count(&n).Error
	return n > 0, err
}

// ListPending returns pending entries still under the retry ceiling, oldest first.
func (r *repository) ListPending(ctx context.Context, limit, maxRetries int) ([]models.WebhookInboxEntry, error) {
	var rows []models.WebhookInboxEntry
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.WebhookStatusPending).
		Where("retry_count < ?", maxRetries).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkProcessed reports false when the entry was no longer pending.
func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.WebhookInboxEntry{}).
		Where("id = ? AND status = ?", id, enums.WebhookStatusPending).
		Updates(map[string]any{
			"status":        enums.WebhookStatusProcessed,
			"processed_at":  at.UTC(),
			"error_message": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookInboxEntry{}).
		Where("id = ? AND status = ?", id, enums.WebhookStatusPending).
		Updates(map[string]any{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": message,
		}).Error
}

// DeleteProcessedBefore removes processed entries created strictly before
// cutoff. Pending entries are never deleted.
func (r *repository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.WebhookStatusProcessed, cutoff.UTC()).
		Delete(&models.WebhookInboxEntry{})
	return res.RowsAffected, res.Error
}
