package refunds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
)

// CreateOptions carries the optional refund fields.
type CreateOptions struct {
	Status           enums.RefundStatus
	ProviderRefundID *string
	Metadata         json.RawMessage
}

// Repository manages persistence for refunds. Lookups return (nil, nil) when
// the row is absent.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, transactionID uuid.UUID, amountCents int64, reason string, opts CreateOptions) (*models.Refund, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.RefundStatus, providerRefundID *string) (*models.Refund, error)
	SetShareDeducted(ctx context.Context, id uuid.UUID, deducted bool) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	FindByProviderRefundID(ctx context.Context, providerRefundID string) (*models.Refund, error)
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.Refund, error)
	SumActiveByTransaction(ctx context.Context, transactionID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a refund repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, transactionID uuid.UUID, amountCents int64, reason string, opts CreateOptions) (*models.Refund, error) {
	if transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	status := opts.Status
	if status == "" {
		status = enums.RefundStatusPending
	}
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid refund status %q", status))
	}
	metadata := opts.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	row := &models.Refund{
		TransactionID:    transactionID,
		AmountCents:      amountCents,
		Reason:           reason,
		Status:           status,
		ProviderRefundID: opts.ProviderRefundID,
		Metadata:         metadata,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateStatus moves a refund to status. Completion stamps completed_at; an
// empty provider id leaves the stored one in place.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.RefundStatus, providerRefundID *string) (*models.Refund, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid refund status %q", status))
	}
	now := time.Now().UTC()
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if status == enums.RefundStatusCompleted {
		updates["completed_at"] = now
	}
	if providerRefundID != nil && *providerRefundID != "" {
		updates["provider_refund_id"] = *providerRefundID
	}
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindByID(ctx, id)
}

// SetShareDeducted records whether the venue share is currently deducted.
func (r *repository) SetShareDeducted(ctx context.Context, id uuid.UUID, deducted bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"share_deducted": deducted,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// FindByIDForUpdate row-locks the refund for the enclosing DB transaction.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repository) FindByProviderRefundID(ctx context.Context, providerRefundID string) (*models.Refund, error) {
	return r.first(r.db.WithContext(ctx).Where("provider_refund_id = ?", providerRefundID))
}

func (r *repository) first(query *gorm.DB) (*models.Refund, error) {
	var row models.Refund
	err := query.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.Refund, error) {
	var rows []models.Refund
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SumActiveByTransaction totals every refund that has not failed.
func (r *repository) SumActiveByTransaction(ctx context.Context, transactionID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("transaction_id = ?", transactionID).
		Where("status <> ?", enums.RefundStatusFailed).
		Scan(&total).Error
	return total, err
}
