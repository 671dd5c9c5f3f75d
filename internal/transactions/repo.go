package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tickettoken/settlement/pkg/db"
	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
)

const constraintIdempotency = "uq_transactions_idempotency"

// Repository manages persistence for transactions. Lookups return (nil, nil)
// when the row is absent.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, input CreateInput) (*models.Transaction, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus) (*models.Transaction, error)
	Update(ctx context.Context, id uuid.UUID, patch Patch) (*models.Transaction, error)
	SetProviderPaymentID(ctx context.Context, id uuid.UUID, providerPaymentID string) error
	FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
	FindByVenueID(ctx context.Context, venueID uuid.UUID, limit, offset int) ([]models.Transaction, error)
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
	SumCompletedPurchases(ctx context.Context, venueID uuid.UUID, since time.Time) (int64, error)
	SumPayoutsSince(ctx context.Context, venueID uuid.UUID, since time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, input CreateInput) (*models.Transaction, error) {
	if input.AmountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}
	row := &models.Transaction{
		TenantID:          input.TenantID,
		VenueID:           input.VenueID,
		UserID:            input.UserID,
		EventID:           input.EventID,
		Type:              input.Type,
		AmountCents:       input.AmountCents,
		Currency:          input.Currency,
		Status:            input.Status,
		PlatformFeeCents:  input.PlatformFeeCents,
		VenuePayoutCents:  input.VenuePayoutCents,
		GasFeeCentsPaid:   input.GasFeeCentsPaid,
		TaxCents:          input.TaxCents,
		TotalCents:        input.TotalCents,
		ProviderPaymentID: input.ProviderPaymentID,
		IdempotencyKey:    input.IdempotencyKey,
		Metadata:          input.Metadata,
	}
	if row.Type == "" {
		row.Type = enums.TransactionTypePurchase
	}
	if row.Status == "" {
		row.Status = enums.TransactionStatusPending
	}
	if row.Currency == "" {
		row.Currency = enums.CurrencyUSD
	}
	if row.TotalCents != nil && *row.TotalCents != row.ComponentSum() {
		return nil, totalMismatch(*row.TotalCents, row.ComponentSum())
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if db.IsUniqueViolation(err, constraintIdempotency) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDuplicateRequest, err, "transaction already exists for idempotency key")
		}
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transaction conflicts with an existing row")
		}
		return nil, err
	}
	return row, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// FindByIDForUpdate row-locks the transaction for the enclosing DB transaction.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repository) FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Where("provider_payment_id = ?", providerPaymentID))
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Where("idempotency_key = ? AND tenant_id = ?", key, tenantID))
}

func (r *repository) first(query *gorm.DB) (*models.Transaction, error) {
	var row models.Transaction
	err := query.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateStatus writes any status over any other; transition rules live with
// the callers.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus) (*models.Transaction, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction status %q", status))
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return r.FindByID(ctx, id)
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, patch Patch) (*models.Transaction, error) {
	if patch.empty() {
		return nil, pkgerrors.New(pkgerrors.CodeNoFieldsToUpdate, "no fields to update")
	}
	if patch.Status != nil && !patch.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction status %q", *patch.Status))
	}

	var updated *models.Transaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := r.WithTx(tx).FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}

		updates := map[string]any{"updated_at": time.Now().UTC()}
		merged := *current
		if patch.Status != nil {
			updates["status"] = *patch.Status
			merged.Status = *patch.Status
		}
		if patch.AmountCents != nil {
			if *patch.AmountCents < 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
			}
			updates["amount_cents"] = *patch.AmountCents
			merged.AmountCents = *patch.AmountCents
		}
		if patch.PlatformFeeCents != nil {
			updates["platform_fee_cents"] = *patch.PlatformFeeCents
			merged.PlatformFeeCents = *patch.PlatformFeeCents
		}
		if patch.VenuePayoutCents != nil {
			updates["venue_payout_cents"] = *patch.VenuePayoutCents
			merged.VenuePayoutCents = *patch.VenuePayoutCents
		}
		if patch.GasFeeCentsPaid != nil {
			updates["gas_fee_cents_paid"] = *patch.GasFeeCentsPaid
			merged.GasFeeCentsPaid = *patch.GasFeeCentsPaid
		}
		if patch.Metadata != nil {
			updates["metadata"] = patch.Metadata
		}
		if patch.TotalCents != nil {
			updates["total_cents"] = *patch.TotalCents
			merged.TotalCents = patch.TotalCents
		}
		if merged.TotalCents != nil && *merged.TotalCents != merged.ComponentSum() {
			return totalMismatch(*merged.TotalCents, merged.ComponentSum())
		}

		if err := tx.Model(&models.Transaction{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		updated, err = r.WithTx(tx).FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *repository) SetProviderPaymentID(ctx context.Context, id uuid.UUID, providerPaymentID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"provider_payment_id": providerPaymentID,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, res.Error, "provider payment id already linked")
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return nil
}

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	return r.page(r.db.WithContext(ctx).Where("user_id = ?", userID), limit, offset)
}

func (r *repository) FindByVenueID(ctx context.Context, venueID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	return r.page(r.db.WithContext(ctx).Where("venue_id = ?", venueID), limit, offset)
}

func (r *repository) page(query *gorm.DB, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var rows []models.Transaction
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListStuck returns processing transactions last touched before olderThan.
func (r *repository) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.TransactionStatusProcessing).
		Where("updated_at < ?", olderThan.UTC()).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) SumCompletedPurchases(ctx context.Context, venueID uuid.UUID, since time.Time) (int64, error) {
	return r.sum(ctx, venueID, enums.TransactionTypePurchase, since)
}

func (r *repository) SumPayoutsSince(ctx context.Context, venueID uuid.UUID, since time.Time) (int64, error) {
	return r.sum(ctx, venueID, enums.TransactionTypePayout, since)
}

func (r *repository) sum(ctx context.Context, venueID uuid.UUID, txType enums.TransactionType, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("venue_id = ?", venueID).
		Where("type = ?", txType).
		Where("status = ?", enums.TransactionStatusCompleted).
		Where("created_at >= ?", since.UTC()).
		Scan(&total).Error
	return total, err
}

func totalMismatch(total, components int64) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "total does not match components").
		WithDetails(map[string]any{"totalCents": total, "componentSumCents": components})
}
