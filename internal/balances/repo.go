package balances

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
)

// Balances is a venue's position across the three buckets.
type Balances struct {
	Available int64 `json:"available"`
	Pending   int64 `json:"pending"`
	Reserved  int64 `json:"reserved"`
}

func (b *Balances) set(bucket enums.BalanceType, amount int64) {
	switch bucket {
	case enums.BalanceTypeAvailable:
		b.Available = amount
	case enums.BalanceTypePending:
		b.Pending = amount
	case enums.BalanceTypeReserved:
		b.Reserved = amount
	}
}

// Repository persists venue balance buckets. Amounts only change by delta.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetBalance(ctx context.Context, venueID uuid.UUID) (Balances, error)
	UpdateBalance(ctx context.Context, venueID uuid.UUID, deltaCents int64, bucket enums.BalanceType) error
	CreateInitialBalance(ctx context.Context, venueID uuid.UUID, currency enums.Currency) error
	DeductAvailable(ctx context.Context, venueID uuid.UUID, amountCents int64) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a balance repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetBalance(ctx context.Context, venueID uuid.UUID) (Balances, error) {
	var rows []models.VenueBalance
	if err := r.db.WithContext(ctx).
		Where("venue_id = ?", venueID).
		Find(&rows).Error; err != nil {
		return Balances{}, err
	}
	var out Balances
	for _, row := range rows {
		out.set(row.BalanceType, row.AmountCents)
	}
	return out, nil
}

// UpdateBalance adds deltaCents to the bucket in one upsert statement, creating
// the row on first use.
func (r *repository) UpdateBalance(ctx context.Context, venueID uuid.UUID, deltaCents int64, bucket enums.BalanceType) error {
	if !bucket.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid balance type")
	}
	row := &models.VenueBalance{
		VenueID:     venueID,
		BalanceType: bucket,
		AmountCents: deltaCents,
		Currency:    enums.CurrencyUSD,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "venue_id"}, {Name: "balance_type"}},
			DoUpdates: clause.Assignments(map[string]any{
				"amount_cents": gorm.Expr("venue_balances.amount_cents + excluded.amount_cents"),
				"updated_at":   time.Now().UTC(),
			}),
		}).
		Create(row).Error
}

// CreateInitialBalance inserts zeroed buckets, leaving existing ones alone.
func (r *repository) CreateInitialBalance(ctx context.Context, venueID uuid.UUID, currency enums.Currency) error {
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	rows := make([]models.VenueBalance, 0, 3)
	for _, bucket := range enums.AllBalanceTypes() {
		rows = append(rows, models.VenueBalance{
			VenueID:     venueID,
			BalanceType: bucket,
			Currency:    currency,
		})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "venue_id"}, {Name: "balance_type"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

// DeductAvailable subtracts from the available bucket only while it covers the
// amount. A losing compare-and-swap reports CodeInsufficientFunds.
func (r *repository) DeductAvailable(ctx context.Context, venueID uuid.UUID, amountCents int64) error {
	if amountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "deduction must be positive")
	}
	res := r.db.WithContext(ctx).
		Model(&models.VenueBalance{}).
		Where("venue_id = ? AND balance_type = ? AND amount_cents >= ?", venueID, enums.BalanceTypeAvailable, amountCents).
		Updates(map[string]any{
			"amount_cents": gorm.Expr("amount_cents - ?", amountCents),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient available balance")
	}
	return nil
}
