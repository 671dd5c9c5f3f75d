package balances

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tickettoken/settlement/internal/transactions"
	"github.com/tickettoken/settlement/pkg/config"
	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
	"github.com/tickettoken/settlement/pkg/lock"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/money"
	"github.com/tickettoken/settlement/pkg/outbox"
	"github.com/tickettoken/settlement/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RiskTierSource classifies a venue for reserve sizing.
type RiskTierSource interface {
	RiskTier(ctx context.Context, venueID uuid.UUID) (enums.RiskTier, error)
}

// TenantSource resolves the tenant a venue belongs to.
type TenantSource interface {
	TenantID(ctx context.Context, venueID uuid.UUID) (uuid.UUID, error)
}

type ServiceParams struct {
	Config       config.PayoutsConfig
	DB           txRunner
	Repository   Repository
	Transactions transactions.Repository
	RiskTiers    RiskTierSource
	Tenants      TenantSource
	Locker       lock.Locker
	Outbox       outbox.Emitter
	Logger       *logger.Logger
	LockTimeout  time.Duration
	NowFunc      func() time.Time
}

// Service is the venue balance ledger.
type Service struct {
	cfg          config.PayoutsConfig
	db           txRunner
	repo         Repository
	transactions transactions.Repository
	riskTiers    RiskTierSource
	tenants      TenantSource
	locker       lock.Locker
	outbox       outbox.Emitter
	logg         *logger.Logger
	lockTimeout  time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Repository == nil:
		return nil, errors.New("balance repository is required")
	case params.Transactions == nil:
		return nil, errors.New("transaction repository is required")
	case params.RiskTiers == nil:
		return nil, errors.New("risk tier source is required")
	case params.Tenants == nil:
		return nil, errors.New("tenant source is required")
	case params.Locker == nil:
		return nil, errors.New("locker is required")
	case params.Outbox == nil:
		return nil, errors.New("outbox emitter is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	now := params.NowFunc
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:          params.Config,
		db:           params.DB,
		repo:         params.Repository,
		transactions: params.Transactions,
		riskTiers:    params.RiskTiers,
		tenants:      params.Tenants,
		locker:       params.Locker,
		outbox:       params.Outbox,
		logg:         params.Logger,
		lockTimeout:  params.LockTimeout,
		now:          now,
	}, nil
}

// GetBalance returns zero buckets for a venue with no rows.
func (s *Service) GetBalance(ctx context.Context, venueID uuid.UUID) (Balances, error) {
	if venueID == uuid.Nil {
		return Balances{}, pkgerrors.New(pkgerrors.CodeValidation, "venue id is required")
	}
	return s.repo.GetBalance(ctx, venueID)
}

// UpdateBalance applies a signed delta to one bucket and returns the new position.
func (s *Service) UpdateBalance(ctx context.Context, venueID uuid.UUID, deltaCents int64, bucket enums.BalanceType) (Balances, error) {
	if venueID == uuid.Nil {
		return Balances{}, pkgerrors.New(pkgerrors.CodeValidation, "venue id is required")
	}
	if err := s.repo.UpdateBalance(ctx, venueID, deltaCents, bucket); err != nil {
		return Balances{}, err
	}
	return s.repo.GetBalance(ctx, venueID)
}

func (s *Service) CreateInitialBalance(ctx context.Context, venueID uuid.UUID) error {
	if venueID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "venue id is required")
	}
	return s.repo.CreateInitialBalance(ctx, venueID, enums.CurrencyUSD)
}

// CreditWithTx adds amountCents to a bucket inside the caller's transaction.
func (s *Service) CreditWithTx(ctx context.Context, tx *gorm.DB, venueID uuid.UUID, amountCents int64, bucket enums.BalanceType) error {
	if tx == nil {
		return errors.New("transaction is required")
	}
	if amountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "credit must be positive")
	}
	return s.repo.WithTx(tx).UpdateBalance(ctx, venueID, amountCents, bucket)
}

// DeductAvailableWithTx removes amountCents from the available bucket inside
// the caller's transaction, failing with CodeInsufficientFunds rather than
// going negative.
func (s *Service) DeductAvailableWithTx(ctx context.Context, tx *gorm.DB, venueID uuid.UUID, amountCents int64) error {
	if tx == nil {
		return errors.New("transaction is required")
	}
	return s.repo.WithTx(tx).DeductAvailable(ctx, venueID, amountCents)
}

// DebitWithTx removes amountCents from the available bucket even when that
// leaves it negative. It records money the provider has already moved, where
// refusing the entry would only hide the debt.
func (s *Service) DebitWithTx(ctx context.Context, tx *gorm.DB, venueID uuid.UUID, amountCents int64) error {
	if tx == nil {
		return errors.New("transaction is required")
	}
	if amountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "debit must be positive")
	}
	return s.repo.WithTx(tx).UpdateBalance(ctx, venueID, -amountCents, enums.BalanceTypeAvailable)
}

// PayoutQuote is what a venue could withdraw right now.
type PayoutQuote struct {
	Available          int64          `json:"available"`
	Reserve            int64          `json:"reserve"`
	Payable            int64          `json:"payable"`
	RiskTier           enums.RiskTier `json:"riskTier"`
	ReserveBasisPoints int64          `json:"reserveBasisPoints"`
}

// CalculatePayoutAmount holds back the risk-tier reserve from the available
// bucket. Anything under the minimum payout is not payable.
func (s *Service) CalculatePayoutAmount(ctx context.Context, venueID uuid.UUID) (PayoutQuote, error) {
	balance, err := s.GetBalance(ctx, venueID)
	if err != nil {
		return PayoutQuote{}, err
	}
	tier, err := s.riskTiers.RiskTier(ctx, venueID)
	if err != nil {
		return PayoutQuote{}, err
	}
	return QuotePayout(s.cfg, balance.Available, tier), nil
}

// QuotePayout is the pure part of CalculatePayoutAmount.
func QuotePayout(cfg config.PayoutsConfig, available int64, tier enums.RiskTier) PayoutQuote {
	bps := reserveBasisPoints(cfg, tier)
	quote := PayoutQuote{
		Available:          available,
		RiskTier:           tier,
		ReserveBasisPoints: bps,
	}
	if available <= 0 {
		return quote
	}
	quote.Reserve = money.PercentOfBasisPoints(available, bps)
	payable := money.SubtractCents(available, quote.Reserve)
	if payable < cfg.MinPayoutCents {
		payable = 0
	}
	quote.Payable = payable
	return quote
}

func reserveBasisPoints(cfg config.PayoutsConfig, tier enums.RiskTier) int64 {
	switch tier {
	case enums.RiskTierLow:
		return cfg.LowRiskReserveBPS
	case enums.RiskTierHigh:
		return cfg.HighRiskReserveBPS
	default:
		return cfg.MediumRiskReserveBPS
	}
}

// ProcessPayout withdraws amountCents from the available bucket under the
// venue balance lock, recording a completed payout transaction and a
// payout_processed event in the same database transaction.
func (s *Service) ProcessPayout(ctx context.Context, venueID uuid.UUID, amountCents int64) (*models.Transaction, error) {
	if venueID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "venue id is required")
	}
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout amount must be positive")
	}
	ctx = s.logg.WithVenueID(ctx, venueID.String())

	var payout *models.Transaction
	err := s.locker.WithLock(ctx, lock.VenueBalanceKey(venueID.String()), s.lockTimeout, func(ctx context.Context) error {
		balance, err := s.repo.GetBalance(ctx, venueID)
		if err != nil {
			return err
		}
		if amountCents > balance.Available {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "payout exceeds available balance").
				WithDetails(map[string]any{"availableCents": balance.Available, "requestedCents": amountCents})
		}

		now := s.now().UTC()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		paidToday, err := s.transactions.SumPayoutsSince(ctx, venueID, dayStart)
		if err != nil {
			return err
		}
		if s.cfg.MaxDailyPayoutCents > 0 && money.AddCents(paidToday, amountCents) > s.cfg.MaxDailyPayoutCents {
			return pkgerrors.New(pkgerrors.CodeDailyLimitExceeded, "daily payout limit exceeded").
				WithDetails(map[string]any{"paidTodayCents": paidToday, "limitCents": s.cfg.MaxDailyPayoutCents})
		}

		tenantID, err := s.tenants.TenantID(ctx, venueID)
		if err != nil {
			return err
		}

		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).DeductAvailable(ctx, venueID, amountCents); err != nil {
				return err
			}
			row, err := s.transactions.WithTx(tx).Create(ctx, transactions.CreateInput{
				TenantID:    tenantID,
				VenueID:     venueID,
				Type:        enums.TransactionTypePayout,
				Status:      enums.TransactionStatusCompleted,
				AmountCents: amountCents,
				Currency:    enums.CurrencyUSD,
			})
			if err != nil {
				return err
			}
			payout = row
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPayoutProcessed,
				AggregateType: enums.AggregateVenueBalance,
				AggregateID:   venueID,
				Source:        &outbox.SourceRef{TenantID: &tenantID, VenueID: &venueID},
				Data: payloads.PayoutProcessedEvent{
					PayoutTransactionID: row.ID,
					VenueID:             venueID,
					TenantID:            tenantID,
					AmountCents:         amountCents,
					Currency:            string(row.Currency),
					ProcessedAt:         now,
				},
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithTransactionID(ctx, payout.ID.String()), "payout processed")
	return payout, nil
}
