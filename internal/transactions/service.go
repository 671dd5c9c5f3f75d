package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tickettoken/settlement/internal/fees"
	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
	"github.com/tickettoken/settlement/pkg/lock"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/outbox"
	"github.com/tickettoken/settlement/pkg/outbox/payloads"
	"github.com/tickettoken/settlement/pkg/provider"
	"github.com/tickettoken/settlement/pkg/validate"
)

const (
	defaultLockTimeout     = 12 * time.Second
	defaultProviderTimeout = 12 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Pricer prices a purchase.
type Pricer interface {
	CalculateDynamicFees(ctx context.Context, venueID uuid.UUID, ticketPriceCents int64, ticketCount int) (fees.FeeBreakdown, error)
}

// BalanceCreditor adds to a venue bucket inside the caller's transaction.
type BalanceCreditor interface {
	CreditWithTx(ctx context.Context, tx *gorm.DB, venueID uuid.UUID, amountCents int64, bucket enums.BalanceType) error
}

type ServiceParams struct {
	DB              txRunner
	Repository      Repository
	Pricer          Pricer
	Provider        provider.Client
	Locker          lock.Locker
	Balances        BalanceCreditor
	Outbox          outbox.Emitter
	Logger          *logger.Logger
	LockTimeout     time.Duration
	ProviderTimeout time.Duration
}

// Service runs the purchase flows on top of the transaction ledger.
type Service struct {
	db              txRunner
	repo            Repository
	pricer          Pricer
	provider        provider.Client
	locker          lock.Locker
	balances        BalanceCreditor
	outbox          outbox.Emitter
	logg            *logger.Logger
	lockTimeout     time.Duration
	providerTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Repository == nil:
		return nil, errors.New("transaction repository is required")
	case params.Pricer == nil:
		return nil, errors.New("pricer is required")
	case params.Provider == nil:
		return nil, errors.New("payment provider is required")
	case params.Locker == nil:
		return nil, errors.New("locker is required")
	case params.Balances == nil:
		return nil, errors.New("balance creditor is required")
	case params.Outbox == nil:
		return nil, errors.New("outbox emitter is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	lockTimeout := params.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	providerTimeout := params.ProviderTimeout
	if providerTimeout <= 0 {
		providerTimeout = defaultProviderTimeout
	}
	return &Service{
		db:              params.DB,
		repo:            params.Repository,
		pricer:          params.Pricer,
		provider:        params.Provider,
		locker:          params.Locker,
		balances:        params.Balances,
		outbox:          params.Outbox,
		logg:            params.Logger,
		lockTimeout:     lockTimeout,
		providerTimeout: providerTimeout,
	}, nil
}

// CreatePurchase prices and records a purchase, then opens a provider payment
// intent for it. A repeated idempotency key returns the stored transaction.
func (s *Service) CreatePurchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	currency := enums.CurrencyUSD
	if input.Currency != "" {
		parsed, err := enums.ParseCurrency(input.Currency)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
		}
		currency = parsed
	}
	metadata, err := encodeMetadata(input.Metadata)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"tenant_id": input.TenantID.String(),
		"venue_id":  input.VenueID.String(),
		"user_id":   input.UserID.String(),
	})

	var result *PurchaseResult
	err = s.locker.WithLock(ctx, lock.PurchaseKey(input.UserID.String()), s.lockTimeout, func(ctx context.Context) error {
		existing, err := s.repo.FindByIdempotencyKey(ctx, input.TenantID, input.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			result, err = s.resume(ctx, existing, input.IdempotencyKey)
			return err
		}

		breakdown, err := s.pricer.CalculateDynamicFees(ctx, input.VenueID, input.TicketPriceCents, input.TicketCount)
		if err != nil {
			return err
		}

		key := input.IdempotencyKey
		total := breakdown.Total
		row, err := s.repo.Create(ctx, CreateInput{
			TenantID:         input.TenantID,
			VenueID:          input.VenueID,
			UserID:           input.UserID,
			EventID:          input.EventID,
			Type:             enums.TransactionTypePurchase,
			AmountCents:      breakdown.Breakdown.TicketPrice,
			Currency:         currency,
			PlatformFeeCents: breakdown.Platform,
			VenuePayoutCents: breakdown.Breakdown.TicketPrice,
			GasFeeCentsPaid:  breakdown.GasEstimate,
			TaxCents:         breakdown.Tax,
			TotalCents:       &total,
			IdempotencyKey:   &key,
			Metadata:         metadata,
		})
		if pkgerrors.Is(err, pkgerrors.CodeDuplicateRequest) {
			// another worker won the insert
			s.logg.Debug(s.logg.WithFields(ctx, pkgerrors.Dump(err).LogFields()), "purchase insert lost idempotency race")
			existing, findErr := s.repo.FindByIdempotencyKey(ctx, input.TenantID, input.IdempotencyKey)
			if findErr != nil {
				return findErr
			}
			if existing == nil {
				return err
			}
			result = &PurchaseResult{Transaction: existing, Existing: true}
			return nil
		}
		if err != nil {
			return err
		}

		result = &PurchaseResult{Transaction: row, Fees: &breakdown}
		secret, err := s.attachIntent(ctx, row, key)
		if err != nil {
			return err
		}
		result.ClientSecret = secret
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resume returns a stored purchase, retrying intent creation when an earlier
// attempt never reached the provider.
func (s *Service) resume(ctx context.Context, existing *models.Transaction, key string) (*PurchaseResult, error) {
	result := &PurchaseResult{Transaction: existing, Existing: true}
	if existing.ProviderPaymentID != nil || existing.Status != enums.TransactionStatusPending {
		return result, nil
	}
	secret, err := s.attachIntent(ctx, existing, key)
	if err != nil {
		return nil, err
	}
	result.ClientSecret = secret
	return result, nil
}

func (s *Service) attachIntent(ctx context.Context, row *models.Transaction, key string) (string, error) {
	amount := row.AmountCents
	if row.TotalCents != nil {
		amount = *row.TotalCents
	}
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()
	intent, err := s.provider.CreatePaymentIntent(callCtx, provider.CreatePaymentIntentInput{
		AmountCents: amount,
		Currency:    strings.ToLower(string(row.Currency)),
		Metadata: map[string]string{
			"transaction_id": row.ID.String(),
			"tenant_id":      row.TenantID.String(),
			"venue_id":       row.VenueID.String(),
			"event_id":       row.EventID.String(),
		},
		IdempotencyKey: providerIdempotencyKey(row.TenantID, key),
	})
	if err != nil {
		s.logg.Error(s.logg.WithTransactionID(ctx, row.ID.String()), "create payment intent failed", err)
		return "", providerError(err, "create payment intent")
	}
	if err := s.repo.SetProviderPaymentID(ctx, row.ID, intent.ID); err != nil {
		return "", err
	}
	row.ProviderPaymentID = &intent.ID
	return intent.ClientSecret, nil
}

// ConfirmPayment confirms the purchase with the provider and applies the
// status the provider answers with. Nothing is written if the call fails.
func (s *Service) ConfirmPayment(ctx context.Context, userID, transactionID uuid.UUID) (*models.Transaction, error) {
	if userID == uuid.Nil || transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and transaction id are required")
	}
	ctx = s.logg.WithTransactionID(ctx, transactionID.String())

	var updated *models.Transaction
	err := s.locker.WithLock(ctx, lock.PurchaseKey(userID.String()), s.lockTimeout, func(ctx context.Context) error {
		row, err := s.repo.FindByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if row == nil || row.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		if row.ProviderPaymentID == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment has not been initialized with the provider")
		}
		if row.Status != enums.TransactionStatusPending && row.Status != enums.TransactionStatusProcessing {
			updated = row
			return nil
		}

		callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
		defer cancel()
		intent, err := s.provider.ConfirmPaymentIntent(callCtx, *row.ProviderPaymentID)
		if err != nil {
			s.logg.Error(ctx, "confirm payment intent failed", err)
			return providerError(err, "confirm payment intent")
		}

		updated, err = s.ApplyProviderStatus(ctx, row.ID, provider.MapPaymentStatus(intent.Status))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ApplyProviderStatus moves a transaction to status under a row lock. Entering
// completed credits the venue's available bucket exactly once. Refunded
// transactions ignore further provider updates, and completed ones only accept
// refunded.
func (s *Service) ApplyProviderStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus) (*models.Transaction, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction status %q", status))
	}

	var result *models.Transaction
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		if !acceptsProviderStatus(current.Status, status) {
			if current.Status != status {
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"transaction_id": id.String(),
					"from":           current.Status,
					"to":             status,
				}), "ignoring stale provider status")
			}
			result = current
			return nil
		}

		updated, err := repo.UpdateStatus(ctx, id, status)
		if err != nil {
			return err
		}

		switch status {
		case enums.TransactionStatusCompleted:
			if current.Type == enums.TransactionTypePurchase && current.VenuePayoutCents > 0 {
				if err := s.balances.CreditWithTx(ctx, tx, current.VenueID, current.VenuePayoutCents, enums.BalanceTypeAvailable); err != nil {
					return err
				}
			}
			if err := s.emitCompleted(ctx, tx, updated); err != nil {
				return err
			}
		case enums.TransactionStatusFailed, enums.TransactionStatusCancelled:
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentFailed,
				AggregateType: enums.AggregateTransaction,
				AggregateID:   updated.ID,
				Source:        sourceOf(updated),
				Data: payloads.PaymentFailedEvent{
					TransactionID: updated.ID,
					UserID:        updated.UserID,
					VenueID:       updated.VenueID,
					Status:        status,
				},
			}); err != nil {
				return err
			}
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func acceptsProviderStatus(from, to enums.TransactionStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case enums.TransactionStatusRefunded:
		return false
	case enums.TransactionStatusCompleted:
		return to == enums.TransactionStatusRefunded
	default:
		return true
	}
}

func (s *Service) emitCompleted(ctx context.Context, tx *gorm.DB, row *models.Transaction) error {
	providerID := ""
	if row.ProviderPaymentID != nil {
		providerID = *row.ProviderPaymentID
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   row.ID,
		Source:        sourceOf(row),
		Data: payloads.PaymentCompletedEvent{
			TransactionID:     row.ID,
			TenantID:          row.TenantID,
			VenueID:           row.VenueID,
			UserID:            row.UserID,
			EventID:           row.EventID,
			AmountCents:       row.AmountCents,
			VenuePayoutCents:  row.VenuePayoutCents,
			PlatformFeeCents:  row.PlatformFeeCents,
			Currency:          string(row.Currency),
			ProviderPaymentID: providerID,
			CompletedAt:       row.UpdatedAt,
		},
	})
}

func sourceOf(row *models.Transaction) *outbox.SourceRef {
	tenantID := row.TenantID
	venueID := row.VenueID
	return &outbox.SourceRef{TenantID: &tenantID, VenueID: &venueID}
}

func encodeMetadata(metadata map[string]any) (json.RawMessage, error) {
	if len(metadata) == 0 {
		return json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "metadata must be JSON encodable")
	}
	return raw, nil
}

// providerIdempotencyKey scopes the caller key by tenant; provider keys are
// account-wide.
func providerIdempotencyKey(tenantID uuid.UUID, key string) string {
	return "purchase:" + tenantID.String() + ":" + key
}

func providerError(err error, message string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeProvider, err, message)
}
