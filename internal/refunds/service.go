package refunds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tickettoken/settlement/internal/balances"
	"github.com/tickettoken/settlement/internal/transactions"
	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
	"github.com/tickettoken/settlement/pkg/lock"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/money"
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

// VenueBalances is the slice of the balance ledger refunds move money through.
type VenueBalances interface {
	GetBalance(ctx context.Context, venueID uuid.UUID) (balances.Balances, error)
	DeductAvailableWithTx(ctx context.Context, tx *gorm.DB, venueID uuid.UUID, amountCents int64) error
	DebitWithTx(ctx context.Context, tx *gorm.DB, venueID uuid.UUID, amountCents int64) error
	CreditWithTx(ctx context.Context, tx *gorm.DB, venueID uuid.UUID, amountCents int64, bucket enums.BalanceType) error
}

// RefundInput requests a refund against a completed purchase.
type RefundInput struct {
	TransactionID uuid.UUID      `json:"transactionId" validate:"required"`
	AmountCents   int64          `json:"amountCents" validate:"gt=0"`
	Reason        string         `json:"reason" validate:"max=500"`
	Metadata      map[string]any `json:"metadata"`
}

// refundMetadata is the part of a refund's metadata the service owns.
type refundMetadata struct {
	VenueID         uuid.UUID `json:"venue_id"`
	VenueShareCents int64     `json:"venue_share_cents"`
}

type ServiceParams struct {
	DB              txRunner
	Repository      Repository
	Transactions    transactions.Repository
	Balances        VenueBalances
	Provider        provider.Client
	Locker          lock.Locker
	Outbox          outbox.Emitter
	Logger          *logger.Logger
	LockTimeout     time.Duration
	ProviderTimeout time.Duration
}

// Service issues refunds and applies provider refund updates.
type Service struct {
	db              txRunner
	repo            Repository
	transactions    transactions.Repository
	balances        VenueBalances
	provider        provider.Client
	locker          lock.Locker
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
		return nil, errors.New("refund repository is required")
	case params.Transactions == nil:
		return nil, errors.New("transaction repository is required")
	case params.Balances == nil:
		return nil, errors.New("venue balances are required")
	case params.Provider == nil:
		return nil, errors.New("payment provider is required")
	case params.Locker == nil:
		return nil, errors.New("locker is required")
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
		transactions:    params.Transactions,
		balances:        params.Balances,
		provider:        params.Provider,
		locker:          params.Locker,
		outbox:          params.Outbox,
		logg:            params.Logger,
		lockTimeout:     lockTimeout,
		providerTimeout: providerTimeout,
	}, nil
}

// RequestRefund refunds part or all of a completed purchase. The check of the
// refundable remainder and the venue's available funds, the provider call and
// the deduction all happen under the venue balance lock, so concurrent
// requests cannot spend the same funds twice.
func (s *Service) RequestRefund(ctx context.Context, input RefundInput) (*models.Refund, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	// This read only locates the venue lock. refundLocked re-reads the
	// transaction under the lock, and only that copy may be trusted.
	purchase, err := s.transactions.FindByID(ctx, input.TransactionID)
	if err != nil {
		return nil, err
	}
	if purchase == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"transaction_id": purchase.ID.String(),
		"venue_id":       purchase.VenueID.String(),
	})

	var refund *models.Refund
	err = s.locker.WithLock(ctx, lock.VenueBalanceKey(purchase.VenueID.String()), s.lockTimeout, func(ctx context.Context) error {
		var err error
		refund, err = s.refundLocked(ctx, purchase.ID, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *Service) refundLocked(ctx context.Context, transactionID uuid.UUID, input RefundInput) (*models.Refund, error) {
	purchase, err := s.transactions.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if purchase == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	if purchase.Type != enums.TransactionTypePurchase {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only purchases can be refunded")
	}
	if purchase.Status != enums.TransactionStatusCompleted && purchase.Status != enums.TransactionStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("transaction is %s", purchase.Status))
	}
	if purchase.ProviderPaymentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "transaction has no provider payment")
	}

	// a refund whose provider call never answered is retried under its own
	// idempotency key, so the provider cannot issue it twice
	refund, err := s.findUnanswered(ctx, purchase.ID, input.AmountCents)
	if err != nil {
		return nil, err
	}
	resumed := refund != nil

	var share int64
	if resumed {
		meta, err := decodeMetadata(refund)
		if err != nil {
			return nil, err
		}
		share = meta.VenueShareCents
		s.logg.Info(s.logg.WithField(ctx, "refund_id", refund.ID.String()), "retrying unanswered provider refund")
	} else {
		active, err := s.repo.SumActiveByTransaction(ctx, purchase.ID)
		if err != nil {
			return nil, err
		}
		remaining := money.SubtractCents(purchase.AmountCents, active)
		if input.AmountCents > remaining {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "refund exceeds refundable amount").
				WithDetails(map[string]any{"remainingCents": remaining, "requestedCents": input.AmountCents})
		}

		share = money.Prorate(purchase.VenuePayoutCents, input.AmountCents, purchase.AmountCents)
		balance, err := s.balances.GetBalance(ctx, purchase.VenueID)
		if err != nil {
			return nil, err
		}
		if share > balance.Available {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "venue balance cannot cover refund").
				WithDetails(map[string]any{"availableCents": balance.Available, "venueShareCents": share})
		}

		metadata, err := encodeMetadata(input.Metadata, refundMetadata{VenueID: purchase.VenueID, VenueShareCents: share})
		if err != nil {
			return nil, err
		}
		refund, err = s.repo.Create(ctx, purchase.ID, input.AmountCents, input.Reason, CreateOptions{Metadata: metadata})
		if err != nil {
			return nil, err
		}
	}
	ctx = s.logg.WithField(ctx, "refund_id", refund.ID.String())

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()
	issued, err := s.provider.CreateRefund(callCtx, provider.CreateRefundInput{
		PaymentIntentID: *purchase.ProviderPaymentID,
		AmountCents:     refund.AmountCents,
		Reason:          refund.Reason,
		Metadata: map[string]string{
			"refund_id":      refund.ID.String(),
			"transaction_id": purchase.ID.String(),
		},
		IdempotencyKey: "refund:" + refund.ID.String(),
	})
	if err != nil {
		if provider.IsDeclined(err) {
			s.logg.Warn(ctx, "provider declined refund")
			if _, markErr := s.ApplyProviderRefund(ctx, refund.ID, enums.RefundStatusFailed, nil); markErr != nil {
				s.logg.Error(ctx, "mark refund failed", markErr)
			}
		} else {
			// outcome unknown: the refund stays pending and keeps its claim on
			// the remainder until a webhook or a retry settles it
			s.logg.Error(ctx, "provider refund outcome unknown", err)
		}
		if typed := pkgerrors.As(err); typed != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "create refund")
	}

	status := provider.MapRefundStatus(issued.Status)
	if status == enums.RefundStatusFailed {
		if _, err := s.ApplyProviderRefund(ctx, refund.ID, status, &issued.ID); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeProvider, "provider rejected refund")
	}

	var updated *models.Refund
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, refund.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
		}
		// a webhook failed the refund while the provider call was in flight;
		// ApplyProviderRefund already settled the venue share
		if current.Status == enums.RefundStatusFailed {
			updated = current
			return nil
		}
		if !current.ShareDeducted && share > 0 {
			if resumed {
				// the provider may have paid this out long ago
				err = s.balances.DebitWithTx(ctx, tx, purchase.VenueID, share)
			} else {
				err = s.balances.DeductAvailableWithTx(ctx, tx, purchase.VenueID, share)
			}
			if err != nil {
				return err
			}
			if err := repo.SetShareDeducted(ctx, refund.ID, true); err != nil {
				return err
			}
		}
		if current.Status == enums.RefundStatusCompleted {
			status = enums.RefundStatusCompleted
		}
		updated, err = repo.UpdateStatus(ctx, refund.ID, status, &issued.ID)
		if err != nil {
			return err
		}
		if err := s.markRefundedIfFull(ctx, tx, purchase.ID); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundRequested,
			AggregateType: enums.AggregateRefund,
			AggregateID:   refund.ID,
			Source:        &outbox.SourceRef{TenantID: &purchase.TenantID, VenueID: &purchase.VenueID},
			Data: payloads.RefundRequestedEvent{
				RefundID:         refund.ID,
				TransactionID:    purchase.ID,
				VenueID:          purchase.VenueID,
				UserID:           purchase.UserID,
				AmountCents:      refund.AmountCents,
				VenueShareCents:  share,
				Reason:           refund.Reason,
				ProviderRefundID: issued.ID,
			},
		})
	})
	if err != nil {
		// the provider accepted the refund; its webhook settles the share
		s.logg.Error(s.logg.WithField(ctx, "provider_refund_id", issued.ID), "record accepted refund", err)
		return nil, err
	}
	if updated.Status == enums.RefundStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeProvider, "provider failed refund")
	}
	return updated, nil
}

// findUnanswered returns a pending refund of amountCents whose provider call
// never came back with an id.
func (s *Service) findUnanswered(ctx context.Context, transactionID uuid.UUID, amountCents int64) (*models.Refund, error) {
	rows, err := s.repo.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		row := rows[i]
		if row.Status == enums.RefundStatusPending && row.ProviderRefundID == nil && row.AmountCents == amountCents {
			return &row, nil
		}
	}
	return nil, nil
}

// ApplyProviderRefund applies a provider refund update. The venue share leaves
// the available bucket once, on whichever of the request or a processing or
// completed update gets there first. Moving into failed gives back a deducted
// share. Completed and failed refunds ignore later updates, and nothing moves
// back to pending.
func (s *Service) ApplyProviderRefund(ctx context.Context, refundID uuid.UUID, status enums.RefundStatus, providerRefundID *string) (*models.Refund, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid refund status %q", status))
	}

	var result *models.Refund
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, refundID)
		if err != nil {
			return err
		}
		if current == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
		}
		if current.Status == status || isTerminal(current.Status) || status == enums.RefundStatusPending {
			result = current
			return nil
		}

		updated, err := repo.UpdateStatus(ctx, refundID, status, providerRefundID)
		if err != nil {
			return err
		}

		switch status {
		case enums.RefundStatusFailed:
			err = s.restore(ctx, tx, current)
		case enums.RefundStatusProcessing:
			err = s.settleShare(ctx, tx, current)
		case enums.RefundStatusCompleted:
			err = s.complete(ctx, tx, current, updated)
		}
		if err != nil {
			return err
		}
		result, err = repo.FindByID(ctx, refundID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) complete(ctx context.Context, tx *gorm.DB, before, updated *models.Refund) error {
	if err := s.settleShare(ctx, tx, before); err != nil {
		return err
	}
	if err := s.markRefundedIfFull(ctx, tx, before.TransactionID); err != nil {
		return err
	}
	completedAt := time.Now().UTC()
	if updated.CompletedAt != nil {
		completedAt = *updated.CompletedAt
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundCompleted,
		AggregateType: enums.AggregateRefund,
		AggregateID:   updated.ID,
		Data: payloads.RefundCompletedEvent{
			RefundID:      updated.ID,
			TransactionID: updated.TransactionID,
			AmountCents:   updated.AmountCents,
			CompletedAt:   completedAt,
		},
	})
}

// settleShare takes the venue share of a refund the provider has accepted,
// unless it is already out.
func (s *Service) settleShare(ctx context.Context, tx *gorm.DB, refund *models.Refund) error {
	if refund.ShareDeducted {
		return nil
	}
	meta, err := decodeMetadata(refund)
	if err != nil {
		return err
	}
	if meta.VenueShareCents <= 0 || meta.VenueID == uuid.Nil {
		return nil
	}
	if err := s.balances.DebitWithTx(ctx, tx, meta.VenueID, meta.VenueShareCents); err != nil {
		return err
	}
	return s.repo.WithTx(tx).SetShareDeducted(ctx, refund.ID, true)
}

// restore credits back a deducted venue share of a failed refund and reopens
// a fully refunded purchase.
func (s *Service) restore(ctx context.Context, tx *gorm.DB, refund *models.Refund) error {
	meta, err := decodeMetadata(refund)
	if err != nil {
		return err
	}
	restored := int64(0)
	if refund.ShareDeducted && meta.VenueShareCents > 0 && meta.VenueID != uuid.Nil {
		if err := s.balances.CreditWithTx(ctx, tx, meta.VenueID, meta.VenueShareCents, enums.BalanceTypeAvailable); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).SetShareDeducted(ctx, refund.ID, false); err != nil {
			return err
		}
		restored = meta.VenueShareCents
	}

	txRepo := s.transactions.WithTx(tx)
	purchase, err := txRepo.FindByIDForUpdate(ctx, refund.TransactionID)
	if err != nil {
		return err
	}
	if purchase != nil && purchase.Status == enums.TransactionStatusRefunded {
		if _, err := txRepo.UpdateStatus(ctx, purchase.ID, enums.TransactionStatusCompleted); err != nil {
			return err
		}
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundFailed,
		AggregateType: enums.AggregateRefund,
		AggregateID:   refund.ID,
		Data: payloads.RefundFailedEvent{
			RefundID:           refund.ID,
			TransactionID:      refund.TransactionID,
			VenueID:            meta.VenueID,
			AmountCents:        refund.AmountCents,
			RestoredShareCents: restored,
		},
	})
}

// markRefundedIfFull flips a completed purchase to refunded once its live
// refunds cover the ticket amount.
func (s *Service) markRefundedIfFull(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID) error {
	txRepo := s.transactions.WithTx(tx)
	purchase, err := txRepo.FindByIDForUpdate(ctx, transactionID)
	if err != nil {
		return err
	}
	if purchase == nil || purchase.Status != enums.TransactionStatusCompleted {
		return nil
	}
	active, err := s.repo.WithTx(tx).SumActiveByTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if active < purchase.AmountCents {
		return nil
	}
	_, err = txRepo.UpdateStatus(ctx, transactionID, enums.TransactionStatusRefunded)
	return err
}

func isTerminal(status enums.RefundStatus) bool {
	return status == enums.RefundStatusCompleted || status == enums.RefundStatusFailed
}

func decodeMetadata(refund *models.Refund) (refundMetadata, error) {
	var meta refundMetadata
	if len(refund.Metadata) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(refund.Metadata, &meta); err != nil {
		return meta, fmt.Errorf("decode refund metadata: %w", err)
	}
	return meta, nil
}

func encodeMetadata(extra map[string]any, owned refundMetadata) (json.RawMessage, error) {
	merged := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		merged[k] = v
	}
	merged["venue_id"] = owned.VenueID
	merged["venue_share_cents"] = owned.VenueShareCents
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "metadata must be JSON encodable")
	}
	return raw, nil
}
