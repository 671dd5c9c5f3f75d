package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/metrics"
	"github.com/tickettoken/settlement/pkg/provider"
)

const (
	defaultStaleAfter      = 10 * time.Minute
	defaultBatchLimit      = 100
	defaultProviderTimeout = 12 * time.Second
)

type stuckLister interface {
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}

type statusApplier interface {
	ApplyProviderStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus) (*models.Transaction, error)
}

type StuckPaymentJobParams struct {
	Transactions    stuckLister
	Payments        statusApplier
	Provider        provider.Client
	Metrics         *metrics.ReconciliationMetrics
	Logger          *logger.Logger
	StaleAfter      time.Duration
	BatchLimit      int
	ProviderTimeout time.Duration
}

// StuckPaymentJob asks the provider about payments that have sat in
// processing past the staleness window and applies what it answers.
type StuckPaymentJob struct {
	transactions    stuckLister
	payments        statusApplier
	provider        provider.Client
	metrics         *metrics.ReconciliationMetrics
	logg            *logger.Logger
	staleAfter      time.Duration
	batchLimit      int
	providerTimeout time.Duration
	now             func() time.Time
}

func NewStuckPaymentJob(params StuckPaymentJobParams) (*StuckPaymentJob, error) {
	switch {
	case params.Transactions == nil:
		return nil, errors.New("transaction repository required")
	case params.Payments == nil:
		return nil, errors.New("payment applier required")
	case params.Provider == nil:
		return nil, errors.New("payment provider required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	limit := params.BatchLimit
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	timeout := params.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &StuckPaymentJob{
		transactions:    params.Transactions,
		payments:        params.Payments,
		provider:        params.Provider,
		metrics:         params.Metrics,
		logg:            params.Logger,
		staleAfter:      staleAfter,
		batchLimit:      limit,
		providerTimeout: timeout,
		now:             time.Now,
	}, nil
}

func (j *StuckPaymentJob) Name() string { return "stuck-payment-repair" }

// Run sweeps once. Per-payment failures are logged and returned combined after
// the rest of the batch has been handled.
func (j *StuckPaymentJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	rows, err := j.transactions.ListStuck(ctx, cutoff, j.batchLimit)
	if err != nil {
		return fmt.Errorf("list stuck payments: %w", err)
	}

	var errs error
	repaired := 0
	for _, row := range rows {
		if row.ProviderPaymentID == nil || *row.ProviderPaymentID == "" {
			continue
		}
		itemCtx := j.logg.WithFields(ctx, map[string]any{
			"transaction_id":      row.ID.String(),
			"provider_payment_id": *row.ProviderPaymentID,
		})
		changed, err := j.repair(itemCtx, row)
		if err != nil {
			j.logg.Error(itemCtx, "reconcile payment failed", err)
			j.metrics.IncError("stuck")
			errs = multierr.Append(errs, fmt.Errorf("transaction %s: %w", row.ID, err))
			continue
		}
		if changed {
			repaired++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"repaired":   repaired,
		"cutoff":     cutoff,
	}), "stuck payment sweep complete")
	return errs
}

func (j *StuckPaymentJob) repair(ctx context.Context, row models.Transaction) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, j.providerTimeout)
	defer cancel()
	intent, err := j.provider.RetrievePaymentIntent(callCtx, *row.ProviderPaymentID)
	if err != nil {
		return false, err
	}
	status := MapStatus(intent.Status)
	if status == row.Status {
		return false, nil
	}
	if _, err := j.payments.ApplyProviderStatus(ctx, row.ID, status); err != nil {
		return false, err
	}
	j.metrics.IncRepaired(string(status))
	return true, nil
}
