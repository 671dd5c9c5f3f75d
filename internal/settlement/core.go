// Package settlement assembles the settlement services over shared
// infrastructure so every binary wires the same graph.
package settlement

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tickettoken/settlement/internal/balances"
	"github.com/tickettoken/settlement/internal/fees"
	"github.com/tickettoken/settlement/internal/refunds"
	"github.com/tickettoken/settlement/internal/transactions"
	"github.com/tickettoken/settlement/internal/venues"
	"github.com/tickettoken/settlement/internal/webhooks"
	"github.com/tickettoken/settlement/pkg/cache"
	"github.com/tickettoken/settlement/pkg/config"
	"github.com/tickettoken/settlement/pkg/lock"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/metrics"
	"github.com/tickettoken/settlement/pkg/outbox"
	"github.com/tickettoken/settlement/pkg/provider"
)

type database interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Deps are the infrastructure clients a binary has bootstrapped.
type Deps struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         database
	LockStore  lock.Store
	CacheStore cache.Store
	Provider   provider.Client
	// InboxMetrics may be nil.
	InboxMetrics *metrics.InboxMetrics
	// TaxRates and Gas default to the configured fallbacks when nil.
	TaxRates fees.TaxRateSource
	Gas      fees.GasEstimator
}

// Core is the assembled service graph.
type Core struct {
	TransactionRepo transactions.Repository
	RefundRepo      refunds.Repository
	InboxRepo       webhooks.Repository
	Venues          *venues.Directory
	Fees            *fees.Calculator
	Transactions    *transactions.Service
	Balances        *balances.Service
	Refunds         *refunds.Service
	Inbox           *webhooks.Service
	Outbox          *outbox.Service
	OutboxRepo      *outbox.Repository
	Locker          *lock.RedisLocker
}

func New(deps Deps) (*Core, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("config required")
	case deps.Logger == nil:
		return nil, errors.New("logger required")
	case deps.DB == nil:
		return nil, errors.New("database required")
	case deps.LockStore == nil:
		return nil, errors.New("lock store required")
	case deps.Provider == nil:
		return nil, errors.New("payment provider required")
	}
	cfg := deps.Config
	logg := deps.Logger
	conn := deps.DB.DB()

	locker, err := lock.NewRedisLocker(lock.Params{
		Store:         deps.LockStore,
		Logger:        logg,
		RetryInterval: cfg.Locks.RetryInterval,
	})
	if err != nil {
		return nil, err
	}

	var feeCache *cache.Cache
	if deps.CacheStore != nil {
		feeCache = cache.New(deps.CacheStore, logg)
	}

	txRepo := transactions.NewRepository(conn)
	refundRepo := refunds.NewRepository(conn)
	inboxRepo := webhooks.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	directory, err := venues.NewDirectory(venues.NewRepository(conn), cfg.Fees.DefaultNetwork)
	if err != nil {
		return nil, err
	}

	calculator, err := fees.NewCalculator(fees.Params{
		Config: cfg.Fees,
		Volume: txRepo,
		Venues: directory,
		Tax:    deps.TaxRates,
		Gas:    deps.Gas,
		Cache:  feeCache,
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	balanceSvc, err := balances.NewService(balances.ServiceParams{
		Config:       cfg.Payouts,
		DB:           deps.DB,
		Repository:   balances.NewRepository(conn),
		Transactions: txRepo,
		RiskTiers:    directory,
		Tenants:      directory,
		Locker:       locker,
		Outbox:       emitter,
		Logger:       logg,
		LockTimeout:  cfg.Locks.Timeout,
	})
	if err != nil {
		return nil, err
	}

	txSvc, err := transactions.NewService(transactions.ServiceParams{
		DB:              deps.DB,
		Repository:      txRepo,
		Pricer:          calculator,
		Provider:        deps.Provider,
		Locker:          locker,
		Balances:        balanceSvc,
		Outbox:          emitter,
		Logger:          logg,
		LockTimeout:     cfg.Locks.Timeout,
		ProviderTimeout: cfg.Locks.ProviderTimeout,
	})
	if err != nil {
		return nil, err
	}

	refundSvc, err := refunds.NewService(refunds.ServiceParams{
		DB:              deps.DB,
		Repository:      refundRepo,
		Transactions:    txRepo,
		Balances:        balanceSvc,
		Provider:        deps.Provider,
		Locker:          locker,
		Outbox:          emitter,
		Logger:          logg,
		LockTimeout:     cfg.Locks.Timeout,
		ProviderTimeout: cfg.Locks.ProviderTimeout,
	})
	if err != nil {
		return nil, err
	}

	handler, err := webhooks.NewStripeHandler(webhooks.StripeHandlerParams{
		Transactions: txRepo,
		Refunds:      refundRepo,
		Payments:     txSvc,
		RefundFlow:   refundSvc,
		Logger:       logg,
	})
	if err != nil {
		return nil, err
	}

	inbox, err := webhooks.NewService(webhooks.ServiceParams{
		Repository:  inboxRepo,
		Handler:     handler,
		Metrics:     deps.InboxMetrics,
		Logger:      logg,
		BatchSize:   cfg.Webhooks.BatchSize,
		MaxRetries:  cfg.Webhooks.MaxRetries,
		ItemTimeout: cfg.Webhooks.ItemTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &Core{
		TransactionRepo: txRepo,
		RefundRepo:      refundRepo,
		InboxRepo:       inboxRepo,
		Venues:          directory,
		Fees:            calculator,
		Transactions:    txSvc,
		Balances:        balanceSvc,
		Refunds:         refundSvc,
		Inbox:           inbox,
		Outbox:          emitter,
		OutboxRepo:      outboxRepo,
		Locker:          locker,
	}, nil
}
