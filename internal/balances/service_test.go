package balances

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickettoken/settlement/internal/transactions"
	"github.com/tickettoken/settlement/pkg/config"
	"github.com/tickettoken/settlement/pkg/db"
	"github.com/tickettoken/settlement/pkg/db/dbtest"
	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
	"github.com/tickettoken/settlement/pkg/lock"
	"github.com/tickettoken/settlement/pkg/lock/locktest"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/outbox"
)

type staticVenues struct {
	tier    enums.RiskTier
	tenants map[uuid.UUID]uuid.UUID
}

func (s staticVenues) RiskTier(context.Context, uuid.UUID) (enums.RiskTier, error) {
	if s.tier == "" {
		return enums.RiskTierMedium, nil
	}
	return s.tier, nil
}

func (s staticVenues) TenantID(_ context.Context, venueID uuid.UUID) (uuid.UUID, error) {
	id, ok := s.tenants[venueID]
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "venue not found")
	}
	return id, nil
}

func payoutsConfig() config.PayoutsConfig {
	return config.PayoutsConfig{
		MinPayoutCents:       10000,
		MaxDailyPayoutCents:  5000000,
		LowRiskReserveBPS:    500,
		MediumRiskReserveBPS: 1000,
		HighRiskReserveBPS:   2000,
	}
}

func newService(t *testing.T, client *db.Client, venues staticVenues) *Service {
	t.Helper()
	locker, err := lock.NewRedisLocker(lock.Params{Store: locktest.NewStore(), RetryInterval: time.Millisecond})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Config:       payoutsConfig(),
		DB:           client,
		Repository:   NewRepository(client.DB()),
		Transactions: transactions.NewRepository(client.DB()),
		RiskTiers:    venues,
		Tenants:      venues,
		Locker:       locker,
		Outbox:       outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return svc
}

func TestGetBalanceWithoutRowsIsZero(t *testing.T) {
	client := dbtest.Open(t)
	svc := newService(t, client, staticVenues{})

	balance, err := svc.GetBalance(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, Balances{}, balance)
}

func TestUpdateBalanceAccumulates(t *testing.T) {
	client := dbtest.Open(t)
	svc := newService(t, client, staticVenues{})
	venueID := uuid.New()
	ctx := context.Background()

	_, err := svc.UpdateBalance(ctx, venueID, 3000, enums.BalanceTypeAvailable)
	require.NoError(t, err)
	balance, err := svc.UpdateBalance(ctx, venueID, 2000, enums.BalanceTypeAvailable)
	require.NoError(t, err)
	assert.Equal(t, Balances{Available: 5000}, balance)

	balance, err = svc.UpdateBalance(ctx, venueID, -700, enums.BalanceTypeReserved)
	require.NoError(t, err)
	assert.Equal(t, Balances{Available: 5000, Reserved: -700}, balance)

	var rows int64
	require.NoError(t, client.DB().Model(&models.VenueBalance{}).Where("venue_id = ?", venueID).Count(&rows).Error)
	assert.Equal(t, int64(2), rows)

	_, err = svc.UpdateBalance(ctx, venueID, 1, enums.BalanceType("frozen"))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestUpdateBalanceConcurrentDeltasAreNotLost(t *testing.T) {
	client := dbtest.Open(t)
	svc := newService(t, client, staticVenues{})
	venueID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.UpdateBalance(context.Background(), venueID, 100, enums.BalanceTypePending)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, err := svc.GetBalance(context.Background(), venueID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Pending)
}

func TestCreateInitialBalanceIsIdempotent(t *testing.T) {
	client := dbtest.Open(t)
	svc := newService(t, client, staticVenues{})
	venueID := uuid.New()
	ctx := context.Background()

	require.NoError(t, svc.CreateInitialBalance(ctx, venueID))
	_, err := svc.UpdateBalance(ctx, venueID, 4200, enums.BalanceTypeAvailable)
	require.NoError(t, err)
	require.NoError(t, svc.CreateInitialBalance(ctx, venueID))

	var rows int64
	require.NoError(t, client.DB().Model(&models.VenueBalance{}).Where("venue_id = ?", venueID).Count(&rows).Error)
	assert.Equal(t, int64(3), rows)

	balance, err := svc.GetBalance(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, int64(4200), balance.Available)
}

func TestDeductAvailableNeverGoesNegative(t *testing.T) {
	client := dbtest.Open(t)
	svc := newService(t, client, staticVenues{})
	venueID := uuid.New()
	ctx := context.Background()

	_, err := svc.UpdateBalance(ctx, venueID, 1000, enums.BalanceTypeAvailable)
	require.NoError(t, err)

	require.NoError(t, svc.DeductAvailableWithTx(ctx, client.DB(), venueID, 600))
	err = svc.DeductAvailableWithTx(ctx, client.DB(), venueID, 600)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds))

	balance, err := svc.GetBalance(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance.Available)
}

func TestDebitWithTxRecordsSettledDebt(t *testing.T) {
	client := dbtest.Open(t)
	svc := newService(t, client, staticVenues{})
	venueID := uuid.New()
	ctx := context.Background()

	_, err := svc.UpdateBalance(ctx, venueID, 300, enums.BalanceTypeAvailable)
	require.NoError(t, err)
	require.NoError(t, svc.DebitWithTx(ctx, client.DB(), venueID, 500))

	balance, err := svc.GetBalance(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, int64(-200), balance.Available)

	err = svc.DebitWithTx(ctx, client.DB(), venueID, 0)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestQuotePayout(t *testing.T) {
	cfg := payoutsConfig()
	cases := []struct {
		name      string
		available int64
		tier      enums.RiskTier
		reserve   int64
		payable   int64
	}{
		{name: "medium", available: 100000, tier: enums.RiskTierMedium, reserve: 10000, payable: 90000},
		{name: "low", available: 100000, tier: enums.RiskTierLow, reserve: 5000, payable: 95000},
		{name: "high", available: 100000, tier: enums.RiskTierHigh, reserve: 20000, payable: 80000},
		{name: "below minimum", available: 9000, tier: enums.RiskTierLow, reserve: 450, payable: 0},
		{name: "exactly minimum after reserve", available: 11112, tier: enums.RiskTierMedium, reserve: 1111, payable: 10001},
		{name: "negative", available: -500, tier: enums.RiskTierMedium, reserve: 0, payable: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quote := QuotePayout(cfg, tc.available, tc.tier)
			assert.Equal(t, tc.reserve, quote.Reserve)
			assert.Equal(t, tc.payable, quote.Payable)
		})
	}
}

func TestCalculatePayoutAmountBelowMinimum(t *testing.T) {
	client := dbtest.Open(t)
	svc := newService(t, client, staticVenues{tier: enums.RiskTierLow})
	venueID := uuid.New()

	_, err := svc.UpdateBalance(context.Background(), venueID, 5000, enums.BalanceTypeAvailable)
	require.NoError(t, err)

	quote, err := svc.CalculatePayoutAmount(context.Background(), venueID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), quote.Available)
	assert.Zero(t, quote.Payable)
	assert.Equal(t, enums.RiskTierLow, quote.RiskTier)
}

func TestProcessPayout(t *testing.T) {
	client := dbtest.Open(t)
	venueID := uuid.New()
	tenantID := uuid.New()
	svc := newService(t, client, staticVenues{tenants: map[uuid.UUID]uuid.UUID{venueID: tenantID}})
	ctx := context.Background()

	_, err := svc.UpdateBalance(ctx, venueID, 60000, enums.BalanceTypeAvailable)
	require.NoError(t, err)

	_, err = svc.ProcessPayout(ctx, venueID, 70000)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds))

	payout, err := svc.ProcessPayout(ctx, venueID, 25000)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionTypePayout, payout.Type)
	assert.Equal(t, enums.TransactionStatusCompleted, payout.Status)
	assert.Equal(t, tenantID, payout.TenantID)

	balance, err := svc.GetBalance(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, int64(35000), balance.Available)

	var events int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventPayoutProcessed, venueID).
		Count(&events).Error)
	assert.Equal(t, int64(1), events)

	_, err = svc.ProcessPayout(ctx, uuid.New(), 100)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds))

	_, err = svc.ProcessPayout(ctx, venueID, 0)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestProcessPayoutEnforcesDailyLimit(t *testing.T) {
	client := dbtest.Open(t)
	venueID := uuid.New()
	svc := newService(t, client, staticVenues{tenants: map[uuid.UUID]uuid.UUID{venueID: uuid.New()}})
	svc.cfg.MaxDailyPayoutCents = 50000
	ctx := context.Background()

	_, err := svc.UpdateBalance(ctx, venueID, 100000, enums.BalanceTypeAvailable)
	require.NoError(t, err)

	_, err = svc.ProcessPayout(ctx, venueID, 30000)
	require.NoError(t, err)

	_, err = svc.ProcessPayout(ctx, venueID, 30000)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDailyLimitExceeded))

	_, err = svc.ProcessPayout(ctx, venueID, 20000)
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance.Available)
}

func TestProcessPayoutUnknownTenantRollsBackNothing(t *testing.T) {
	client := dbtest.Open(t)
	svc := newService(t, client, staticVenues{})
	venueID := uuid.New()
	ctx := context.Background()

	_, err := svc.UpdateBalance(ctx, venueID, 20000, enums.BalanceTypeAvailable)
	require.NoError(t, err)

	_, err = svc.ProcessPayout(ctx, venueID, 15000)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	balance, err := svc.GetBalance(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), balance.Available)
}
