package settlement

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickettoken/settlement/internal/refunds"
	"github.com/tickettoken/settlement/internal/transactions"
	"github.com/tickettoken/settlement/internal/venues"
	"github.com/tickettoken/settlement/pkg/cache"
	"github.com/tickettoken/settlement/pkg/config"
	"github.com/tickettoken/settlement/pkg/db"
	"github.com/tickettoken/settlement/pkg/db/dbtest"
	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	"github.com/tickettoken/settlement/pkg/lock/locktest"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/provider"
	"github.com/tickettoken/settlement/pkg/provider/providertest"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Fees = config.FeesConfig{
		StarterMaxVolumeCents:      1000000,
		GrowthMaxVolumeCents:       10000000,
		StarterBasisPoints:         800,
		GrowthBasisPoints:          650,
		EnterpriseBasisPoints:      500,
		DefaultStateTaxBasisPoints: 700,
		DefaultLocalTaxBasisPoints: 225,
		DefaultNetwork:             "solana",
		VolumeCacheTTL:             5 * time.Minute,
		TaxCacheTTL:                15 * time.Minute,
		GasCacheTTL:                time.Minute,
	}
	cfg.Payouts = config.PayoutsConfig{
		MinPayoutCents:       10000,
		MaxDailyPayoutCents:  5000000,
		LowRiskReserveBPS:    500,
		MediumRiskReserveBPS: 1000,
		HighRiskReserveBPS:   2000,
	}
	cfg.Webhooks = config.WebhooksConfig{BatchSize: 10, MaxRetries: 5, RetentionDays: 30}
	cfg.Locks = config.LocksConfig{
		Timeout:         time.Second,
		RetryInterval:   time.Millisecond,
		ProviderTimeout: time.Second,
	}
	return cfg
}

func newCore(t *testing.T) (*Core, *db.Client, *providertest.Client) {
	t.Helper()
	client := dbtest.Open(t)
	fake := &providertest.Client{}
	core, err := New(Deps{
		Config:     testConfig(),
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:         client,
		LockStore:  locktest.NewStore(),
		CacheStore: cache.NewMemoryStore(),
		Provider:   fake,
	})
	require.NoError(t, err)
	return core, client, fake
}

func enqueueStripe(t *testing.T, core *Core, eventType string, object map[string]any) {
	t.Helper()
	id := "evt_" + uuid.NewString()
	payload, err := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	require.NoError(t, err)
	inserted, err := core.Inbox.Enqueue(context.Background(), provider.NameStripe, id, eventType, payload)
	require.NoError(t, err)
	require.True(t, inserted)
}

func outboxTypes(t *testing.T, client *db.Client) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, client.DB().Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func TestPurchaseRefundAndWebhookFailureSettleBalances(t *testing.T) {
	core, client, fake := newCore(t)
	ctx := context.Background()

	tenantID, venueID, userID := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, venues.NewRepository(client.DB()).Upsert(ctx, &models.VenueProfile{
		VenueID:  venueID,
		TenantID: tenantID,
		State:    "CA",
		City:     "Oakland",
		Network:  "solana",
		RiskTier: enums.RiskTierLow,
	}))
	require.NoError(t, core.Balances.CreateInitialBalance(ctx, venueID))

	purchase, err := core.Transactions.CreatePurchase(ctx, transactions.PurchaseInput{
		TenantID:         tenantID,
		VenueID:          venueID,
		UserID:           userID,
		EventID:          uuid.New(),
		TicketPriceCents: 10000,
		TicketCount:      2,
		IdempotencyKey:   "order-1",
	})
	require.NoError(t, err)
	require.NotNil(t, purchase.Fees)
	// 800 platform + 700 state + 225 local + 2x1 solana gas
	assert.Equal(t, int64(11727), purchase.Fees.Total)
	require.NotNil(t, purchase.Transaction.ProviderPaymentID)

	confirmed, err := core.Transactions.ConfirmPayment(ctx, userID, purchase.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCompleted, confirmed.Status)

	// a late succeeded webhook for the same intent must not credit again
	enqueueStripe(t, core, "payment_intent.succeeded", map[string]any{
		"id":     *purchase.Transaction.ProviderPaymentID,
		"object": "payment_intent",
		"status": "succeeded",
	})
	result, err := core.Inbox.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	bal, err := core.Balances.GetBalance(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.Available)

	refund, err := core.Refunds.RequestRefund(ctx, refunds.RefundInput{
		TransactionID: purchase.Transaction.ID,
		AmountCents:   5000,
		Reason:        "customer request",
	})
	require.NoError(t, err)
	require.NotNil(t, refund.ProviderRefundID)
	assert.Equal(t, enums.RefundStatusProcessing, refund.Status)
	assert.Equal(t, int64(5000), fake.RefundedCents())

	bal, err = core.Balances.GetBalance(ctx, venueID)
	require.NoError(t, err)
	assert.Less(t, bal.Available, int64(10000))

	enqueueStripe(t, core, "refund.failed", map[string]any{
		"id":     *refund.ProviderRefundID,
		"object": "refund",
		"status": "failed",
	})
	result, err = core.Inbox.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	bal, err = core.Balances.GetBalance(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.Available)

	stored, err := core.RefundRepo.FindByID(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusFailed, stored.Status)

	assert.ElementsMatch(t, []enums.OutboxEventType{
		enums.EventPaymentCompleted,
		enums.EventRefundRequested,
		enums.EventRefundFailed,
	}, outboxTypes(t, client))
}

func TestNewRequiresInfrastructure(t *testing.T) {
	_, err := New(Deps{Config: testConfig()})
	assert.Error(t, err)
}
