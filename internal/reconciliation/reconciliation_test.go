package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickettoken/settlement/internal/transactions"
	"github.com/tickettoken/settlement/internal/webhooks"
	"github.com/tickettoken/settlement/pkg/db"
	"github.com/tickettoken/settlement/pkg/db/dbtest"
	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/provider"
	"github.com/tickettoken/settlement/pkg/provider/providertest"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

type recordingApplier struct {
	mu      sync.Mutex
	applied map[uuid.UUID]enums.TransactionStatus
	err     error
}

func (a *recordingApplier) ApplyProviderStatus(_ context.Context, id uuid.UUID, status enums.TransactionStatus) (*models.Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if a.applied == nil {
		a.applied = map[uuid.UUID]enums.TransactionStatus{}
	}
	a.applied[id] = status
	return &models.Transaction{ID: id, Status: status}, nil
}

func seedProcessing(t *testing.T, client *db.Client, providerID string, age time.Duration) uuid.UUID {
	t.Helper()
	repo := transactions.NewRepository(client.DB())
	input := transactions.CreateInput{
		TenantID:    uuid.New(),
		VenueID:     uuid.New(),
		UserID:      uuid.New(),
		EventID:     uuid.New(),
		AmountCents: 5000,
		Status:      enums.TransactionStatusProcessing,
	}
	if providerID != "" {
		input.ProviderPaymentID = &providerID
	}
	row, err := repo.Create(context.Background(), input)
	require.NoError(t, err)
	require.NoError(t, client.DB().Model(&models.Transaction{}).
		Where("id = ?", row.ID).
		UpdateColumn("updated_at", time.Now().UTC().Add(-age)).Error)
	return row.ID
}

func TestMapStatus(t *testing.T) {
	cases := map[string]enums.TransactionStatus{
		"succeeded":               enums.TransactionStatusCompleted,
		"processing":              enums.TransactionStatusProcessing,
		"requires_payment_method": enums.TransactionStatusPending,
		"requires_confirmation":   enums.TransactionStatusPending,
		"requires_action":         enums.TransactionStatusPending,
		"canceled":                enums.TransactionStatusCancelled,
		"":                        enums.TransactionStatusFailed,
		"something_new":           enums.TransactionStatusFailed,
	}
	for in, want := range cases {
		assert.Equal(t, want, MapStatus(in), in)
	}
}

func TestStuckPaymentJobRepairsOnlyStaleRows(t *testing.T) {
	client := dbtest.Open(t)
	fake := &providertest.Client{}
	fake.SetIntent(provider.PaymentIntent{ID: "pi_stale", Status: "succeeded"})
	fake.SetIntent(provider.PaymentIntent{ID: "pi_fresh", Status: "succeeded"})
	fake.SetIntent(provider.PaymentIntent{ID: "pi_still", Status: "processing"})

	stale := seedProcessing(t, client, "pi_stale", 15*time.Minute)
	fresh := seedProcessing(t, client, "pi_fresh", 2*time.Minute)
	still := seedProcessing(t, client, "pi_still", 20*time.Minute)
	seedProcessing(t, client, "", 30*time.Minute)

	applier := &recordingApplier{}
	job, err := NewStuckPaymentJob(StuckPaymentJobParams{
		Transactions: transactions.NewRepository(client.DB()),
		Payments:     applier,
		Provider:     fake,
		Logger:       testLogger(),
		StaleAfter:   10 * time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, enums.TransactionStatusCompleted, applier.applied[stale])
	assert.NotContains(t, applier.applied, fresh)
	assert.NotContains(t, applier.applied, still)
	assert.Equal(t, 2, fake.RetrieveCount())
}

func TestStuckPaymentJobContinuesPastProviderErrors(t *testing.T) {
	client := dbtest.Open(t)
	fake := &providertest.Client{
		RetrieveErrs: map[string]error{"pi_broken": errors.New("provider unavailable")},
	}
	fake.SetIntent(provider.PaymentIntent{ID: "pi_ok", Status: "canceled"})

	seedProcessing(t, client, "pi_broken", 30*time.Minute)
	ok := seedProcessing(t, client, "pi_ok", 15*time.Minute)

	applier := &recordingApplier{}
	job, err := NewStuckPaymentJob(StuckPaymentJobParams{
		Transactions: transactions.NewRepository(client.DB()),
		Payments:     applier,
		Provider:     fake,
		Logger:       testLogger(),
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider unavailable")
	assert.Equal(t, enums.TransactionStatusCancelled, applier.applied[ok])
}

func TestWebhookBackfillJobEnqueuesOnlyMissingEvents(t *testing.T) {
	client := dbtest.Open(t)
	repo := webhooks.NewRepository(client.DB())
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Enqueue(ctx, provider.NameStripe, "evt_known", "payment_intent.succeeded", json.RawMessage(`{"id":"evt_known"}`))
	require.NoError(t, err)

	fake := &providertest.Client{Events: []provider.Event{
		{ID: "evt_known", Type: "payment_intent.succeeded", CreatedAt: now.Add(-10 * time.Minute), Payload: json.RawMessage(`{"id":"evt_known","changed":true}`)},
		{ID: "evt_missing", Type: "refund.updated", CreatedAt: now.Add(-20 * time.Minute), Payload: json.RawMessage(`{"id":"evt_missing"}`)},
		{ID: "evt_ancient", Type: "refund.updated", CreatedAt: now.Add(-3 * time.Hour), Payload: json.RawMessage(`{"id":"evt_ancient"}`)},
	}}

	job, err := NewWebhookBackfillJob(WebhookBackfillJobParams{
		Provider: fake,
		Inbox:    repo,
		Logger:   testLogger(),
		Lookback: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(ctx))

	var rows []models.WebhookInboxEntry
	require.NoError(t, client.DB().Order("event_id ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "evt_known", rows[0].EventID)
	assert.JSONEq(t, `{"id":"evt_known"}`, string(rows[0].Payload))
	assert.Equal(t, "evt_missing", rows[1].EventID)
	assert.Equal(t, enums.WebhookStatusPending, rows[1].Status)
}

func TestWebhookBackfillJobSurfacesListFailure(t *testing.T) {
	fake := &providertest.Client{ListErr: errors.New("rate limited")}
	job, err := NewWebhookBackfillJob(WebhookBackfillJobParams{
		Provider: fake,
		Inbox:    webhooks.NewRepository(dbtest.Open(t).DB()),
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	assert.ErrorContains(t, job.Run(context.Background()), "rate limited")
}
