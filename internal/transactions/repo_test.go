package transactions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickettoken/settlement/pkg/db/dbtest"
	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
)

func ptr[T any](v T) *T { return &v }

func purchaseInput(tenantID, venueID uuid.UUID) CreateInput {
	return CreateInput{
		TenantID:    tenantID,
		VenueID:     venueID,
		UserID:      uuid.New(),
		EventID:     uuid.New(),
		AmountCents: 5000,
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())

	row, err := repo.Create(context.Background(), purchaseInput(uuid.New(), uuid.New()))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, row.ID)
	assert.Equal(t, enums.TransactionStatusPending, row.Status)
	assert.Equal(t, enums.TransactionTypePurchase, row.Type)
	assert.Equal(t, enums.CurrencyUSD, row.Currency)

	found, err := repo.FindByID(context.Background(), row.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(5000), found.AmountCents)
}

func TestCreateRejectsDuplicateIdempotencyKey(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	tenantID := uuid.New()

	input := purchaseInput(tenantID, uuid.New())
	input.IdempotencyKey = ptr("order-1")
	_, err := repo.Create(context.Background(), input)
	require.NoError(t, err)

	_, err = repo.Create(context.Background(), input)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDuplicateRequest))

	// the key is scoped by tenant
	other := purchaseInput(uuid.New(), uuid.New())
	other.IdempotencyKey = ptr("order-1")
	_, err = repo.Create(context.Background(), other)
	require.NoError(t, err)
}

func TestCreateRejectsTotalMismatch(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())

	input := purchaseInput(uuid.New(), uuid.New())
	input.PlatformFeeCents = 400
	input.TotalCents = ptr(int64(5300))
	_, err := repo.Create(context.Background(), input)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	input.TotalCents = ptr(int64(5400))
	_, err = repo.Create(context.Background(), input)
	require.NoError(t, err)
}

func TestLookupsReturnNilWhenAbsent(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	row, err := repo.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = repo.FindByProviderPaymentID(ctx, "pi_missing")
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = repo.FindByIdempotencyKey(ctx, uuid.New(), "missing")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestUpdateStatusIsPermissive(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	row, err := repo.Create(ctx, purchaseInput(uuid.New(), uuid.New()))
	require.NoError(t, err)

	updated, err := repo.UpdateStatus(ctx, row.ID, enums.TransactionStatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusRefunded, updated.Status)

	updated, err = repo.UpdateStatus(ctx, row.ID, enums.TransactionStatusPending)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPending, updated.Status)
	assert.False(t, updated.UpdatedAt.Before(row.UpdatedAt))

	_, err = repo.UpdateStatus(ctx, uuid.New(), enums.TransactionStatusCompleted)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = repo.UpdateStatus(ctx, row.ID, enums.TransactionStatus("bogus"))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestUpdatePatch(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	row, err := repo.Create(ctx, purchaseInput(uuid.New(), uuid.New()))
	require.NoError(t, err)

	_, err = repo.Update(ctx, row.ID, Patch{})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNoFieldsToUpdate))

	_, err = repo.Update(ctx, uuid.New(), Patch{AmountCents: ptr(int64(1))})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	updated, err := repo.Update(ctx, row.ID, Patch{
		PlatformFeeCents: ptr(int64(400)),
		Metadata:         json.RawMessage(`{"seat":"A1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(400), updated.PlatformFeeCents)
	assert.JSONEq(t, `{"seat":"A1"}`, string(updated.Metadata))

	_, err = repo.Update(ctx, row.ID, Patch{TotalCents: ptr(int64(9999))})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	updated, err = repo.Update(ctx, row.ID, Patch{TotalCents: ptr(int64(5400))})
	require.NoError(t, err)
	require.NotNil(t, updated.TotalCents)
	assert.Equal(t, int64(5400), *updated.TotalCents)
}

func TestSetProviderPaymentIDAndLookup(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	row, err := repo.Create(ctx, purchaseInput(uuid.New(), uuid.New()))
	require.NoError(t, err)
	require.NoError(t, repo.SetProviderPaymentID(ctx, row.ID, "pi_123"))

	found, err := repo.FindByProviderPaymentID(ctx, "pi_123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, row.ID, found.ID)
}

func TestFindByVenueIDPagesNewestFirst(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	venueID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		row, err := repo.Create(ctx, purchaseInput(uuid.New(), venueID))
		require.NoError(t, err)
		require.NoError(t, client.DB().Model(&models.Transaction{}).
			Where("id = ?", row.ID).
			Update("created_at", time.Now().UTC().Add(time.Duration(i)*time.Minute)).Error)
		ids = append(ids, row.ID)
	}

	page, err := repo.FindByVenueID(ctx, venueID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	page, err = repo.FindByVenueID(ctx, venueID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)
}

func TestListStuckHonorsStalenessWindow(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	now := time.Now().UTC()

	seed := func(status enums.TransactionStatus, age time.Duration) uuid.UUID {
		input := purchaseInput(uuid.New(), uuid.New())
		input.Status = status
		row, err := repo.Create(ctx, input)
		require.NoError(t, err)
		require.NoError(t, client.DB().Model(&models.Transaction{}).
			Where("id = ?", row.ID).
			UpdateColumn("updated_at", now.Add(-age)).Error)
		return row.ID
	}
	stale := seed(enums.TransactionStatusProcessing, 15*time.Minute)
	seed(enums.TransactionStatusProcessing, 2*time.Minute)
	seed(enums.TransactionStatusPending, time.Hour)

	rows, err := repo.ListStuck(ctx, now.Add(-10*time.Minute), 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stale, rows[0].ID)
}

func TestSumsOnlyCountCompletedRowsInWindow(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	venueID := uuid.New()
	since := time.Now().UTC().Add(-time.Hour)

	create := func(txType enums.TransactionType, status enums.TransactionStatus, amount int64) {
		input := purchaseInput(uuid.New(), venueID)
		input.Type = txType
		input.Status = status
		input.AmountCents = amount
		_, err := repo.Create(ctx, input)
		require.NoError(t, err)
	}
	create(enums.TransactionTypePurchase, enums.TransactionStatusCompleted, 3000)
	create(enums.TransactionTypePurchase, enums.TransactionStatusCompleted, 2000)
	create(enums.TransactionTypePurchase, enums.TransactionStatusPending, 7000)
	create(enums.TransactionTypePayout, enums.TransactionStatusCompleted, 1500)

	total, err := repo.SumCompletedPurchases(ctx, venueID, since)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), total)

	payouts, err := repo.SumPayoutsSince(ctx, venueID, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), payouts)

	none, err := repo.SumPayoutsSince(ctx, uuid.New(), since)
	require.NoError(t, err)
	assert.Zero(t, none)
}
