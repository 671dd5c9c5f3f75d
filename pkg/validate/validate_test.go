package validate

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
)

type sample struct {
	VenueID     uuid.UUID `json:"venueId" validate:"required"`
	AmountCents int64     `json:"amountCents" validate:"gt=0"`
	Currency    string    `json:"currency" validate:"omitempty,len=3"`
}

func TestStructReportsFieldDetails(t *testing.T) {
	err := Struct(sample{Currency: "US"})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["venueId"])
	assert.Equal(t, "must be greater than 0", details["amountCents"])
	assert.Equal(t, "must be exactly 3 characters", details["currency"])
}

func TestStructAcceptsValidInput(t *testing.T) {
	require.NoError(t, Struct(sample{VenueID: uuid.New(), AmountCents: 1}))
}
