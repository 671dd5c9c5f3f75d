package fees

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tickettoken/settlement/pkg/db/models"
)

// VolumeSource reports completed purchase volume for a venue.
type VolumeSource interface {
	SumCompletedPurchases(ctx context.Context, venueID uuid.UUID, since time.Time) (int64, error)
}

// VenueDirectory resolves a venue's location and network.
type VenueDirectory interface {
	Profile(ctx context.Context, venueID uuid.UUID) (*models.VenueProfile, error)
}

type Location struct {
	State string `json:"state"`
	City  string `json:"city"`
	Zip   string `json:"zip"`
}

// TaxRate is expressed in basis points.
type TaxRate struct {
	State   int64 `json:"state"`
	County  int64 `json:"county"`
	City    int64 `json:"city"`
	Special int64 `json:"special"`
	Total   int64 `json:"total"`
}

// Local is the combined non-state rate.
func (r TaxRate) Local() int64 {
	return r.County + r.City + r.Special
}

type TaxRateSource interface {
	GetRate(ctx context.Context, loc Location) (TaxRate, error)
}

type GasEstimate struct {
	FeePerTransactionCents int64  `json:"feePerTransactionCents"`
	TotalFeeCents          int64  `json:"totalFeeCents"`
	Network                string `json:"network"`
	CongestionLevel        string `json:"congestionLevel"`
}

type GasEstimator interface {
	EstimateFees(ctx context.Context, transactionCount int, network string) (GasEstimate, error)
}

// fallbackGasCents is the per-transaction fee used when the estimator is
// unreachable. Unknown networks use the most expensive entry.
var fallbackGasCents = map[string]int64{
	"solana":   1,
	"polygon":  5,
	"ethereum": 250,
}

const unknownNetworkGasCents = 250

// FallbackGasPerTransaction returns the fixed per-transaction fee for network.
func FallbackGasPerTransaction(network string) int64 {
	if cents, ok := fallbackGasCents[strings.ToLower(strings.TrimSpace(network))]; ok {
		return cents
	}
	return unknownNetworkGasCents
}

// FallbackGasEstimator prices gas from the fixed per-network table.
type FallbackGasEstimator struct{}

func (FallbackGasEstimator) EstimateFees(_ context.Context, transactionCount int, network string) (GasEstimate, error) {
	per := FallbackGasPerTransaction(network)
	return GasEstimate{
		FeePerTransactionCents: per,
		TotalFeeCents:          per * int64(transactionCount),
		Network:                network,
		CongestionLevel:        "unknown",
	}, nil
}

// DefaultTaxSource returns one configured rate for every location.
type DefaultTaxSource struct {
	StateBasisPoints int64
	LocalBasisPoints int64
}

func (d DefaultTaxSource) GetRate(context.Context, Location) (TaxRate, error) {
	return d.rate(), nil
}

func (d DefaultTaxSource) rate() TaxRate {
	return TaxRate{
		State:  d.StateBasisPoints,
		County: d.LocalBasisPoints,
		Total:  d.StateBasisPoints + d.LocalBasisPoints,
	}
}
