package fees

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tickettoken/settlement/pkg/cache"
	"github.com/tickettoken/settlement/pkg/config"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/money"
)

const (
	cacheScopeVolume = "fee-volume"
	cacheScopeTax    = "fee-tax"
	cacheScopeGas    = "fee-gas"
)

// Breakdown itemizes a priced order. Total is the exact sum of the other fields.
type Breakdown struct {
	TicketPrice int64 `json:"ticketPrice"`
	PlatformFee int64 `json:"platformFee"`
	GasEstimate int64 `json:"gasEstimate"`
	StateTax    int64 `json:"stateTax"`
	LocalTax    int64 `json:"localTax"`
	Total       int64 `json:"total"`
}

type FeeBreakdown struct {
	Platform            int64           `json:"platform"`
	PlatformPercentage  decimal.Decimal `json:"platformPercentage"`
	PlatformBasisPoints int64           `json:"platformBasisPoints"`
	Tier                string          `json:"tier"`
	Tax                 int64           `json:"tax"`
	GasEstimate         int64           `json:"gasEstimate"`
	Total               int64           `json:"total"`
	Breakdown           Breakdown       `json:"breakdown"`
}

type Params struct {
	Config  config.FeesConfig
	Volume  VolumeSource
	Venues  VenueDirectory
	Tax     TaxRateSource
	Gas     GasEstimator
	Cache   *cache.Cache
	Logger  *logger.Logger
	NowFunc func() time.Time
}

// Calculator prices orders. Collaborator failures never fail pricing; they
// degrade to configured defaults.
type Calculator struct {
	cfg    config.FeesConfig
	tiers  []Tier
	volume VolumeSource
	venues VenueDirectory
	tax    TaxRateSource
	gas    GasEstimator
	cache  *cache.Cache
	logg   *logger.Logger
	now    func() time.Time
}

func NewCalculator(params Params) (*Calculator, error) {
	if params.Volume == nil {
		return nil, errors.New("volume source required")
	}
	if params.Venues == nil {
		return nil, errors.New("venue directory required")
	}
	tax := params.Tax
	if tax == nil {
		tax = defaultTax(params.Config)
	}
	gas := params.Gas
	if gas == nil {
		gas = FallbackGasEstimator{}
	}
	now := params.NowFunc
	if now == nil {
		now = time.Now
	}
	return &Calculator{
		cfg:    params.Config,
		tiers:  TiersFromConfig(params.Config),
		volume: params.Volume,
		venues: params.Venues,
		tax:    tax,
		gas:    gas,
		cache:  params.Cache,
		logg:   params.Logger,
		now:    now,
	}, nil
}

func defaultTax(cfg config.FeesConfig) DefaultTaxSource {
	return DefaultTaxSource{
		StateBasisPoints: cfg.DefaultStateTaxBasisPoints,
		LocalBasisPoints: cfg.DefaultLocalTaxBasisPoints,
	}
}

// CalculateDynamicFees prices ticketPriceCents (the order subtotal) for a venue.
// ticketCount only sizes the gas estimate.
func (c *Calculator) CalculateDynamicFees(ctx context.Context, venueID uuid.UUID, ticketPriceCents int64, ticketCount int) (FeeBreakdown, error) {
	if venueID == uuid.Nil {
		return FeeBreakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "venue id is required")
	}
	if ticketPriceCents < 0 {
		return FeeBreakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "ticket price must be non-negative")
	}
	if ticketCount < 1 {
		return FeeBreakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "ticket count must be at least 1")
	}
	if c.logg != nil {
		ctx = c.logg.WithVenueID(ctx, venueID.String())
	}

	tier := c.resolveTier(ctx, venueID)
	platformFee := money.PercentOfBasisPoints(ticketPriceCents, tier.BasisPoints)

	location, network := c.venueAttributes(ctx, venueID)
	rate := c.taxRate(ctx, venueID, location)
	stateTax := money.PercentOfBasisPoints(ticketPriceCents, rate.State)
	localTax := money.PercentOfBasisPoints(ticketPriceCents, rate.Local())

	gas := c.gasEstimate(ctx, network, ticketCount)

	total := money.AddCents(ticketPriceCents, platformFee, gas, stateTax, localTax)
	return FeeBreakdown{
		Platform:            platformFee,
		PlatformPercentage:  money.BasisPointsToPercent(tier.BasisPoints),
		PlatformBasisPoints: tier.BasisPoints,
		Tier:                tier.Name,
		Tax:                 money.AddCents(stateTax, localTax),
		GasEstimate:         gas,
		Total:               total,
		Breakdown: Breakdown{
			TicketPrice: ticketPriceCents,
			PlatformFee: platformFee,
			GasEstimate: gas,
			StateTax:    stateTax,
			LocalTax:    localTax,
			Total:       total,
		},
	}, nil
}

func (c *Calculator) resolveTier(ctx context.Context, venueID uuid.UUID) Tier {
	now := c.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	volume, err := cache.Fetch(ctx, c.cache, cacheScopeVolume, venueID.String(), c.cfg.VolumeCacheTTL, func(ctx context.Context) (int64, error) {
		return c.volume.SumCompletedPurchases(ctx, venueID, monthStart)
	})
	if err != nil {
		c.warn(ctx, "monthly volume lookup failed, using starter tier", err)
		volume = 0
	}
	return ResolveTier(c.tiers, volume)
}

func (c *Calculator) venueAttributes(ctx context.Context, venueID uuid.UUID) (*Location, string) {
	network := c.cfg.DefaultNetwork
	profile, err := c.venues.Profile(ctx, venueID)
	if err != nil {
		c.warn(ctx, "venue profile lookup failed, using defaults", err)
		return nil, network
	}
	if profile == nil {
		return nil, network
	}
	if n := strings.TrimSpace(profile.Network); n != "" {
		network = n
	}
	return &Location{State: profile.State, City: profile.City, Zip: profile.Zip}, network
}

func (c *Calculator) taxRate(ctx context.Context, venueID uuid.UUID, location *Location) TaxRate {
	fallback := defaultTax(c.cfg).rate()
	if location == nil {
		return fallback
	}
	rate, err := cache.Fetch(ctx, c.cache, cacheScopeTax, venueID.String(), c.cfg.TaxCacheTTL, func(ctx context.Context) (TaxRate, error) {
		return c.tax.GetRate(ctx, *location)
	})
	if err != nil {
		c.warn(ctx, "tax rate lookup failed, using default rate", err)
		return fallback
	}
	return rate
}

func (c *Calculator) gasEstimate(ctx context.Context, network string, count int) int64 {
	key := network + ":" + strconv.Itoa(count)
	estimate, err := cache.Fetch(ctx, c.cache, cacheScopeGas, key, c.cfg.GasCacheTTL, func(ctx context.Context) (GasEstimate, error) {
		return c.gas.EstimateFees(ctx, count, network)
	})
	if err != nil {
		c.warn(ctx, "gas estimate failed, using fixed network fee", err)
		return FallbackGasPerTransaction(network) * int64(count)
	}
	return estimate.TotalFeeCents
}

func (c *Calculator) warn(ctx context.Context, msg string, err error) {
	if c.logg == nil {
		return
	}
	c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), msg)
}
