package venues

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
)

// Directory answers settlement questions about a venue from its profile.
type Directory struct {
	repo           Repository
	defaultNetwork string
}

func NewDirectory(repo Repository, defaultNetwork string) (*Directory, error) {
	if repo == nil {
		return nil, fmt.Errorf("venue repository required")
	}
	network := strings.TrimSpace(defaultNetwork)
	if network == "" {
		network = "solana"
	}
	return &Directory{repo: repo, defaultNetwork: network}, nil
}

// Profile returns the stored profile or nil when the venue has none.
func (d *Directory) Profile(ctx context.Context, venueID uuid.UUID) (*models.VenueProfile, error) {
	profile, err := d.repo.Find(ctx, venueID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load venue profile")
	}
	if profile != nil && strings.TrimSpace(profile.Network) == "" {
		profile.Network = d.defaultNetwork
	}
	return profile, nil
}

// RiskTier returns the venue's chargeback risk tier. Venues without a profile
// are treated as medium risk.
func (d *Directory) RiskTier(ctx context.Context, venueID uuid.UUID) (enums.RiskTier, error) {
	profile, err := d.Profile(ctx, venueID)
	if err != nil {
		return "", err
	}
	if profile == nil || !profile.RiskTier.IsValid() {
		return enums.RiskTierMedium, nil
	}
	return profile.RiskTier, nil
}

// TenantID returns the tenant owning the venue.
func (d *Directory) TenantID(ctx context.Context, venueID uuid.UUID) (uuid.UUID, error) {
	profile, err := d.Profile(ctx, venueID)
	if err != nil {
		return uuid.Nil, err
	}
	if profile == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "venue profile not found")
	}
	return profile.TenantID, nil
}
