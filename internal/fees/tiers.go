package fees

import "github.com/tickettoken/settlement/pkg/config"

// Tier is one band of the monthly-volume fee schedule. A zero MaxVolumeCents
// marks the open-ended top tier.
type Tier struct {
	Name           string
	MinVolumeCents int64
	MaxVolumeCents int64
	BasisPoints    int64
}

// TiersFromConfig builds the contiguous three-tier schedule: each tier's max is
// the next tier's min.
func TiersFromConfig(cfg config.FeesConfig) []Tier {
	return []Tier{
		{Name: "starter", MinVolumeCents: 0, MaxVolumeCents: cfg.StarterMaxVolumeCents, BasisPoints: cfg.StarterBasisPoints},
		{Name: "growth", MinVolumeCents: cfg.StarterMaxVolumeCents, MaxVolumeCents: cfg.GrowthMaxVolumeCents, BasisPoints: cfg.GrowthBasisPoints},
		{Name: "enterprise", MinVolumeCents: cfg.GrowthMaxVolumeCents, BasisPoints: cfg.EnterpriseBasisPoints},
	}
}

// ResolveTier picks the tier whose [min, max) range holds volumeCents.
func ResolveTier(tiers []Tier, volumeCents int64) Tier {
	if len(tiers) == 0 {
		return Tier{}
	}
	for _, tier := range tiers {
		if volumeCents < tier.MinVolumeCents {
			continue
		}
		if tier.MaxVolumeCents == 0 || volumeCents < tier.MaxVolumeCents {
			return tier
		}
	}
	if volumeCents < tiers[0].MinVolumeCents {
		return tiers[0]
	}
	return tiers[len(tiers)-1]
}
