package enums

import "fmt"

// RiskTier classifies a venue for payout reserve sizing.
type RiskTier string

const (
	RiskTierLow    RiskTier = "low"
	RiskTierMedium RiskTier = "medium"
	RiskTierHigh   RiskTier = "high"
)

var validRiskTiers = []RiskTier{
	RiskTierLow,
	RiskTierMedium,
	RiskTierHigh,
}

// IsValid reports whether the value is a known RiskTier.
func (r RiskTier) IsValid() bool {
	for _, candidate := range validRiskTiers {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRiskTier converts raw input into a RiskTier.
func ParseRiskTier(value string) (RiskTier, error) {
	for _, candidate := range validRiskTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid risk tier %q", value)
}
