package enums

import "fmt"

// BalanceType names a venue balance bucket.
type BalanceType string

const (
	BalanceTypeAvailable BalanceType = "available"
	BalanceTypePending   BalanceType = "pending"
	BalanceTypeReserved  BalanceType = "reserved"
)

var validBalanceTypes = []BalanceType{
	BalanceTypeAvailable,
	BalanceTypePending,
	BalanceTypeReserved,
}

// AllBalanceTypes returns every bucket in canonical order.
func AllBalanceTypes() []BalanceType {
	out := make([]BalanceType, len(validBalanceTypes))
	copy(out, validBalanceTypes)
	return out
}

func (b BalanceType) String() string {
	return string(b)
}

// IsValid reports whether the value is a known bucket.
func (b BalanceType) IsValid() bool {
	for _, candidate := range validBalanceTypes {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBalanceType converts raw input into a BalanceType.
func ParseBalanceType(value string) (BalanceType, error) {
	for _, candidate := range validBalanceTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid balance type %q", value)
}
