package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentOfBasisPoints(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		bps    int64
		want   int64
	}{
		{name: "rounds down below half", amount: 10003, bps: 290, want: 290},
		{name: "exact", amount: 10000, bps: 800, want: 800},
		{name: "half rounds up", amount: 50, bps: 100, want: 1},
		{name: "just below half", amount: 49, bps: 100, want: 0},
		{name: "zero rate", amount: 12345, bps: 0, want: 0},
		{name: "zero amount", amount: 0, bps: 650, want: 0},
		{name: "large amount", amount: 9_999_999_999, bps: 500, want: 500_000_000},
		{name: "odd tax rate", amount: 2599, bps: 825, want: 214},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PercentOfBasisPoints(tt.amount, tt.bps))
		})
	}
}

func TestAddAndSubtractDoNotClamp(t *testing.T) {
	assert.Equal(t, int64(0), AddCents())
	assert.Equal(t, int64(6), AddCents(1, 2, 3))
	assert.Equal(t, int64(-500), SubtractCents(1000, 1500))
	assert.Equal(t, int64(-250), AddCents(250, -500))
}

func TestProrate(t *testing.T) {
	assert.Equal(t, int64(4600), Prorate(9200, 5000, 10000))
	assert.Equal(t, int64(3067), Prorate(9200, 1, 3))
	assert.Equal(t, int64(0), Prorate(9200, 1, 0))
}

func TestBasisPointsToPercent(t *testing.T) {
	assert.Equal(t, "6.5", BasisPointsToPercent(650).String())
	assert.Equal(t, "8", BasisPointsToPercent(800).String())
}
