package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibast-solutions/ms-go-remittance/config"
)

func eurCalculator() *Calculator {
	return NewCalculator(SchedulesFromConfig(map[string]config.FeeSchedule{
		"EUR": {BaseFee: 2.50, PercentageFee: 0.0299, MinFee: 1.00, MaxFee: 50.00},
		"NGN": {BaseFee: 1500, PercentageFee: 0.015, MinFee: 800},
	}))
}

func TestCalculateMatchesReferenceQuote(t *testing.T) {
	breakdown, err := eurCalculator().Calculate("eur", decimal.RequireFromString("85.00"))
	require.NoError(t, err)
	assert.Equal(t, "5.04", breakdown.Fee.StringFixed(2))
	assert.Equal(t, "EUR", breakdown.Currency)
}

func TestCalculateClampsToBounds(t *testing.T) {
	calc := eurCalculator()

	low, err := calc.Calculate("EUR", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "2.50", low.Fee.StringFixed(2))

	high, err := calc.Calculate("EUR", decimal.RequireFromString("100000"))
	require.NoError(t, err)
	assert.Equal(t, "50.00", high.Fee.StringFixed(2))
}

func TestCalculateMinimumApplies(t *testing.T) {
	calc := NewCalculator(map[string]Schedule{
		"USD": {BaseFee: decimal.Zero, PercentageFee: decimal.RequireFromString("0.01"), MinFee: decimal.RequireFromString("1.00")},
	})
	breakdown, err := calc.Calculate("USD", decimal.RequireFromString("10"))
	require.NoError(t, err)
	assert.Equal(t, "1.00", breakdown.Fee.StringFixed(2))
}

func TestCalculateUncappedSchedule(t *testing.T) {
	breakdown, err := eurCalculator().Calculate("NGN", decimal.RequireFromString("10000000"))
	require.NoError(t, err)
	assert.Equal(t, "151500.00", breakdown.Fee.StringFixed(2))
}

func TestCalculateFeeAlwaysWithinBounds(t *testing.T) {
	calc := eurCalculator()
	schedule, err := calc.Schedule("EUR")
	require.NoError(t, err)

	for _, raw := range []string{"0.01", "1", "17.5", "85", "499.99", "1500", "1671.24", "99999.99"} {
		breakdown, err := calc.Calculate("EUR", decimal.RequireFromString(raw))
		require.NoError(t, err)
		assert.False(t, breakdown.Fee.LessThan(schedule.MinFee), "amount %s", raw)
		assert.False(t, breakdown.Fee.GreaterThan(schedule.MaxFee), "amount %s", raw)
		assert.LessOrEqual(t, -breakdown.Fee.Exponent(), int32(2), "amount %s", raw)
	}
}

func TestCalculateUnsupportedCurrency(t *testing.T) {
	_, err := eurCalculator().Calculate("JPY", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
	assert.False(t, eurCalculator().Supports("JPY"))
	assert.True(t, eurCalculator().Supports("eur"))
}
