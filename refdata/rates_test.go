package refdata

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestRateForMostRecentWins(t *testing.T) {
	band := VatBand{Band: "A", Rate: decimal.RequireFromString("17.5")}
	rates := []VatRate{
		{Band: "A", Rate: decimal.RequireFromString("15"), Active: day("2008-12-01")},
		{Band: "A", Rate: decimal.RequireFromString("17.5"), Active: day("2010-01-01")},
		{Band: "A", Rate: decimal.RequireFromString("20"), Active: day("2011-01-04")},
		{Band: "B", Rate: decimal.RequireFromString("5"), Active: day("2000-01-01")},
	}

	r := RateFor(band, rates, day("2010-06-01"))
	require.True(t, r.Percent.Equal(decimal.RequireFromString("17.5")))

	r = RateFor(band, rates, day("2012-01-01"))
	require.True(t, r.Percent.Equal(decimal.RequireFromString("20")))

	// On the effective date itself the new rate applies.
	r = RateFor(band, rates, day("2011-01-04"))
	require.True(t, r.Percent.Equal(decimal.RequireFromString("20")))
}

func TestRateForFallsBackToBaseRate(t *testing.T) {
	band := VatBand{Band: "A", Rate: decimal.RequireFromString("17.5")}
	rates := []VatRate{
		{Band: "A", Rate: decimal.RequireFromString("20"), Active: day("2011-01-04")},
	}

	r := RateFor(band, rates, day("2005-01-01"))
	require.True(t, r.Percent.Equal(decimal.RequireFromString("17.5")))

	r = RateFor(band, nil, day("2005-01-01"))
	require.True(t, r.Percent.Equal(decimal.RequireFromString("17.5")))
}

func TestDepartmentPriceInRange(t *testing.T) {
	min := decimal.RequireFromString("0.50")
	max := decimal.RequireFromString("10.00")
	d := Department{ID: 1, MinPrice: &min, MaxPrice: &max}

	require.True(t, d.PriceInRange(decimal.RequireFromString("3.50")))
	require.True(t, d.PriceInRange(min))
	require.True(t, d.PriceInRange(max))
	require.False(t, d.PriceInRange(decimal.RequireFromString("0.49")))
	require.False(t, d.PriceInRange(decimal.RequireFromString("10.01")))

	require.True(t, Department{}.PriceInRange(decimal.RequireFromString("999")))
}
