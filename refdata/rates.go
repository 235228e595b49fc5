package refdata

import (
	"time"

	"github.com/Lambdah/quicktill/quantity"
)

// RateFor resolves the VAT rate in force for a band on a given date: the
// most recent dated rate with active <= date wins, falling back to the
// band's base rate when none applies. Active dates are unique per band so
// there are no ties.
func RateFor(band VatBand, rates []VatRate, date time.Time) quantity.Rate {
	var best *VatRate
	for i := range rates {
		r := &rates[i]
		if r.Band != band.Band || r.Active.After(date) {
			continue
		}
		if best == nil || r.Active.After(best.Active) {
			best = r
		}
	}
	if best == nil {
		return quantity.NewRate(band.Rate)
	}
	return quantity.NewRate(best.Rate)
}
