package quantity

import "github.com/shopspring/decimal"

// Rate is a VAT rate expressed as a percentage, e.g. 20 for 20%.
type Rate struct {
	Percent decimal.Decimal
}

// NewRate builds a Rate from a percentage value.
func NewRate(percent decimal.Decimal) Rate {
	return Rate{Percent: percent}
}

func (r Rate) fraction() decimal.Decimal {
	return r.Percent.Div(hundred)
}

// IncToExc converts a VAT-inclusive amount to the ex-VAT amount.
func (r Rate) IncToExc(n decimal.Decimal) decimal.Decimal {
	return RoundMoney(n.Div(r.fraction().Add(decimal.NewFromInt(1))))
}

// IncToVat returns the VAT portion of a VAT-inclusive amount.
func (r Rate) IncToVat(n decimal.Decimal) decimal.Decimal {
	return n.Sub(r.IncToExc(n))
}

// ExcToVat returns the VAT due on an ex-VAT amount.
func (r Rate) ExcToVat(n decimal.Decimal) decimal.Decimal {
	return RoundMoney(n.Mul(r.fraction()))
}

// ExcToInc converts an ex-VAT amount to the VAT-inclusive amount.
func (r Rate) ExcToInc(n decimal.Decimal) decimal.Decimal {
	return n.Add(r.ExcToVat(n))
}
