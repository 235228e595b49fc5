// Package refdata holds the till's static reference data: departments,
// units, pay types, the various reason codes, and the VAT bands and dated
// rates that price calculations resolve against. All of it is immutable
// after creation as far as the till is concerned; it is maintained by admin
// tooling outside this module.
package refdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// Department groups stock and transaction lines for reporting and VAT.
type Department struct {
	ID          int
	Description string
	VatBand     string
	Notes       string
	// MinPrice/MaxPrice are sanity guards on the price of a single unit
	// sold in this department; nil means unguarded.
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}

// PriceInRange reports whether a unit amount passes the department's price
// guards.
func (d Department) PriceInRange(amount decimal.Decimal) bool {
	if d.MinPrice != nil && amount.LessThan(*d.MinPrice) {
		return false
	}
	if d.MaxPrice != nil && amount.GreaterThan(*d.MaxPrice) {
		return false
	}
	return true
}

// UnitType names a unit of measurement, e.g. "pint".
type UnitType struct {
	ID   string
	Name string
}

// StockUnit describes packaging: a named container holding a fixed number
// of units, e.g. a firkin of 72 pints.
type StockUnit struct {
	ID     string
	Name   string
	UnitID string
	Size   decimal.Decimal
}

// PayType is a method of payment.
type PayType struct {
	Code        string
	Description string
}

// TransCode classifies a transaction line (sale, void, ...).
type TransCode struct {
	Code        string
	Description string
}

// RemoveCode is the reason stock left an item: sold, wasted, returned,
// pullthru and so on.
type RemoveCode struct {
	Code   string
	Reason string
}

// FinishCode is the reason a stock item was taken out of use.
type FinishCode struct {
	Code        string
	Description string
}

// VatBand carries a band's base rate, used when no dated rate applies.
type VatBand struct {
	Band string
	Rate decimal.Decimal
}

// VatRate is a dated replacement rate for a band. Active dates are unique
// per band.
type VatRate struct {
	Band   string
	Rate   decimal.Decimal
	Active time.Time
}

// User is a till operator. Authentication and permissions live outside this
// module; the ledger only needs attribution for per-user takings.
type User struct {
	ID        int64
	FullName  string
	ShortName string
	Enabled   bool
}
