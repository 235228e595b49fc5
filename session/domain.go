// Package session groups transactions into time-boxed trading periods
// and computes the cash-up aggregates for them. At most one session is
// open at any time; that invariant is checked here and re-verified by
// the store at commit.
package session

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Lambdah/quicktill/quantity"
)

// Session is one trading period. Date is the accounting date, which can
// differ from the calendar date of the start time when a session runs
// late or starts early.
type Session struct {
	ID        int64
	StartTime time.Time
	EndTime   *time.Time
	Date      time.Time
}

// Open reports whether the session has not yet ended.
func (s Session) Open() bool { return s.EndTime == nil }

// SessionTotal is one counted-up amount per pay type, recorded by staff
// after the session ends.
type SessionTotal struct {
	PayType string
	Amount  decimal.Decimal
}

// DeptTotal is a department's take.
type DeptTotal struct {
	DeptID      int
	Description string
	Total       decimal.Decimal
}

// UserTotal is one operator's take and item count.
type UserTotal struct {
	UserID   int64
	FullName string
	Items    int64
	Total    decimal.Decimal
}

// PayTotal is the transacted amount per pay type, as opposed to the
// counted amount in SessionTotal.
type PayTotal struct {
	PayType     string
	Description string
	Total       decimal.Decimal
}

// VatBandTotal is a band's take with the VAT split out, at the rate in
// force on the session's accounting date.
type VatBandTotal struct {
	Band  string
	Rate  quantity.Rate
	Total decimal.Decimal
	ExVat decimal.Decimal
	Vat   decimal.Decimal
}

// StockSoldTotal is the quantity of one stock type sold in the session.
type StockSoldTotal struct {
	StockTypeID  int64
	Manufacturer string
	Name         string
	UnitName     string
	Qty          decimal.Decimal
}

// Totals is the full cash-up view of a session. Error is the counted
// takings minus the computed total; anything non-zero means the drawer
// and the ledger disagree.
type Totals struct {
	Session     Session
	Total       decimal.Decimal
	ActualTotal decimal.Decimal
	Error       decimal.Decimal
	Depts       []DeptTotal
	Users       []UserTotal
	Payments    []PayTotal
	VatBands    []VatBandTotal
	StockSold   []StockSoldTotal
	Takings     []SessionTotal
}

var (
	// ErrSessionAlreadyOpen indicates an open attempt while another
	// session has no end time.
	ErrSessionAlreadyOpen = errors.New("session: a session is already open")
	// ErrSessionAlreadyClosed indicates a close attempt on an ended
	// session.
	ErrSessionAlreadyClosed = errors.New("session: session already closed")
	// ErrSessionStillOpen indicates takings recorded before the session
	// ended.
	ErrSessionStillOpen = errors.New("session: session still open")
	// ErrDuplicatePayType indicates more than one takings amount for the
	// same pay type.
	ErrDuplicatePayType = errors.New("session: duplicate pay type in takings")
)
