// Package till is the transaction ledger: transactions, their priced
// lines, and the payments that settle them. A transaction opens
// implicitly when its first line is added and closes exactly once; a
// closed transaction and everything attached to it is immutable history.
package till

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Lambdah/quicktill/quantity"
)

// NewRef returns a fresh idempotency reference for a terminal-originated
// mutation. A terminal generates one ref per user action and reuses it
// on retry, so the action is applied at most once.
func NewRef() string { return uuid.NewString() }

// Transaction is a sale in progress or completed. SessionID is nil for
// deferred transactions, which survive session close and are picked up
// again in a later session.
type Transaction struct {
	ID        int64
	SessionID *int64
	Notes     string
	Closed    bool
}

// StockRef is the stock movement a sale line caused, loaded alongside
// the line when present. It carries just enough to describe the line on
// a receipt.
type StockRef struct {
	Qty        decimal.Decimal
	UnitName   string
	TypeFormat string
}

// Transline is one priced entry in a transaction: Items units at Amount
// each.
type Transline struct {
	ID        int64
	TransID   int64
	Items     int
	Amount    decimal.Decimal
	DeptID    int
	UserID    *int64
	TransCode string
	Time      time.Time
	Text      *string
	StockRef  *StockRef
}

// Total is the line's contribution to the transaction total.
func (l Transline) Total() decimal.Decimal {
	return quantity.LineTotal(l.Items, l.Amount)
}

// Payment settles part of a transaction in one pay type.
type Payment struct {
	ID      int64
	TransID int64
	Amount  decimal.Decimal
	PayType string
	Ref     *string
	Time    time.Time
	UserID  *int64
}

// PayTypeAmount is a per-pay-type sum.
type PayTypeAmount struct {
	PayType string
	Amount  decimal.Decimal
}

// TransactionDetail is a transaction with its lines and payments loaded,
// from which all the derived amounts are computed.
type TransactionDetail struct {
	Transaction
	Lines    []Transline
	Payments []Payment
}

// Total sums the lines.
func (t TransactionDetail) Total() decimal.Decimal {
	total := quantity.ZeroMoney
	for _, l := range t.Lines {
		total = total.Add(l.Total())
	}
	return total
}

// PaymentsTotal sums the payments.
func (t TransactionDetail) PaymentsTotal() decimal.Decimal {
	total := quantity.ZeroMoney
	for _, p := range t.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// Balance is the amount still owed; zero when the transaction balances.
func (t TransactionDetail) Balance() decimal.Decimal {
	return t.Total().Sub(t.PaymentsTotal())
}

// PaymentsSummary sums payments per pay type, ordered by pay type code.
func (t TransactionDetail) PaymentsSummary() []PayTypeAmount {
	sums := make(map[string]decimal.Decimal)
	for _, p := range t.Payments {
		cur, ok := sums[p.PayType]
		if !ok {
			cur = quantity.ZeroMoney
		}
		sums[p.PayType] = cur.Add(p.Amount)
	}
	out := make([]PayTypeAmount, 0, len(sums))
	for pt, amount := range sums {
		out = append(out, PayTypeAmount{PayType: pt, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayType < out[j].PayType })
	return out
}

// Age is the age of the transaction's oldest line in whole days, zero
// when it has no lines.
func (t TransactionDetail) Age(now time.Time) int {
	if len(t.Lines) == 0 {
		return 0
	}
	oldest := t.Lines[0].Time
	for _, l := range t.Lines[1:] {
		if l.Time.Before(oldest) {
			oldest = l.Time
		}
	}
	return int(now.Sub(oldest).Hours() / 24)
}

var (
	// ErrTransactionClosed indicates any write against a closed
	// transaction, including updates and deletes of its lines and
	// payments.
	ErrTransactionClosed = errors.New("till: transaction is closed")
	// ErrUnbalanced indicates a close attempt while the line total and
	// payment total differ.
	ErrUnbalanced = errors.New("till: transaction does not balance")
	// ErrPriceOutOfRange indicates a unit amount outside the
	// department's price guards.
	ErrPriceOutOfRange = errors.New("till: amount outside department price range")
	// ErrInvalidAmount indicates an amount finer than a penny.
	ErrInvalidAmount = errors.New("till: invalid amount")
	// ErrNoOpenSession indicates a new transaction was requested while
	// no session is open and deferral was not asked for.
	ErrNoOpenSession = errors.New("till: no open session")
)
