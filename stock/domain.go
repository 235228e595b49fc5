// Package stock is the stock ledger: physical stock items, the lines they
// are sold through, and the append-only movement records that deplete them.
//
// Quantity bookkeeping for an item follows this picture:
//
//	0     1     2     3     4     5     6     7     8     9    10
//	|-----|-----|-----|-----|-----|-----|-----|-----|-----|-----|
//	<--------------------- stock unit size ---------------------> = 10
//	<-------- used -------->|<------------ remaining ----------->
//	                        |<-- ondisplay -->|<--- instock ---->
//	<-------------- displayqty -------------->|
//
// used and remaining are derived from the movement records and are never
// stored; displayqty is the only stored piece of display bookkeeping.
package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LineType enumerates stock line presentation models.
type LineType string

const (
	// LineTypeRegular sells one stock item at a time.
	LineTypeRegular LineType = "regular"
	// LineTypeDisplay keeps a bounded number of units on display across
	// several stock items at once.
	LineTypeDisplay LineType = "display"
)

// Presentation describes how a stock line sells its stock. Exactly one
// concrete shape exists per line; the old "two nullable columns, exactly
// one set" scheme is kept only at the storage layer.
type Presentation interface {
	LineType() LineType
}

// Regular lines dispense directly from a single stock item; staff move to
// the next item explicitly. Pullthru is the amount to dispose of on first
// use each day (line cleaning); zero means none configured.
type Regular struct {
	Pullthru decimal.Decimal
}

// LineType implements Presentation.
func (Regular) LineType() LineType { return LineTypeRegular }

// Display lines hold several items at once with Capacity units of shelf
// space; the till tracks how much of each item is on display.
type Display struct {
	Capacity int
}

// LineType implements Presentation.
func (Display) LineType() LineType { return LineTypeDisplay }

// Supplier is a source of deliveries.
type Supplier struct {
	ID    int64
	Name  string
	Tel   string
	Email string
	Web   string
}

// Delivery is a batch of stock items arriving from a supplier. Items on
// an unchecked delivery are still being keyed in against the paperwork
// and cannot yet be put on sale.
type Delivery struct {
	ID         int64
	SupplierID int64
	DocNumber  string
	Date       time.Time
	Checked    bool
}

// StockLine is a point of sale.
type StockLine struct {
	ID           int64
	Name         string
	Location     string
	DeptID       int
	Presentation Presentation
}

// PullthruAmount is the regular line's configured pullthru quantity;
// zero for display lines and lines with none configured.
func (l StockLine) PullthruAmount() decimal.Decimal {
	if reg, ok := l.Presentation.(Regular); ok {
		return reg.Pullthru
	}
	return decimal.Zero
}

// StockType is a product definition; many stock items reference one type.
type StockType struct {
	ID           int64
	DeptID       int
	Manufacturer string
	Name         string
	ShortName    string
	ABV          *decimal.Decimal
	UnitID       string
	UnitName     string
	SalePrice    *decimal.Decimal
	PriceChanged *time.Time
}

// FullName is manufacturer and product name together.
func (t StockType) FullName() string {
	return t.Manufacturer + " " + t.Name
}

// Format returns the longest description of the type, including ABV when
// known.
func (t StockType) Format() string {
	if t.ABV != nil {
		return fmt.Sprintf("%s %s (%s%% ABV)", t.Manufacturer, t.Name, t.ABV.StringFixed(1))
	}
	return t.FullName()
}

// StockItem is one physical unit of stock: a keg, case, card of snacks.
// Size and Used are loaded alongside the row; Used is the sum of all
// movement records against the item.
type StockItem struct {
	ID          int64
	DeliveryID  int64
	StockType   StockType
	StockUnitID string
	Size        decimal.Decimal
	CostPrice   *decimal.Decimal
	OnSale      *time.Time
	Finished    *time.Time
	FinishCode  *string
	BestBefore  *time.Time
	StockLineID *int64
	DisplayQty  *int
	Used        decimal.Decimal
}

// Remaining is the quantity left in the item.
func (i StockItem) Remaining() decimal.Decimal {
	return i.Size.Sub(i.Used)
}

// DisplayQtyOrZero reads a null displayqty as zero; on display lines that
// is the meaning of null (legacy databases never backfilled it).
func (i StockItem) DisplayQtyOrZero() int {
	if i.DisplayQty == nil {
		return 0
	}
	return *i.DisplayQty
}

// OnDisplay is the number of whole units on display waiting to be sold.
// Only meaningful for items attached to a display line.
func (i StockItem) OnDisplay() int {
	return int(decimal.NewFromInt(int64(i.DisplayQtyOrZero())).Sub(i.Used).IntPart())
}

// InStock is the number of whole units not yet brought on display.
func (i StockItem) InStock() int {
	return int(i.Size.IntPart()) - i.DisplayQtyOrZero()
}

// StockOut is an immutable movement record: qty leaving an item for a
// reason, optionally caused by a transaction line.
type StockOut struct {
	ID          int64
	StockID     int64
	Qty         decimal.Decimal
	RemoveCode  string
	TranslineID *int64
	Time        time.Time
}

// Well-known removal reason codes.
const (
	RemoveCodeSold     = "sold"
	RemoveCodePullthru = "pullthru"
	RemoveCodeWaste    = "waste"
)

// SaleSummary is the sold-through history of one item: total quantity
// sold and when the first and last sales happened. Nil times mean the
// item has never been sold.
type SaleSummary struct {
	Sold      decimal.Decimal
	FirstSale *time.Time
	LastSale  *time.Time
}

// RemovedQty is a per-reason breakdown of everything taken out of an item.
type RemovedQty struct {
	Code   string
	Reason string
	Qty    decimal.Decimal
}

// Annotation is a free-text note attached to a stock item by staff.
type Annotation struct {
	ID      int64
	StockID int64
	Type    string
	Time    time.Time
	Text    string
	UserID  *int64
}

var (
	// ErrInvalidQuantity indicates a quantity that is non-positive, finer
	// than one decimal place, or outside the display bookkeeping bounds.
	ErrInvalidQuantity = errors.New("stock: invalid quantity")
	// ErrInsufficientStock indicates a movement larger than the item's
	// remaining quantity.
	ErrInsufficientStock = errors.New("stock: insufficient stock remaining")
	// ErrLineOccupied indicates a regular line that already has an
	// unfinished item on sale.
	ErrLineOccupied = errors.New("stock: line already has an item on sale")
	// ErrWrongDepartment indicates an item whose department does not match
	// the line's.
	ErrWrongDepartment = errors.New("stock: item department does not match line")
	// ErrStillOnDisplay indicates an item that cannot be finished while
	// units remain on display.
	ErrStillOnDisplay = errors.New("stock: item still has units on display")
	// ErrAlreadyFinished indicates an item that has already been finished.
	ErrAlreadyFinished = errors.New("stock: item already finished")
	// ErrNotDisplayLine indicates a display-only operation on a regular
	// line.
	ErrNotDisplayLine = errors.New("stock: not a display line")
	// ErrNotRegularLine indicates a regular-only operation on a display
	// line.
	ErrNotRegularLine = errors.New("stock: not a regular line")
	// ErrDeliveryChecked indicates a delivery that has already been checked
	// in and can no longer receive items.
	ErrDeliveryChecked = errors.New("stock: delivery already checked in")
	// ErrDeliveryUnchecked indicates an item whose delivery has not been
	// checked in yet; it cannot go on sale.
	ErrDeliveryUnchecked = errors.New("stock: delivery not yet checked in")
)
