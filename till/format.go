package till

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Lambdah/quicktill/quantity"
)

var printer = message.NewPrinter(language.BritishEnglish)

// Describe renders a line for the register or a receipt. Explicit text
// wins; otherwise a description is derived from the stock the line sold,
// and a line with neither falls back to the department description.
func Describe(l Transline, deptDescription string) string {
	if l.Text != nil {
		return *l.Text
	}
	if l.StockRef != nil {
		return l.StockRef.TypeFormat + " " + qtyPhrase(l.StockRef, l.Items)
	}
	return deptDescription
}

// qtyPhrase names the per-item quantity sold: "pint", "half pint",
// "4pt jug" and so on.
func qtyPhrase(ref *StockRef, items int) string {
	qty := ref.Qty
	if items > 1 {
		qty = qty.Div(decimal.NewFromInt(int64(items)))
	}
	qty = quantity.RoundQty(qty)

	var phrase string
	switch {
	case qty.Equal(decimal.NewFromInt(1)):
		phrase = ref.UnitName
	case qty.Equal(decimal.RequireFromString("0.5")):
		phrase = "half " + ref.UnitName
	default:
		phrase = qty.StringFixed(1) + " " + ref.UnitName
	}
	switch phrase {
	case "4.0 pint":
		phrase = "4pt jug"
	case "2.0 25ml":
		phrase = "double 25ml"
	case "2.0 50ml":
		phrase = "double 50ml"
	}
	return phrase
}

// RegTotal formats a line's item count and price for the register
// display: "£3.50" for a single item, "2 @ £3.50 = £7.00" otherwise.
// Zero-amount lines render as nothing.
func RegTotal(l Transline, currency string) string {
	if l.Amount.IsZero() {
		return ""
	}
	if l.Items == 1 {
		return printer.Sprintf("%s%s", currency, l.Amount.StringFixed(2))
	}
	return printer.Sprintf("%d @ %s%s = %s%s",
		l.Items, currency, l.Amount.StringFixed(2), currency, l.Total().StringFixed(2))
}
