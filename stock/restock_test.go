package stock

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func displayItem(id int64, size string, displayqty *int, used string) StockItem {
	line := int64(1)
	return StockItem{
		ID:          id,
		Size:        decimal.RequireFromString(size),
		Used:        decimal.RequireFromString(used),
		StockLineID: &line,
		DisplayQty:  displayqty,
	}
}

func intp(n int) *int { return &n }

func TestPlanRestockFillsInOrder(t *testing.T) {
	// Display line with capacity 24, two fresh items of 20 and 10 units,
	// nothing on display yet.
	items := []StockItem{
		displayItem(1, "20", nil, "0.0"),
		displayItem(2, "10", nil, "0.0"),
	}

	plan := PlanRestock(items, 24)
	require.Equal(t, []RestockMove{
		{ItemID: 1, Move: 20, NewDisplayQty: 20, InStockAfter: 0},
		{ItemID: 2, Move: 4, NewDisplayQty: 4, InStockAfter: 6},
	}, plan)
}

func TestPlanRestockTargetMet(t *testing.T) {
	items := []StockItem{
		displayItem(1, "20", intp(12), "0.0"),
	}
	require.Nil(t, PlanRestock(items, 12))
}

func TestPlanRestockClampedByInstock(t *testing.T) {
	items := []StockItem{
		displayItem(1, "10", intp(10), "4.0"),
		displayItem(2, "10", intp(2), "0.0"),
	}
	// ondisplay = 6 + 2 = 8; item 1 has nothing left in stock.
	plan := PlanRestock(items, 24)
	require.Equal(t, []RestockMove{
		{ItemID: 2, Move: 8, NewDisplayQty: 10, InStockAfter: 0},
	}, plan)

	// Applying the plan yields ondisplay = 6 + 10 = 16, all the stock
	// there is.
	ondisplay := 0
	items[1].DisplayQty = intp(plan[0].NewDisplayQty)
	for _, it := range items {
		ondisplay += it.OnDisplay()
	}
	require.Equal(t, 16, ondisplay)
}

func TestPlanRestockPullsBackFromNewestFirst(t *testing.T) {
	// Overstocked line: pull-back iterates the on-sale order reversed so
	// the latest-added item gives its display stock back first.
	items := []StockItem{
		displayItem(1, "20", intp(20), "0.0"),
		displayItem(2, "10", intp(4), "0.0"),
	}

	plan := PlanRestock(items, 10)
	require.Equal(t, []RestockMove{
		{ItemID: 2, Move: -4, NewDisplayQty: 0, InStockAfter: 10},
		{ItemID: 1, Move: -10, NewDisplayQty: 10, InStockAfter: 10},
	}, plan)
}

func TestPlanRestockPullBackLimitedByOnDisplay(t *testing.T) {
	// Used stock cannot be pulled back: item has displayqty 10 but 6
	// already sold, so only 4 can come off display.
	items := []StockItem{
		displayItem(1, "10", intp(10), "6.0"),
	}
	plan := PlanRestock(items, 0)
	require.Equal(t, []RestockMove{
		{ItemID: 1, Move: -4, NewDisplayQty: 6, InStockAfter: 4},
	}, plan)
}

func TestPlanRestockNoItems(t *testing.T) {
	require.Nil(t, PlanRestock(nil, 12))
}

func TestDisplayBookkeepingIdentity(t *testing.T) {
	// ondisplay + instock == displayqty-or-zero + (size - displayqty) -
	// used, i.e. remaining, for whole-unit items.
	it := displayItem(1, "10", intp(7), "2.0")
	require.Equal(t, 5, it.OnDisplay())
	require.Equal(t, 3, it.InStock())
	require.True(t, it.Remaining().Equal(decimal.RequireFromString("8.0")))
	require.True(t, it.Used.Add(it.Remaining()).Equal(it.Size))
}
