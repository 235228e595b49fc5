package stock

// RestockMove is one planned display-quantity change for a stock item.
type RestockMove struct {
	ItemID        int64
	Move          int
	NewDisplayQty int
	InStockAfter  int
}

// PlanRestock computes the display-quantity changes needed to bring a
// display line's on-display total to target. It reads a snapshot and never
// writes; the caller applies the whole plan in one store transaction.
//
// items must be in on-sale order: displayqty descending, then id ascending,
// so partially-displayed items are topped up first. When the line is
// overstocked the iteration is reversed, pulling stock back from the
// latest-added items first. Items with no computed movement are omitted.
func PlanRestock(items []StockItem, target int) []RestockMove {
	ondisplay := 0
	for _, it := range items {
		ondisplay += it.OnDisplay()
	}
	needed := target - ondisplay
	if needed == 0 {
		return nil
	}

	seq := make([]StockItem, len(items))
	copy(seq, items)
	if needed < 0 {
		for i, j := 0, len(seq)-1; i < j; i, j = i+1, j-1 {
			seq[i], seq[j] = seq[j], seq[i]
		}
	}

	var plan []RestockMove
	for _, it := range seq {
		move := 0
		if needed > 0 {
			move = min(needed, it.InStock())
		}
		if needed < 0 {
			// We can only put back what is already on display.
			move = max(needed, -it.OnDisplay())
		}
		needed -= move
		if move == 0 {
			continue
		}
		newDisplayQty := it.DisplayQtyOrZero() + move
		plan = append(plan, RestockMove{
			ItemID:        it.ID,
			Move:          move,
			NewDisplayQty: newDisplayQty,
			InStockAfter:  int(it.Size.IntPart()) - newDisplayQty,
		})
	}
	return plan
}
