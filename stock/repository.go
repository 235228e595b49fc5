package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Lambdah/quicktill/internal/platform/db"
	"github.com/Lambdah/quicktill/internal/shared"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
// Constraint-trigger rejections surface as shared.ErrConstraintViolation.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return shared.MapPgError(err)
}

const itemColumns = `
	s.stockid, s.deliveryid, s.stockunit, su.size, s.costprice, s.onsale,
	s.finished, s.finishcode, s.bestbefore, s.stocklineid, s.displayqty,
	st.stocktype, st.dept, st.manufacturer, st.name, st.shortname, st.abv,
	st.unit, ut.name, st.saleprice, st.pricechanged,
	COALESCE((SELECT sum(o.qty) FROM stockout o WHERE o.stockid = s.stockid), 0.0)`

const itemFrom = `
	FROM stock s
	JOIN stocktypes st ON st.stocktype = s.stocktype
	JOIN stockunits su ON su.stockunit = s.stockunit
	JOIN unittypes ut ON ut.unit = st.unit`

func scanItem(row pgx.Row) (StockItem, error) {
	var i StockItem
	err := row.Scan(
		&i.ID, &i.DeliveryID, &i.StockUnitID, &i.Size, &i.CostPrice, &i.OnSale,
		&i.Finished, &i.FinishCode, &i.BestBefore, &i.StockLineID, &i.DisplayQty,
		&i.StockType.ID, &i.StockType.DeptID, &i.StockType.Manufacturer,
		&i.StockType.Name, &i.StockType.ShortName, &i.StockType.ABV,
		&i.StockType.UnitID, &i.StockType.UnitName, &i.StockType.SalePrice,
		&i.StockType.PriceChanged,
		&i.Used,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, shared.ErrNotFound
		}
		return StockItem{}, err
	}
	return i, nil
}

func getItem(ctx context.Context, q querier, id int64, lock bool) (StockItem, error) {
	sql := `SELECT` + itemColumns + itemFrom + ` WHERE s.stockid = $1`
	if lock {
		sql += ` FOR UPDATE OF s`
	}
	return scanItem(q.QueryRow(ctx, sql, id))
}

func listOnSale(ctx context.Context, q querier, lineID int64) ([]StockItem, error) {
	rows, err := q.Query(ctx,
		`SELECT`+itemColumns+itemFrom+`
		 WHERE s.stocklineid = $1 AND s.finished IS NULL
		 ORDER BY COALESCE(s.displayqty, 0) DESC, s.stockid ASC`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []StockItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func getLine(ctx context.Context, q querier, id int64) (StockLine, error) {
	var (
		line     StockLine
		capacity *int
		pullthru *decimal.Decimal
	)
	err := q.QueryRow(ctx,
		`SELECT stocklineid, name, location, dept, capacity, pullthru
		   FROM stocklines WHERE stocklineid = $1`, id).
		Scan(&line.ID, &line.Name, &line.Location, &line.DeptID, &capacity, &pullthru)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLine{}, shared.ErrNotFound
		}
		return StockLine{}, err
	}
	// capacity and pullthru are mutually exclusive by check constraint.
	if capacity != nil {
		line.Presentation = Display{Capacity: *capacity}
	} else {
		p := decimal.Zero
		if pullthru != nil {
			p = *pullthru
		}
		line.Presentation = Regular{Pullthru: p}
	}
	return line, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// GetItem loads an item without locking.
func (r *Repository) GetItem(ctx context.Context, id int64) (StockItem, error) {
	return getItem(ctx, r.pool, id, false)
}

// GetLine loads a line.
func (r *Repository) GetLine(ctx context.Context, id int64) (StockLine, error) {
	return getLine(ctx, r.pool, id)
}

// ListOnSale lists the unfinished items attached to a line in on-sale
// order.
func (r *Repository) ListOnSale(ctx context.Context, lineID int64) ([]StockItem, error) {
	return listOnSale(ctx, r.pool, lineID)
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var (
		d   Delivery
		doc *string
	)
	err := row.Scan(&d.ID, &d.SupplierID, &doc, &d.Date, &d.Checked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, shared.ErrNotFound
		}
		return Delivery{}, err
	}
	if doc != nil {
		d.DocNumber = *doc
	}
	return d, nil
}

// GetDelivery loads a delivery.
func (r *Repository) GetDelivery(ctx context.Context, id int64) (Delivery, error) {
	return scanDelivery(r.pool.QueryRow(ctx,
		`SELECT deliveryid, supplierid, docnumber, date, checked
		   FROM deliveries WHERE deliveryid = $1`, id))
}

// SaleSummary reports the total quantity sold from an item and the times
// of its first and last sale.
func (r *Repository) SaleSummary(ctx context.Context, itemID int64) (SaleSummary, error) {
	var s SaleSummary
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(sum(qty), 0.0), min(time), max(time)
		   FROM stockout WHERE stockid = $1 AND removecode = $2`,
		itemID, RemoveCodeSold).
		Scan(&s.Sold, &s.FirstSale, &s.LastSale)
	return s, err
}

// RemovedBreakdown sums an item's movements per removal reason.
func (r *Repository) RemovedBreakdown(ctx context.Context, itemID int64) ([]RemovedQty, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.removecode, COALESCE(rc.reason, ''), sum(o.qty)
		   FROM stockout o
		   JOIN stockremove rc ON rc.removecode = o.removecode
		  WHERE o.stockid = $1
		  GROUP BY o.removecode, rc.reason
		  ORDER BY sum(o.qty) DESC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RemovedQty
	for rows.Next() {
		var q RemovedQty
		if err := rows.Scan(&q.Code, &q.Reason, &q.Qty); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r *txRepo) GetItemForUpdate(ctx context.Context, id int64) (StockItem, error) {
	return getItem(ctx, r.tx, id, true)
}

func (r *txRepo) GetLine(ctx context.Context, id int64) (StockLine, error) {
	return getLine(ctx, r.tx, id)
}

func (r *txRepo) CountOnSale(ctx context.Context, lineID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx,
		`SELECT count(*) FROM stock WHERE stocklineid = $1 AND finished IS NULL`, lineID).Scan(&n)
	return n, err
}

func (r *txRepo) ListOnSale(ctx context.Context, lineID int64) ([]StockItem, error) {
	return listOnSale(ctx, r.tx, lineID)
}

func (r *txRepo) InsertStockOut(ctx context.Context, out StockOut) (StockOut, error) {
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stockout (stockid, qty, removecode, translineid)
		 VALUES ($1, $2, $3, $4)
		 RETURNING stockoutid, time`,
		out.StockID, out.Qty, out.RemoveCode, out.TranslineID).
		Scan(&out.ID, &out.Time)
	if err != nil {
		return StockOut{}, err
	}
	return out, nil
}

func (r *txRepo) AttachItem(ctx context.Context, itemID, lineID int64, onsale time.Time) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE stock SET stocklineid = $2, onsale = $3, displayqty = NULL
		  WHERE stockid = $1`, itemID, lineID, onsale)
	return err
}

func (r *txRepo) SetDisplayQty(ctx context.Context, itemID int64, qty int) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE stock SET displayqty = $2 WHERE stockid = $1`, itemID, qty)
	return err
}

func (r *txRepo) FinishItem(ctx context.Context, itemID int64, code string, at time.Time) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE stock SET finished = $2, finishcode = $3, stocklineid = NULL, displayqty = NULL
		  WHERE stockid = $1`, itemID, at, code)
	return err
}

func (r *txRepo) InsertSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	err := r.tx.QueryRow(ctx,
		`INSERT INTO suppliers (name, tel, email, web)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
		 RETURNING supplierid`,
		s.Name, s.Tel, s.Email, s.Web).Scan(&s.ID)
	if err != nil {
		return Supplier{}, err
	}
	return s, nil
}

func (r *txRepo) InsertDelivery(ctx context.Context, d Delivery) (Delivery, error) {
	err := r.tx.QueryRow(ctx,
		`INSERT INTO deliveries (supplierid, docnumber, date)
		 VALUES ($1, NULLIF($2, ''), $3)
		 RETURNING deliveryid, date`,
		d.SupplierID, d.DocNumber, d.Date).Scan(&d.ID, &d.Date)
	if err != nil {
		return Delivery{}, err
	}
	return d, nil
}

func (r *txRepo) GetDeliveryForUpdate(ctx context.Context, id int64) (Delivery, error) {
	return scanDelivery(r.tx.QueryRow(ctx,
		`SELECT deliveryid, supplierid, docnumber, date, checked
		   FROM deliveries WHERE deliveryid = $1 FOR UPDATE`, id))
}

func (r *txRepo) SetDeliveryChecked(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE deliveries SET checked = true WHERE deliveryid = $1`, id)
	return err
}

func (r *txRepo) InsertItem(ctx context.Context, item StockItem) (StockItem, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock (deliveryid, stocktype, stockunit, costprice, bestbefore)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING stockid`,
		item.DeliveryID, item.StockType.ID, item.StockUnitID,
		item.CostPrice, item.BestBefore).Scan(&id)
	if err != nil {
		return StockItem{}, err
	}
	return getItem(ctx, r.tx, id, false)
}

func (r *txRepo) InsertAnnotation(ctx context.Context, a Annotation) (Annotation, error) {
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock_annotations (stockid, atype, text, userid)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, time`,
		a.StockID, a.Type, a.Text, a.UserID).
		Scan(&a.ID, &a.Time)
	if err != nil {
		return Annotation{}, err
	}
	return a, nil
}
