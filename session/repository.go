package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Lambdah/quicktill/internal/platform/db"
	"github.com/Lambdah/quicktill/internal/shared"
	"github.com/Lambdah/quicktill/quantity"
)

// Repository persists sessions and runs the aggregate queries in
// PostgreSQL.
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

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.StartTime, &s.EndTime, &s.Date)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, shared.ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

// Get loads a session by id.
func (r *Repository) Get(ctx context.Context, id int64) (Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT sessionid, starttime, endtime, sessiondate FROM sessions WHERE sessionid = $1`, id))
}

// Current returns the open session, or nil.
func (r *Repository) Current(ctx context.Context) (*Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT sessionid, starttime, endtime, sessiondate FROM sessions WHERE endtime IS NULL`))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Total sums the session's transaction lines.
func (r *Repository) Total(ctx context.Context, id int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(sum(l.items * l.amount), 0.00)
		   FROM translines l
		   JOIN transactions t ON t.transid = l.transid
		  WHERE t.sessionid = $1`, id).Scan(&total)
	return total, err
}

// ActualTotal sums the recorded cash-up amounts.
func (r *Repository) ActualTotal(ctx context.Context, id int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(sum(amount), 0.00) FROM sessiontotals WHERE sessionid = $1`, id).
		Scan(&total)
	return total, err
}

// DeptTotals breaks the session's lines down by department, in
// department order.
func (r *Repository) DeptTotals(ctx context.Context, id int64) ([]DeptTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT d.dept, d.description, sum(l.items * l.amount)
		   FROM translines l
		   JOIN transactions t ON t.transid = l.transid
		   JOIN departments d ON d.dept = l.dept
		  WHERE t.sessionid = $1
		  GROUP BY d.dept, d.description
		  ORDER BY d.dept`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeptTotal
	for rows.Next() {
		var dt DeptTotal
		if err := rows.Scan(&dt.DeptID, &dt.Description, &dt.Total); err != nil {
			return nil, err
		}
		out = append(out, dt)
	}
	return out, rows.Err()
}

// UserTotals breaks the session's lines down by operator, biggest take
// first, with item counts.
func (r *Repository) UserTotals(ctx context.Context, id int64) ([]UserTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.fullname, sum(l.items), sum(l.items * l.amount)
		   FROM translines l
		   JOIN transactions t ON t.transid = l.transid
		   JOIN users u ON u.id = l.userid
		  WHERE t.sessionid = $1
		  GROUP BY u.id, u.fullname
		  ORDER BY sum(l.items * l.amount) DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserTotal
	for rows.Next() {
		var ut UserTotal
		if err := rows.Scan(&ut.UserID, &ut.FullName, &ut.Items, &ut.Total); err != nil {
			return nil, err
		}
		out = append(out, ut)
	}
	return out, rows.Err()
}

// PaymentTotals breaks the session's payments down by pay type.
func (r *Repository) PaymentTotals(ctx context.Context, id int64) ([]PayTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT pt.paytype, pt.description, sum(p.amount)
		   FROM payments p
		   JOIN transactions t ON t.transid = p.transid
		   JOIN paytypes pt ON pt.paytype = p.paytype
		  WHERE t.sessionid = $1
		  GROUP BY pt.paytype, pt.description
		  ORDER BY pt.paytype`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PayTotal
	for rows.Next() {
		var pt PayTotal
		if err := rows.Scan(&pt.PayType, &pt.Description, &pt.Total); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

// VatBandTotals breaks the session's lines down by VAT band, resolving
// each band's rate as of the session's accounting date. The VAT split is
// computed by the caller.
func (r *Repository) VatBandTotals(ctx context.Context, id int64) ([]VatBandTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT v.band,
		        COALESCE(
		          (SELECT vr.rate FROM vatrates vr
		            WHERE vr.band = v.band
		              AND vr.active <= (SELECT sessiondate FROM sessions WHERE sessionid = $1)
		            ORDER BY vr.active DESC LIMIT 1),
		          v.rate),
		        sum(l.items * l.amount)
		   FROM translines l
		   JOIN transactions t ON t.transid = l.transid
		   JOIN departments d ON d.dept = l.dept
		   JOIN vat v ON v.band = d.vatband
		  WHERE t.sessionid = $1
		  GROUP BY v.band, v.rate
		  ORDER BY v.band`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VatBandTotal
	for rows.Next() {
		var (
			vt   VatBandTotal
			rate decimal.Decimal
		)
		if err := rows.Scan(&vt.Band, &rate, &vt.Total); err != nil {
			return nil, err
		}
		vt.Rate = quantity.NewRate(rate)
		out = append(out, vt)
	}
	return out, rows.Err()
}

// StockSold sums the quantity of each stock type sold through the
// session's transaction lines, by department then quantity descending.
func (r *Repository) StockSold(ctx context.Context, id int64) ([]StockSoldTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT st.stocktype, st.manufacturer, st.name, ut.name, sum(o.qty)
		   FROM stockout o
		   JOIN stock s ON s.stockid = o.stockid
		   JOIN stocktypes st ON st.stocktype = s.stocktype
		   JOIN unittypes ut ON ut.unit = st.unit
		   JOIN translines l ON l.translineid = o.translineid
		   JOIN transactions t ON t.transid = l.transid
		  WHERE t.sessionid = $1
		  GROUP BY st.stocktype, st.manufacturer, st.name, ut.name, st.dept
		  ORDER BY st.dept, sum(o.qty) DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StockSoldTotal
	for rows.Next() {
		var st StockSoldTotal
		if err := rows.Scan(&st.StockTypeID, &st.Manufacturer, &st.Name, &st.UnitName, &st.Qty); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Takings returns the recorded cash-up rows, pay type order.
func (r *Repository) Takings(ctx context.Context, id int64) ([]SessionTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT paytype, amount FROM sessiontotals WHERE sessionid = $1 ORDER BY paytype`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionTotal
	for rows.Next() {
		var st SessionTotal
		if err := rows.Scan(&st.PayType, &st.Amount); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *txRepo) Current(ctx context.Context) (*Session, error) {
	s, err := scanSession(r.tx.QueryRow(ctx,
		`SELECT sessionid, starttime, endtime, sessiondate FROM sessions
		  WHERE endtime IS NULL FOR UPDATE`))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *txRepo) Insert(ctx context.Context, date time.Time) (Session, error) {
	return scanSession(r.tx.QueryRow(ctx,
		`INSERT INTO sessions (starttime, sessiondate) VALUES (current_timestamp, $1)
		 RETURNING sessionid, starttime, endtime, sessiondate`, date))
}

func (r *txRepo) GetForUpdate(ctx context.Context, id int64) (Session, error) {
	return scanSession(r.tx.QueryRow(ctx,
		`SELECT sessionid, starttime, endtime, sessiondate FROM sessions
		  WHERE sessionid = $1 FOR UPDATE`, id))
}

func (r *txRepo) SetEnd(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE sessions SET endtime = $2 WHERE sessionid = $1`, id, at)
	return err
}

func (r *txRepo) ReplaceTakings(ctx context.Context, id int64, totals []SessionTotal) error {
	if _, err := r.tx.Exec(ctx,
		`DELETE FROM sessiontotals WHERE sessionid = $1`, id); err != nil {
		return err
	}
	for _, t := range totals {
		if _, err := r.tx.Exec(ctx,
			`INSERT INTO sessiontotals (sessionid, paytype, amount) VALUES ($1, $2, $3)`,
			id, t.PayType, t.Amount); err != nil {
			return err
		}
	}
	return nil
}
