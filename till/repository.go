package till

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Lambdah/quicktill/internal/platform/db"
	"github.com/Lambdah/quicktill/internal/shared"
)

// Repository persists the transaction ledger in PostgreSQL.
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

// GetTransaction loads a transaction with its lines and payments. Line
// stock refs are joined in so descriptions can be rendered without
// further queries.
func (r *Repository) GetTransaction(ctx context.Context, id int64) (TransactionDetail, error) {
	var d TransactionDetail
	var notes *string
	err := r.pool.QueryRow(ctx,
		`SELECT transid, sessionid, notes, closed FROM transactions WHERE transid = $1`, id).
		Scan(&d.ID, &d.SessionID, &notes, &d.Closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransactionDetail{}, shared.ErrNotFound
		}
		return TransactionDetail{}, err
	}
	if notes != nil {
		d.Notes = *notes
	}

	rows, err := r.pool.Query(ctx,
		`SELECT l.translineid, l.transid, l.items, l.amount, l.dept, l.userid,
		        l.transcode, l.time, l.text,
		        o.qty, ut.name,
		        st.manufacturer, st.name, st.abv
		   FROM translines l
		   LEFT JOIN stockout o ON o.translineid = l.translineid
		   LEFT JOIN stock s ON s.stockid = o.stockid
		   LEFT JOIN stocktypes st ON st.stocktype = s.stocktype
		   LEFT JOIN unittypes ut ON ut.unit = st.unit
		  WHERE l.transid = $1
		  ORDER BY l.translineid`, id)
	if err != nil {
		return TransactionDetail{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l            Transline
			qty          *decimal.Decimal
			unitName     *string
			manufacturer *string
			typeName     *string
			abv          *decimal.Decimal
		)
		err := rows.Scan(&l.ID, &l.TransID, &l.Items, &l.Amount, &l.DeptID, &l.UserID,
			&l.TransCode, &l.Time, &l.Text,
			&qty, &unitName, &manufacturer, &typeName, &abv)
		if err != nil {
			return TransactionDetail{}, err
		}
		if qty != nil && unitName != nil && manufacturer != nil && typeName != nil {
			l.StockRef = &StockRef{
				Qty:        *qty,
				UnitName:   *unitName,
				TypeFormat: formatStockType(*manufacturer, *typeName, abv),
			}
		}
		d.Lines = append(d.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return TransactionDetail{}, err
	}

	prows, err := r.pool.Query(ctx,
		`SELECT paymentid, transid, amount, paytype, ref, time, userid
		   FROM payments WHERE transid = $1 ORDER BY paymentid`, id)
	if err != nil {
		return TransactionDetail{}, err
	}
	defer prows.Close()
	for prows.Next() {
		var p Payment
		if err := prows.Scan(&p.ID, &p.TransID, &p.Amount, &p.PayType, &p.Ref, &p.Time, &p.UserID); err != nil {
			return TransactionDetail{}, err
		}
		d.Payments = append(d.Payments, p)
	}
	return d, prows.Err()
}

// ListDeferred lists open transactions detached from any session.
func (r *Repository) ListDeferred(ctx context.Context) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT transid, sessionid, COALESCE(notes, ''), closed
		   FROM transactions
		  WHERE sessionid IS NULL AND NOT closed
		  ORDER BY transid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Notes, &t.Closed); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func formatStockType(manufacturer, name string, abv *decimal.Decimal) string {
	if abv != nil {
		return manufacturer + " " + name + " (" + abv.StringFixed(1) + "% ABV)"
	}
	return manufacturer + " " + name
}

func (r *txRepo) CurrentSessionID(ctx context.Context) (*int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`SELECT sessionid FROM sessions WHERE endtime IS NULL`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (r *txRepo) InsertTransaction(ctx context.Context, sessionID *int64, notes string) (Transaction, error) {
	t := Transaction{SessionID: sessionID, Notes: notes}
	var n *string
	if notes != "" {
		n = &notes
	}
	err := r.tx.QueryRow(ctx,
		`INSERT INTO transactions (sessionid, notes) VALUES ($1, $2) RETURNING transid`,
		sessionID, n).Scan(&t.ID)
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func (r *txRepo) GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error) {
	var t Transaction
	var notes *string
	err := r.tx.QueryRow(ctx,
		`SELECT transid, sessionid, notes, closed FROM transactions
		  WHERE transid = $1 FOR UPDATE`, id).
		Scan(&t.ID, &t.SessionID, &notes, &t.Closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, shared.ErrNotFound
		}
		return Transaction{}, err
	}
	if notes != nil {
		t.Notes = *notes
	}
	return t, nil
}

func (r *txRepo) SetSession(ctx context.Context, id int64, sessionID *int64) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE transactions SET sessionid = $2 WHERE transid = $1`, id, sessionID)
	return err
}

// CloseBalanced flips closed in the same statement that verifies the
// balance, so the check and the set cannot be separated by a concurrent
// writer. Returns false when the row was already closed or unbalanced.
func (r *txRepo) CloseBalanced(ctx context.Context, id int64) (bool, error) {
	tag, err := r.tx.Exec(ctx,
		`UPDATE transactions SET closed = true
		  WHERE transid = $1 AND NOT closed
		    AND COALESCE((SELECT sum(items * amount) FROM translines WHERE transid = $1), 0.00) =
		        COALESCE((SELECT sum(amount) FROM payments WHERE transid = $1), 0.00)`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepo) GetLine(ctx context.Context, id int64) (Transline, error) {
	var l Transline
	err := r.tx.QueryRow(ctx,
		`SELECT translineid, transid, items, amount, dept, userid, transcode, time, text
		   FROM translines WHERE translineid = $1`, id).
		Scan(&l.ID, &l.TransID, &l.Items, &l.Amount, &l.DeptID, &l.UserID,
			&l.TransCode, &l.Time, &l.Text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transline{}, shared.ErrNotFound
		}
		return Transline{}, err
	}
	return l, nil
}

func (r *txRepo) InsertLine(ctx context.Context, l Transline) (Transline, error) {
	err := r.tx.QueryRow(ctx,
		`INSERT INTO translines (transid, items, amount, dept, userid, transcode, text)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING translineid, time`,
		l.TransID, l.Items, l.Amount, l.DeptID, l.UserID, l.TransCode, l.Text).
		Scan(&l.ID, &l.Time)
	if err != nil {
		return Transline{}, err
	}
	return l, nil
}

func (r *txRepo) UpdateLine(ctx context.Context, id int64, items int, amount decimal.Decimal, text *string) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE translines SET items = $2, amount = $3, text = $4 WHERE translineid = $1`,
		id, items, amount, text)
	return err
}

func (r *txRepo) DeleteLine(ctx context.Context, id int64) error {
	// The stockout row referencing this line goes with it (cascade).
	_, err := r.tx.Exec(ctx,
		`DELETE FROM translines WHERE translineid = $1`, id)
	return err
}

func (r *txRepo) GetPayment(ctx context.Context, id int64) (Payment, error) {
	var p Payment
	err := r.tx.QueryRow(ctx,
		`SELECT paymentid, transid, amount, paytype, ref, time, userid
		   FROM payments WHERE paymentid = $1`, id).
		Scan(&p.ID, &p.TransID, &p.Amount, &p.PayType, &p.Ref, &p.Time, &p.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, shared.ErrNotFound
		}
		return Payment{}, err
	}
	return p, nil
}

func (r *txRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := r.tx.QueryRow(ctx,
		`INSERT INTO payments (transid, amount, paytype, ref, userid)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING paymentid, time`,
		p.TransID, p.Amount, p.PayType, p.Ref, p.UserID).
		Scan(&p.ID, &p.Time)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (r *txRepo) UpdatePayment(ctx context.Context, id int64, amount decimal.Decimal, ref *string) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE payments SET amount = $2, ref = $3 WHERE paymentid = $1`,
		id, amount, ref)
	return err
}

func (r *txRepo) DeletePayment(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx,
		`DELETE FROM payments WHERE paymentid = $1`, id)
	return err
}
