package refdata

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Lambdah/quicktill/internal/shared"
	"github.com/Lambdah/quicktill/quantity"
)

// Repository reads reference data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetDepartment loads a department by id.
func (r *Repository) GetDepartment(ctx context.Context, id int) (Department, error) {
	var d Department
	err := r.pool.QueryRow(ctx,
		`SELECT dept, description, vatband, COALESCE(notes, ''), minprice, maxprice
		   FROM departments WHERE dept = $1`, id).
		Scan(&d.ID, &d.Description, &d.VatBand, &d.Notes, &d.MinPrice, &d.MaxPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Department{}, shared.ErrNotFound
		}
		return Department{}, err
	}
	return d, nil
}

// ListDepartments returns all departments in id order.
func (r *Repository) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT dept, description, vatband, COALESCE(notes, ''), minprice, maxprice
		   FROM departments ORDER BY dept`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Description, &d.VatBand, &d.Notes, &d.MinPrice, &d.MaxPrice); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetStockUnit loads a stock unit by id.
func (r *Repository) GetStockUnit(ctx context.Context, id string) (StockUnit, error) {
	var u StockUnit
	err := r.pool.QueryRow(ctx,
		`SELECT stockunit, name, unit, size FROM stockunits WHERE stockunit = $1`, id).
		Scan(&u.ID, &u.Name, &u.UnitID, &u.Size)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockUnit{}, shared.ErrNotFound
		}
		return StockUnit{}, err
	}
	return u, nil
}

// ListPayTypes returns the configured payment methods.
func (r *Repository) ListPayTypes(ctx context.Context) ([]PayType, error) {
	rows, err := r.pool.Query(ctx, `SELECT paytype, description FROM paytypes ORDER BY paytype`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PayType
	for rows.Next() {
		var p PayType
		if err := rows.Scan(&p.Code, &p.Description); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListRemoveCodes returns the stock removal reason codes.
func (r *Repository) ListRemoveCodes(ctx context.Context) ([]RemoveCode, error) {
	rows, err := r.pool.Query(ctx, `SELECT removecode, COALESCE(reason, '') FROM stockremove ORDER BY removecode`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RemoveCode
	for rows.Next() {
		var c RemoveCode
		if err := rows.Scan(&c.Code, &c.Reason); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RateAt resolves the VAT rate for a band on a date directly in SQL,
// matching the semantics of RateFor.
func (r *Repository) RateAt(ctx context.Context, band string, date time.Time) (quantity.Rate, error) {
	var rate decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(
		    (SELECT vr.rate FROM vatrates vr
		      WHERE vr.band = v.band AND vr.active <= $2
		      ORDER BY vr.active DESC LIMIT 1),
		    v.rate)
		   FROM vat v WHERE v.band = $1`, band, date).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return quantity.Rate{}, shared.ErrNotFound
		}
		return quantity.Rate{}, err
	}
	return quantity.NewRate(rate), nil
}
