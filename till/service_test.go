package till

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Lambdah/quicktill/internal/shared"
	"github.com/Lambdah/quicktill/refdata"
)

type memoryRepo struct {
	openSession *int64
	trans       map[int64]*Transaction
	lines       map[int64]*Transline
	payments    map[int64]*Payment
	nextTrans   int64
	nextLine    int64
	nextPayment int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		trans:    make(map[int64]*Transaction),
		lines:    make(map[int64]*Transline),
		payments: make(map[int64]*Payment),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetTransaction(ctx context.Context, id int64) (TransactionDetail, error) {
	t, ok := r.trans[id]
	if !ok {
		return TransactionDetail{}, shared.ErrNotFound
	}
	d := TransactionDetail{Transaction: *t}
	for _, l := range r.lines {
		if l.TransID == id {
			d.Lines = append(d.Lines, *l)
		}
	}
	for _, p := range r.payments {
		if p.TransID == id {
			d.Payments = append(d.Payments, *p)
		}
	}
	return d, nil
}

func (r *memoryRepo) ListDeferred(ctx context.Context) ([]Transaction, error) {
	var out []Transaction
	for _, t := range r.trans {
		if t.SessionID == nil && !t.Closed {
			out = append(out, *t)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) CurrentSessionID(ctx context.Context) (*int64, error) {
	return t.repo.openSession, nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, sessionID *int64, notes string) (Transaction, error) {
	t.repo.nextTrans++
	tr := Transaction{ID: t.repo.nextTrans, SessionID: sessionID, Notes: notes}
	t.repo.trans[tr.ID] = &tr
	return tr, nil
}

func (t *memoryTx) GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error) {
	tr, ok := t.repo.trans[id]
	if !ok {
		return Transaction{}, shared.ErrNotFound
	}
	return *tr, nil
}

func (t *memoryTx) SetSession(ctx context.Context, id int64, sessionID *int64) error {
	t.repo.trans[id].SessionID = sessionID
	return nil
}

func (t *memoryTx) CloseBalanced(ctx context.Context, id int64) (bool, error) {
	tr := t.repo.trans[id]
	if tr.Closed {
		return false, nil
	}
	d, _ := t.repo.GetTransaction(ctx, id)
	if !d.Balance().IsZero() {
		return false, nil
	}
	tr.Closed = true
	return true, nil
}

func (t *memoryTx) GetLine(ctx context.Context, id int64) (Transline, error) {
	l, ok := t.repo.lines[id]
	if !ok {
		return Transline{}, shared.ErrNotFound
	}
	return *l, nil
}

func (t *memoryTx) InsertLine(ctx context.Context, l Transline) (Transline, error) {
	t.repo.nextLine++
	l.ID = t.repo.nextLine
	l.Time = time.Now()
	t.repo.lines[l.ID] = &l
	return l, nil
}

func (t *memoryTx) UpdateLine(ctx context.Context, id int64, items int, amount decimal.Decimal, text *string) error {
	l := t.repo.lines[id]
	l.Items, l.Amount, l.Text = items, amount, text
	return nil
}

func (t *memoryTx) DeleteLine(ctx context.Context, id int64) error {
	delete(t.repo.lines, id)
	return nil
}

func (t *memoryTx) GetPayment(ctx context.Context, id int64) (Payment, error) {
	p, ok := t.repo.payments[id]
	if !ok {
		return Payment{}, shared.ErrNotFound
	}
	return *p, nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	t.repo.nextPayment++
	p.ID = t.repo.nextPayment
	p.Time = time.Now()
	t.repo.payments[p.ID] = &p
	return p, nil
}

func (t *memoryTx) UpdatePayment(ctx context.Context, id int64, amount decimal.Decimal, ref *string) error {
	p := t.repo.payments[id]
	p.Amount, p.Ref = amount, ref
	return nil
}

func (t *memoryTx) DeletePayment(ctx context.Context, id int64) error {
	delete(t.repo.payments, id)
	return nil
}

type staticDepts map[int]refdata.Department

func (d staticDepts) GetDepartment(ctx context.Context, id int) (refdata.Department, error) {
	dept, ok := d[id]
	if !ok {
		return refdata.Department{}, shared.ErrNotFound
	}
	return dept, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func testDepts() staticDepts {
	return staticDepts{
		1: {ID: 1, Description: "Real Ale", VatBand: "A"},
		2: {ID: 2, Description: "Wine", VatBand: "A", MinPrice: decp("2.00"), MaxPrice: decp("50.00")},
	}
}

func openSession(r *memoryRepo) {
	id := int64(7)
	r.openSession = &id
}

func TestAddLineOpensTransaction(t *testing.T) {
	repo := newMemoryRepo()
	openSession(repo)
	svc := NewService(repo, testDepts(), nil, nil, nil)
	ctx := context.Background()

	line, err := svc.AddLine(ctx, AddLineInput{
		DeptID: 1, Items: 2, Amount: dec("3.50"), TransCode: "S", Ref: NewRef(),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), line.TransID)
	require.True(t, line.Total().Equal(dec("7.00")))

	d, err := svc.Transaction(ctx, line.TransID)
	require.NoError(t, err)
	require.NotNil(t, d.SessionID)
	require.Equal(t, int64(7), *d.SessionID)
	require.True(t, d.Total().Equal(dec("7.00")))
}

func TestAddLineNoOpenSession(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testDepts(), nil, nil, nil)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, AddLineInput{
		DeptID: 1, Items: 1, Amount: dec("3.50"), TransCode: "S",
	})
	require.ErrorIs(t, err, ErrNoOpenSession)

	// A deferred transaction can be started with no session at all.
	line, err := svc.AddLine(ctx, AddLineInput{
		DeptID: 1, Items: 1, Amount: dec("3.50"), TransCode: "S", Deferred: true,
	})
	require.NoError(t, err)
	d, err := svc.Transaction(ctx, line.TransID)
	require.NoError(t, err)
	require.Nil(t, d.SessionID)

	deferred, err := svc.Deferred(ctx)
	require.NoError(t, err)
	require.Len(t, deferred, 1)
}

func TestAddLinePriceGuards(t *testing.T) {
	repo := newMemoryRepo()
	openSession(repo)
	svc := NewService(repo, testDepts(), nil, nil, nil)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, AddLineInput{
		DeptID: 2, Items: 1, Amount: dec("1.50"), TransCode: "S",
	})
	require.ErrorIs(t, err, ErrPriceOutOfRange)

	_, err = svc.AddLine(ctx, AddLineInput{
		DeptID: 2, Items: 1, Amount: dec("75.00"), TransCode: "S",
	})
	require.ErrorIs(t, err, ErrPriceOutOfRange)

	_, err = svc.AddLine(ctx, AddLineInput{
		DeptID: 1, Items: 1, Amount: dec("3.501"), TransCode: "S",
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.AddLine(ctx, AddLineInput{
		DeptID: 2, Items: 1, Amount: dec("4.20"), TransCode: "S",
	})
	require.NoError(t, err)
}

func TestCloseBalanced(t *testing.T) {
	repo := newMemoryRepo()
	openSession(repo)
	svc := NewService(repo, testDepts(), nil, nil, nil)
	ctx := context.Background()

	line, err := svc.AddLine(ctx, AddLineInput{
		DeptID: 1, Items: 2, Amount: dec("3.50"), TransCode: "S",
	})
	require.NoError(t, err)

	// Underpaid close fails and leaves the transaction open.
	_, err = svc.AddPayment(ctx, AddPaymentInput{TransID: line.TransID, PayType: "CASH", Amount: dec("6.99")})
	require.NoError(t, err)
	require.ErrorIs(t, svc.Close(ctx, line.TransID, 0), ErrUnbalanced)

	d, err := svc.Transaction(ctx, line.TransID)
	require.NoError(t, err)
	require.False(t, d.Closed)
	require.True(t, d.Balance().Equal(dec("0.01")))

	_, err = svc.AddPayment(ctx, AddPaymentInput{TransID: line.TransID, PayType: "CASH", Amount: dec("0.01")})
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, line.TransID, 0))

	require.ErrorIs(t, svc.Close(ctx, line.TransID, 0), ErrTransactionClosed)
}

func TestClosedTransactionImmutable(t *testing.T) {
	repo := newMemoryRepo()
	openSession(repo)
	svc := NewService(repo, testDepts(), nil, nil, nil)
	ctx := context.Background()

	line, err := svc.AddLine(ctx, AddLineInput{
		DeptID: 1, Items: 1, Amount: dec("3.50"), TransCode: "S",
	})
	require.NoError(t, err)
	payment, err := svc.AddPayment(ctx, AddPaymentInput{TransID: line.TransID, PayType: "CASH", Amount: dec("3.50")})
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, line.TransID, 0))

	_, err = svc.AddLine(ctx, AddLineInput{
		TransID: line.TransID, DeptID: 1, Items: 1, Amount: dec("3.50"), TransCode: "S",
	})
	require.ErrorIs(t, err, ErrTransactionClosed)

	err = svc.UpdateLine(ctx, UpdateLineInput{LineID: line.ID, Items: 2, Amount: dec("3.50")})
	require.ErrorIs(t, err, ErrTransactionClosed)
	require.ErrorIs(t, svc.DeleteLine(ctx, line.ID, 0), ErrTransactionClosed)

	_, err = svc.AddPayment(ctx, AddPaymentInput{TransID: line.TransID, PayType: "CASH", Amount: dec("1.00")})
	require.ErrorIs(t, err, ErrTransactionClosed)
	err = svc.UpdatePayment(ctx, UpdatePaymentInput{PaymentID: payment.ID, Amount: dec("1.00")})
	require.ErrorIs(t, err, ErrTransactionClosed)
	require.ErrorIs(t, svc.DeletePayment(ctx, payment.ID, 0), ErrTransactionClosed)
	require.ErrorIs(t, svc.Defer(ctx, line.TransID, 0), ErrTransactionClosed)

	// Nothing changed.
	d, err := svc.Transaction(ctx, line.TransID)
	require.NoError(t, err)
	require.Len(t, d.Lines, 1)
	require.Len(t, d.Payments, 1)
	require.True(t, d.Balance().IsZero())
}

func TestEditOpenTransaction(t *testing.T) {
	repo := newMemoryRepo()
	openSession(repo)
	svc := NewService(repo, testDepts(), nil, nil, nil)
	ctx := context.Background()

	line, err := svc.AddLine(ctx, AddLineInput{
		DeptID: 1, Items: 1, Amount: dec("3.50"), TransCode: "S",
	})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateLine(ctx, UpdateLineInput{LineID: line.ID, Items: 3, Amount: dec("3.40")}))
	d, err := svc.Transaction(ctx, line.TransID)
	require.NoError(t, err)
	require.True(t, d.Total().Equal(dec("10.20")))

	require.NoError(t, svc.DeleteLine(ctx, line.ID, 0))
	d, err = svc.Transaction(ctx, line.TransID)
	require.NoError(t, err)
	require.Empty(t, d.Lines)
	require.True(t, d.Total().IsZero())
}

func TestDefer(t *testing.T) {
	repo := newMemoryRepo()
	openSession(repo)
	svc := NewService(repo, testDepts(), nil, nil, nil)
	ctx := context.Background()

	line, err := svc.AddLine(ctx, AddLineInput{
		DeptID: 1, Items: 1, Amount: dec("3.50"), TransCode: "S",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Defer(ctx, line.TransID, 0))
	d, err := svc.Transaction(ctx, line.TransID)
	require.NoError(t, err)
	require.Nil(t, d.SessionID)

	deferred, err := svc.Deferred(ctx)
	require.NoError(t, err)
	require.Len(t, deferred, 1)
	require.Equal(t, line.TransID, deferred[0].ID)
}

func TestPaymentsSummaryAndBalance(t *testing.T) {
	repo := newMemoryRepo()
	openSession(repo)
	svc := NewService(repo, testDepts(), nil, nil, nil)
	ctx := context.Background()

	line, err := svc.AddLine(ctx, AddLineInput{
		DeptID: 1, Items: 2, Amount: dec("3.50"), TransCode: "S",
	})
	require.NoError(t, err)

	// Cash tendered over the total, change as a negative payment.
	_, err = svc.AddPayment(ctx, AddPaymentInput{TransID: line.TransID, PayType: "CASH", Amount: dec("10.00")})
	require.NoError(t, err)
	_, err = svc.AddPayment(ctx, AddPaymentInput{TransID: line.TransID, PayType: "CASH", Amount: dec("-3.00")})
	require.NoError(t, err)
	_, err = svc.AddPayment(ctx, AddPaymentInput{TransID: line.TransID, PayType: "CARD", Amount: dec("0.00")})
	require.NoError(t, err)

	d, err := svc.Transaction(ctx, line.TransID)
	require.NoError(t, err)
	require.True(t, d.Balance().IsZero())

	summary := d.PaymentsSummary()
	require.Len(t, summary, 2)
	require.Equal(t, "CARD", summary[0].PayType)
	require.True(t, summary[0].Amount.IsZero())
	require.Equal(t, "CASH", summary[1].PayType)
	require.True(t, summary[1].Amount.Equal(dec("7.00")))

	require.NoError(t, svc.Close(ctx, line.TransID, 0))
}

func TestTransactionAge(t *testing.T) {
	now := time.Now()
	d := TransactionDetail{}
	require.Equal(t, 0, d.Age(now))

	d.Lines = []Transline{
		{Time: now.Add(-72 * time.Hour)},
		{Time: now.Add(-2 * time.Hour)},
	}
	require.Equal(t, 3, d.Age(now))
}
