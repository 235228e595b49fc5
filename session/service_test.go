package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Lambdah/quicktill/internal/shared"
	"github.com/Lambdah/quicktill/quantity"
)

type memoryRepo struct {
	sessions map[int64]*Session
	takings  map[int64][]SessionTotal
	next     int64

	total       decimal.Decimal
	vatBands    []VatBandTotal
	aggregCalls atomic.Int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sessions: make(map[int64]*Session),
		takings:  make(map[int64][]SessionTotal),
		total:    decimal.RequireFromString("0.00"),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, shared.ErrNotFound
	}
	return *s, nil
}

func (r *memoryRepo) Current(ctx context.Context) (*Session, error) {
	for _, s := range r.sessions {
		if s.Open() {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) Total(ctx context.Context, id int64) (decimal.Decimal, error) {
	r.aggregCalls.Add(1)
	return r.total, nil
}

func (r *memoryRepo) ActualTotal(ctx context.Context, id int64) (decimal.Decimal, error) {
	total := decimal.RequireFromString("0.00")
	for _, t := range r.takings[id] {
		total = total.Add(t.Amount)
	}
	return total, nil
}

func (r *memoryRepo) DeptTotals(ctx context.Context, id int64) ([]DeptTotal, error) {
	return nil, nil
}

func (r *memoryRepo) UserTotals(ctx context.Context, id int64) ([]UserTotal, error) {
	return nil, nil
}

func (r *memoryRepo) PaymentTotals(ctx context.Context, id int64) ([]PayTotal, error) {
	return nil, nil
}

func (r *memoryRepo) VatBandTotals(ctx context.Context, id int64) ([]VatBandTotal, error) {
	out := make([]VatBandTotal, len(r.vatBands))
	copy(out, r.vatBands)
	return out, nil
}

func (r *memoryRepo) StockSold(ctx context.Context, id int64) ([]StockSoldTotal, error) {
	return nil, nil
}

func (r *memoryRepo) Takings(ctx context.Context, id int64) ([]SessionTotal, error) {
	return r.takings[id], nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Current(ctx context.Context) (*Session, error) {
	return t.repo.Current(ctx)
}

func (t *memoryTx) Insert(ctx context.Context, date time.Time) (Session, error) {
	t.repo.next++
	s := Session{ID: t.repo.next, StartTime: time.Now(), Date: date}
	t.repo.sessions[s.ID] = &s
	return s, nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (Session, error) {
	return t.repo.Get(ctx, id)
}

func (t *memoryTx) SetEnd(ctx context.Context, id int64, at time.Time) error {
	t.repo.sessions[id].EndTime = &at
	return nil
}

func (t *memoryTx) ReplaceTakings(ctx context.Context, id int64, totals []SessionTotal) error {
	t.repo.takings[id] = totals
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func testCache(t *testing.T) *Cache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client, time.Hour)
}

func TestOpenEnforcesSingleSession(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	first, err := svc.Open(ctx, date("2026-08-28"), 0)
	require.NoError(t, err)

	_, err = svc.Open(ctx, date("2026-08-29"), 0)
	require.ErrorIs(t, err, ErrSessionAlreadyOpen)

	current, err := svc.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	require.Equal(t, first.ID, current.ID)

	// Closing frees the slot for the next session.
	require.NoError(t, svc.Close(ctx, first.ID, 0))
	_, err = svc.Open(ctx, date("2026-08-29"), 0)
	require.NoError(t, err)
}

func TestCloseAlreadyClosed(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	s, err := svc.Open(ctx, date("2026-08-28"), 0)
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, s.ID, 0))
	require.ErrorIs(t, svc.Close(ctx, s.ID, 0), ErrSessionAlreadyClosed)
}

func TestRecordTakings(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	s, err := svc.Open(ctx, date("2026-08-28"), 0)
	require.NoError(t, err)

	err = svc.RecordTakings(ctx, RecordTakingsInput{
		SessionID: s.ID,
		Totals:    []SessionTotal{{PayType: "CASH", Amount: dec("100.00")}},
	})
	require.ErrorIs(t, err, ErrSessionStillOpen)

	require.NoError(t, svc.Close(ctx, s.ID, 0))

	err = svc.RecordTakings(ctx, RecordTakingsInput{
		SessionID: s.ID,
		Totals: []SessionTotal{
			{PayType: "CASH", Amount: dec("100.00")},
			{PayType: "CASH", Amount: dec("5.00")},
		},
	})
	require.ErrorIs(t, err, ErrDuplicatePayType)

	require.NoError(t, svc.RecordTakings(ctx, RecordTakingsInput{
		SessionID: s.ID,
		Totals: []SessionTotal{
			{PayType: "CASH", Amount: dec("100.00")},
			{PayType: "CARD", Amount: dec("20.50")},
		},
	}))

	totals, err := svc.Totals(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, totals.ActualTotal.Equal(dec("120.50")))
	require.Len(t, totals.Takings, 2)
}

func TestTotalsErrorAndVatSplit(t *testing.T) {
	repo := newMemoryRepo()
	repo.total = dec("120.00")
	repo.vatBands = []VatBandTotal{
		{Band: "A", Rate: quantity.NewRate(dec("20")), Total: dec("120.00")},
	}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	s, err := svc.Open(ctx, date("2026-08-28"), 0)
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, s.ID, 0))
	require.NoError(t, svc.RecordTakings(ctx, RecordTakingsInput{
		SessionID: s.ID,
		Totals:    []SessionTotal{{PayType: "CASH", Amount: dec("119.80")}},
	}))

	totals, err := svc.Totals(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, totals.Total.Equal(dec("120.00")))
	require.True(t, totals.ActualTotal.Equal(dec("119.80")))
	require.True(t, totals.Error.Equal(dec("-0.20")), "drawer short by 20p")

	require.Len(t, totals.VatBands, 1)
	vb := totals.VatBands[0]
	require.True(t, vb.ExVat.Equal(dec("100.00")))
	require.True(t, vb.Vat.Equal(dec("20.00")))
	require.True(t, vb.ExVat.Add(vb.Vat).Equal(vb.Total))
}

func TestTotalsCachedOnceClosed(t *testing.T) {
	repo := newMemoryRepo()
	repo.total = dec("50.00")
	svc := NewService(repo, testCache(t), nil, nil)
	ctx := context.Background()

	s, err := svc.Open(ctx, date("2026-08-28"), 0)
	require.NoError(t, err)

	// Open sessions always compute fresh.
	_, err = svc.Totals(ctx, s.ID)
	require.NoError(t, err)
	_, err = svc.Totals(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), repo.aggregCalls.Load())

	require.NoError(t, svc.Close(ctx, s.ID, 0))

	// First read after close populates the cache; the second is served
	// from it.
	totals, err := svc.Totals(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, totals.Total.Equal(dec("50.00")))
	require.Equal(t, int64(3), repo.aggregCalls.Load())

	again, err := svc.Totals(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, again.Total.Equal(dec("50.00")))
	require.Equal(t, int64(3), repo.aggregCalls.Load())
}

func TestRecordTakingsInvalidatesCache(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testCache(t), nil, nil)
	ctx := context.Background()

	s, err := svc.Open(ctx, date("2026-08-28"), 0)
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, s.ID, 0))

	totals, err := svc.Totals(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, totals.ActualTotal.IsZero())

	require.NoError(t, svc.RecordTakings(ctx, RecordTakingsInput{
		SessionID: s.ID,
		Totals:    []SessionTotal{{PayType: "CASH", Amount: dec("42.00")}},
	}))

	// The bump orphaned the cached entry, so the new takings show up.
	totals, err = svc.Totals(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, totals.ActualTotal.Equal(dec("42.00")))
}

func TestWarmTotals(t *testing.T) {
	repo := newMemoryRepo()
	repo.total = dec("10.00")
	svc := NewService(repo, testCache(t), nil, nil)
	ctx := context.Background()

	s, err := svc.Open(ctx, date("2026-08-28"), 0)
	require.NoError(t, err)
	require.ErrorIs(t, svc.WarmTotals(ctx, s.ID), ErrSessionStillOpen)

	require.NoError(t, svc.Close(ctx, s.ID, 0))
	require.NoError(t, svc.WarmTotals(ctx, s.ID))
	require.Equal(t, int64(1), repo.aggregCalls.Load())

	// The warmed entry serves subsequent reads.
	_, err = svc.Totals(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), repo.aggregCalls.Load())
}
