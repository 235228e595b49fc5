package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Lambdah/quicktill/internal/shared"
	"github.com/Lambdah/quicktill/quantity"
)

// TxRepository exposes the transactional operations the service runs
// inside a single store transaction.
type TxRepository interface {
	Current(ctx context.Context) (*Session, error)
	Insert(ctx context.Context, date time.Time) (Session, error)
	GetForUpdate(ctx context.Context, id int64) (Session, error)
	SetEnd(ctx context.Context, id int64, at time.Time) error
	ReplaceTakings(ctx context.Context, id int64, totals []SessionTotal) error
}

// RepositoryPort abstracts repository usage for the service. The
// aggregate queries reflect the transactions whose session id matches at
// query time; deferred transactions are never counted.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Session, error)
	Current(ctx context.Context) (*Session, error)
	Total(ctx context.Context, id int64) (decimal.Decimal, error)
	ActualTotal(ctx context.Context, id int64) (decimal.Decimal, error)
	DeptTotals(ctx context.Context, id int64) ([]DeptTotal, error)
	UserTotals(ctx context.Context, id int64) ([]UserTotal, error)
	PaymentTotals(ctx context.Context, id int64) ([]PayTotal, error)
	VatBandTotals(ctx context.Context, id int64) ([]VatBandTotal, error)
	StockSold(ctx context.Context, id int64) ([]StockSoldTotal, error)
	Takings(ctx context.Context, id int64) ([]SessionTotal, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates session lifecycle and cash-up aggregation.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, cache *Cache, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger}
}

// Open starts a new session for the given accounting date. Fails while
// another session is still open; the store trigger re-checks at commit
// so two racing opens cannot both succeed.
func (s *Service) Open(ctx context.Context, date time.Time, actorID int64) (Session, error) {
	var sess Session
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.Current(ctx)
		if err != nil {
			return err
		}
		if current != nil {
			return ErrSessionAlreadyOpen
		}
		sess, err = tx.Insert(ctx, date)
		return err
	})
	if err != nil {
		return Session{}, err
	}
	s.record(ctx, actorID, "session:open", sess.ID, map[string]any{
		"date": sess.Date.Format("2006-01-02"),
	})
	return sess, nil
}

// Current returns the open session, or nil when none is open.
func (s *Service) Current(ctx context.Context) (*Session, error) {
	return s.repo.Current(ctx)
}

// Close stamps the session's end time. The session's aggregates stay
// available afterwards as read-only queries.
func (s *Service) Close(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !sess.Open() {
			return ErrSessionAlreadyClosed
		}
		return tx.SetEnd(ctx, id, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "session:close", id, nil)
	return nil
}

// RecordTakingsInput is the counted-up drawer contents after a session.
type RecordTakingsInput struct {
	SessionID int64
	Totals    []SessionTotal
	ActorID   int64
}

// RecordTakings stores the cash-up amounts, one per pay type, replacing
// any previous count for the session. Only ended sessions can be
// counted.
func (s *Service) RecordTakings(ctx context.Context, input RecordTakingsInput) error {
	seen := make(map[string]bool, len(input.Totals))
	for _, t := range input.Totals {
		if seen[t.PayType] {
			return ErrDuplicatePayType
		}
		seen[t.PayType] = true
		if !quantity.ValidMoney(t.Amount) {
			return fmt.Errorf("session: takings for %s: invalid amount %s", t.PayType, t.Amount)
		}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetForUpdate(ctx, input.SessionID)
		if err != nil {
			return err
		}
		if sess.Open() {
			return ErrSessionStillOpen
		}
		return tx.ReplaceTakings(ctx, input.SessionID, input.Totals)
	})
	if err != nil {
		return err
	}
	// Cached totals for this session are now stale.
	if err := s.cache.Bump(ctx); err != nil && s.logger != nil {
		s.logger.Warn("session cache bump", slog.Any("error", err))
	}
	s.record(ctx, input.ActorID, "session:takings", input.SessionID, map[string]any{
		"paytypes": len(input.Totals),
	})
	return nil
}

// Totals assembles the full cash-up view. Closed sessions are served
// read-through from the cache; an open session is always computed
// fresh.
func (s *Service) Totals(ctx context.Context, id int64) (Totals, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return Totals{}, err
	}
	if sess.Open() {
		return s.computeTotals(ctx, sess)
	}
	key, err := s.cache.TotalsKey(ctx, id)
	if err != nil {
		return Totals{}, err
	}
	return s.cache.FetchTotals(ctx, key, func(ctx context.Context) (Totals, error) {
		return s.computeTotals(ctx, sess)
	})
}

// WarmTotals recomputes and caches a closed session's totals, for use by
// background workers right after close.
func (s *Service) WarmTotals(ctx context.Context, id int64) error {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Open() {
		return ErrSessionStillOpen
	}
	_, err = s.Totals(ctx, id)
	return err
}

func (s *Service) computeTotals(ctx context.Context, sess Session) (Totals, error) {
	t := Totals{Session: sess}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		t.Total, err = s.repo.Total(ctx, sess.ID)
		return
	})
	g.Go(func() (err error) {
		t.ActualTotal, err = s.repo.ActualTotal(ctx, sess.ID)
		return
	})
	g.Go(func() (err error) {
		t.Depts, err = s.repo.DeptTotals(ctx, sess.ID)
		return
	})
	g.Go(func() (err error) {
		t.Users, err = s.repo.UserTotals(ctx, sess.ID)
		return
	})
	g.Go(func() (err error) {
		t.Payments, err = s.repo.PaymentTotals(ctx, sess.ID)
		return
	})
	g.Go(func() (err error) {
		t.VatBands, err = s.repo.VatBandTotals(ctx, sess.ID)
		return
	})
	g.Go(func() (err error) {
		t.StockSold, err = s.repo.StockSold(ctx, sess.ID)
		return
	})
	g.Go(func() (err error) {
		t.Takings, err = s.repo.Takings(ctx, sess.ID)
		return
	})
	if err := g.Wait(); err != nil {
		return Totals{}, err
	}
	t.Error = t.ActualTotal.Sub(t.Total)
	for i := range t.VatBands {
		vb := &t.VatBands[i]
		vb.ExVat = vb.Rate.IncToExc(vb.Total)
		vb.Vat = vb.Rate.IncToVat(vb.Total)
	}
	return t, nil
}

func (s *Service) record(ctx context.Context, actor int64, action string, sessionID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "session",
		EntityID: fmt.Sprintf("%d", sessionID),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("session audit", slog.String("action", action), slog.Any("error", err))
	}
}
