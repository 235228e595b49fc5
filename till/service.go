package till

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Lambdah/quicktill/internal/shared"
	"github.com/Lambdah/quicktill/quantity"
	"github.com/Lambdah/quicktill/refdata"
)

// TxRepository exposes the transactional operations the service runs
// inside a single store transaction. GetTransactionForUpdate locks the
// transaction row so the closed flag cannot flip underneath an edit.
type TxRepository interface {
	CurrentSessionID(ctx context.Context) (*int64, error)
	InsertTransaction(ctx context.Context, sessionID *int64, notes string) (Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error)
	SetSession(ctx context.Context, id int64, sessionID *int64) error
	CloseBalanced(ctx context.Context, id int64) (bool, error)

	GetLine(ctx context.Context, id int64) (Transline, error)
	InsertLine(ctx context.Context, l Transline) (Transline, error)
	UpdateLine(ctx context.Context, id int64, items int, amount decimal.Decimal, text *string) error
	DeleteLine(ctx context.Context, id int64) error

	GetPayment(ctx context.Context, id int64) (Payment, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	UpdatePayment(ctx context.Context, id int64, amount decimal.Decimal, ref *string) error
	DeletePayment(ctx context.Context, id int64) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransaction(ctx context.Context, id int64) (TransactionDetail, error)
	ListDeferred(ctx context.Context) ([]Transaction, error)
}

// DeptPort resolves departments for the price guards and description
// fallbacks.
type DeptPort interface {
	GetDepartment(ctx context.Context, id int) (refdata.Department, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates transaction ledger operations.
type Service struct {
	repo        RepositoryPort
	depts       DeptPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, depts DeptPort, audit AuditPort, idem *shared.IdempotencyStore, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		depts:       depts,
		audit:       audit,
		idempotency: idem,
		validate:    validator.New(),
		logger:      logger,
	}
}

// AddLineInput adds a priced line. A zero TransID opens a new
// transaction, attached to the open session unless Deferred is set.
type AddLineInput struct {
	TransID   int64
	Deferred  bool
	Notes     string
	DeptID    int `validate:"required"`
	Items     int `validate:"min=1"`
	Amount    decimal.Decimal
	TransCode string `validate:"required"`
	Text      *string
	ActorID   int64
	Ref       string
}

// AddLine appends a line, implicitly opening the transaction when
// needed. The amount must pass the department's price guards.
func (s *Service) AddLine(ctx context.Context, input AddLineInput) (Transline, error) {
	if err := s.validate.Struct(input); err != nil {
		return Transline{}, err
	}
	if !quantity.ValidMoney(input.Amount) {
		return Transline{}, ErrInvalidAmount
	}
	dept, err := s.depts.GetDepartment(ctx, input.DeptID)
	if err != nil {
		return Transline{}, err
	}
	if !dept.PriceInRange(input.Amount) {
		return Transline{}, ErrPriceOutOfRange
	}

	key, err := s.claimKey(ctx, "line", input.Ref)
	if err != nil {
		return Transline{}, err
	}

	var line Transline
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transID := input.TransID
		if transID == 0 {
			var sessionID *int64
			if !input.Deferred {
				var err error
				sessionID, err = tx.CurrentSessionID(ctx)
				if err != nil {
					return err
				}
				if sessionID == nil {
					return ErrNoOpenSession
				}
			}
			t, err := tx.InsertTransaction(ctx, sessionID, input.Notes)
			if err != nil {
				return err
			}
			transID = t.ID
		} else {
			t, err := tx.GetTransactionForUpdate(ctx, transID)
			if err != nil {
				return err
			}
			if t.Closed {
				return ErrTransactionClosed
			}
		}
		var err error
		line, err = tx.InsertLine(ctx, Transline{
			TransID:   transID,
			Items:     input.Items,
			Amount:    input.Amount,
			DeptID:    input.DeptID,
			UserID:    actorRef(input.ActorID),
			TransCode: input.TransCode,
			Text:      input.Text,
		})
		return err
	})
	if err != nil {
		s.releaseKey(ctx, key)
		return Transline{}, err
	}

	s.record(ctx, input.ActorID, "till:add_line", "transline", fmt.Sprintf("%d", line.ID), map[string]any{
		"trans_id": line.TransID,
		"items":    input.Items,
		"amount":   input.Amount.String(),
	})
	return line, nil
}

// UpdateLineInput changes a line's count, amount or text.
type UpdateLineInput struct {
	LineID  int64 `validate:"required"`
	Items   int   `validate:"min=1"`
	Amount  decimal.Decimal
	Text    *string
	ActorID int64
}

// UpdateLine edits a line of a still-open transaction.
func (s *Service) UpdateLine(ctx context.Context, input UpdateLineInput) error {
	if err := s.validate.Struct(input); err != nil {
		return err
	}
	if !quantity.ValidMoney(input.Amount) {
		return ErrInvalidAmount
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.GetLine(ctx, input.LineID)
		if err != nil {
			return err
		}
		if err := s.guardOpen(ctx, tx, line.TransID); err != nil {
			return err
		}
		dept, err := s.depts.GetDepartment(ctx, line.DeptID)
		if err != nil {
			return err
		}
		if !dept.PriceInRange(input.Amount) {
			return ErrPriceOutOfRange
		}
		return tx.UpdateLine(ctx, line.ID, input.Items, input.Amount, input.Text)
	})
	if err != nil {
		return err
	}
	s.record(ctx, input.ActorID, "till:update_line", "transline", fmt.Sprintf("%d", input.LineID), nil)
	return nil
}

// DeleteLine removes a line from a still-open transaction. The stock
// movement the line caused, if any, goes with it.
func (s *Service) DeleteLine(ctx context.Context, lineID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.GetLine(ctx, lineID)
		if err != nil {
			return err
		}
		if err := s.guardOpen(ctx, tx, line.TransID); err != nil {
			return err
		}
		return tx.DeleteLine(ctx, line.ID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "till:delete_line", "transline", fmt.Sprintf("%d", lineID), nil)
	return nil
}

// AddPaymentInput applies an amount of one pay type. Negative amounts
// are change given back to the customer.
type AddPaymentInput struct {
	TransID int64  `validate:"required"`
	PayType string `validate:"required"`
	Amount  decimal.Decimal
	PayRef  *string
	ActorID int64
	Ref     string
}

// AddPayment records a payment against a still-open transaction.
func (s *Service) AddPayment(ctx context.Context, input AddPaymentInput) (Payment, error) {
	if err := s.validate.Struct(input); err != nil {
		return Payment{}, err
	}
	if !quantity.ValidMoney(input.Amount) {
		return Payment{}, ErrInvalidAmount
	}
	key, err := s.claimKey(ctx, "payment", input.Ref)
	if err != nil {
		return Payment{}, err
	}
	var payment Payment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.guardOpen(ctx, tx, input.TransID); err != nil {
			return err
		}
		var err error
		payment, err = tx.InsertPayment(ctx, Payment{
			TransID: input.TransID,
			Amount:  input.Amount,
			PayType: input.PayType,
			Ref:     input.PayRef,
			UserID:  actorRef(input.ActorID),
		})
		return err
	})
	if err != nil {
		s.releaseKey(ctx, key)
		return Payment{}, err
	}
	s.record(ctx, input.ActorID, "till:add_payment", "payment", fmt.Sprintf("%d", payment.ID), map[string]any{
		"trans_id": input.TransID,
		"paytype":  input.PayType,
		"amount":   input.Amount.String(),
	})
	return payment, nil
}

// UpdatePaymentInput changes a payment's amount or reference.
type UpdatePaymentInput struct {
	PaymentID int64 `validate:"required"`
	Amount    decimal.Decimal
	PayRef    *string
	ActorID   int64
}

// UpdatePayment edits a payment of a still-open transaction.
func (s *Service) UpdatePayment(ctx context.Context, input UpdatePaymentInput) error {
	if err := s.validate.Struct(input); err != nil {
		return err
	}
	if !quantity.ValidMoney(input.Amount) {
		return ErrInvalidAmount
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPayment(ctx, input.PaymentID)
		if err != nil {
			return err
		}
		if err := s.guardOpen(ctx, tx, p.TransID); err != nil {
			return err
		}
		return tx.UpdatePayment(ctx, p.ID, input.Amount, input.PayRef)
	})
	if err != nil {
		return err
	}
	s.record(ctx, input.ActorID, "till:update_payment", "payment", fmt.Sprintf("%d", input.PaymentID), nil)
	return nil
}

// DeletePayment removes a payment from a still-open transaction.
func (s *Service) DeletePayment(ctx context.Context, paymentID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if err := s.guardOpen(ctx, tx, p.TransID); err != nil {
			return err
		}
		return tx.DeletePayment(ctx, p.ID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "till:delete_payment", "payment", fmt.Sprintf("%d", paymentID), nil)
	return nil
}

// Close flips the transaction to closed. The balance check and the flip
// are one guarded statement, and the store's trigger re-verifies the
// balance at commit, so concurrent line or payment inserts cannot close
// an unbalanced transaction.
func (s *Service) Close(ctx context.Context, transID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.CloseBalanced(ctx, transID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t, err := tx.GetTransactionForUpdate(ctx, transID)
		if err != nil {
			return err
		}
		if t.Closed {
			return ErrTransactionClosed
		}
		return ErrUnbalanced
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "till:close", "transaction", fmt.Sprintf("%d", transID), nil)
	return nil
}

// Defer detaches an open transaction from its session so it survives
// session close; a later AddLine with its id picks it up again.
func (s *Service) Defer(ctx context.Context, transID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetTransactionForUpdate(ctx, transID)
		if err != nil {
			return err
		}
		if t.Closed {
			return ErrTransactionClosed
		}
		return tx.SetSession(ctx, t.ID, nil)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "till:defer", "transaction", fmt.Sprintf("%d", transID), nil)
	return nil
}

// Transaction loads a transaction with its lines and payments.
func (s *Service) Transaction(ctx context.Context, id int64) (TransactionDetail, error) {
	return s.repo.GetTransaction(ctx, id)
}

// Deferred lists the transactions waiting outside any session.
func (s *Service) Deferred(ctx context.Context) ([]Transaction, error) {
	return s.repo.ListDeferred(ctx)
}

// Description renders a line the way the register shows it, resolving
// the department fallback when the line has no text and no stock ref.
func (s *Service) Description(ctx context.Context, l Transline) (string, error) {
	if l.Text != nil || l.StockRef != nil {
		return Describe(l, ""), nil
	}
	dept, err := s.depts.GetDepartment(ctx, l.DeptID)
	if err != nil {
		return "", err
	}
	return Describe(l, dept.Description), nil
}

func (s *Service) guardOpen(ctx context.Context, tx TxRepository, transID int64) error {
	t, err := tx.GetTransactionForUpdate(ctx, transID)
	if err != nil {
		return err
	}
	if t.Closed {
		return ErrTransactionClosed
	}
	return nil
}

func actorRef(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func (s *Service) claimKey(ctx context.Context, op, ref string) (string, error) {
	if ref == "" || s.idempotency == nil {
		return "", nil
	}
	key := fmt.Sprintf("%s:%s", op, ref)
	if err := s.idempotency.CheckAndInsert(ctx, key, "till"); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key == "" || s.idempotency == nil {
		return
	}
	_ = s.idempotency.Delete(ctx, key)
}

func (s *Service) record(ctx context.Context, actor int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("till audit", slog.String("action", action), slog.Any("error", err))
	}
}
