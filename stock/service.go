package stock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Lambdah/quicktill/internal/shared"
	"github.com/Lambdah/quicktill/quantity"
)

// TxRepository exposes transactional operations used by the service. Every
// method runs against the same store transaction, so item reads lock the
// rows they return.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, id int64) (StockItem, error)
	GetLine(ctx context.Context, id int64) (StockLine, error)
	CountOnSale(ctx context.Context, lineID int64) (int, error)
	ListOnSale(ctx context.Context, lineID int64) ([]StockItem, error)
	InsertStockOut(ctx context.Context, out StockOut) (StockOut, error)
	AttachItem(ctx context.Context, itemID, lineID int64, onsale time.Time) error
	SetDisplayQty(ctx context.Context, itemID int64, qty int) error
	FinishItem(ctx context.Context, itemID int64, code string, at time.Time) error
	InsertAnnotation(ctx context.Context, a Annotation) (Annotation, error)
	InsertSupplier(ctx context.Context, s Supplier) (Supplier, error)
	InsertDelivery(ctx context.Context, d Delivery) (Delivery, error)
	GetDeliveryForUpdate(ctx context.Context, id int64) (Delivery, error)
	SetDeliveryChecked(ctx context.Context, id int64) error
	InsertItem(ctx context.Context, item StockItem) (StockItem, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (StockItem, error)
	GetLine(ctx context.Context, id int64) (StockLine, error)
	ListOnSale(ctx context.Context, lineID int64) ([]StockItem, error)
	RemovedBreakdown(ctx context.Context, itemID int64) ([]RemovedQty, error)
	GetDelivery(ctx context.Context, id int64) (Delivery, error)
	SaleSummary(ctx context.Context, itemID int64) (SaleSummary, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		validate:    validator.New(),
		logger:      logger,
	}
}

// MovementInput describes a quantity leaving a stock item.
type MovementInput struct {
	StockID     int64  `validate:"required"`
	Qty         decimal.Decimal
	RemoveCode  string `validate:"required"`
	TranslineID *int64
	ActorID     int64
	// Ref, when set, makes the movement idempotent across terminal retries.
	Ref string
}

// RecordMovement appends an immutable movement record against a stock item.
// The quantity must be positive, representable at one decimal place, and no
// more than the item's remaining quantity.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (StockOut, error) {
	if err := s.validate.Struct(input); err != nil {
		return StockOut{}, err
	}
	if !input.Qty.IsPositive() || !quantity.ValidQty(input.Qty) {
		return StockOut{}, ErrInvalidQuantity
	}

	key, err := s.claimKey(ctx, "movement", input.Ref)
	if err != nil {
		return StockOut{}, err
	}

	var out StockOut
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, input.StockID)
		if err != nil {
			return err
		}
		if input.Qty.GreaterThan(item.Remaining()) {
			return ErrInsufficientStock
		}
		out, err = tx.InsertStockOut(ctx, StockOut{
			StockID:     input.StockID,
			Qty:         input.Qty,
			RemoveCode:  input.RemoveCode,
			TranslineID: input.TranslineID,
		})
		return err
	})
	if err != nil {
		s.releaseKey(ctx, key)
		return StockOut{}, err
	}

	s.record(ctx, input.ActorID, "stock:movement", "stockout", fmt.Sprintf("%d", out.ID), map[string]any{
		"stock_id":    input.StockID,
		"qty":         input.Qty.String(),
		"remove_code": input.RemoveCode,
	})
	return out, nil
}

// AttachInput puts a stock item on sale on a line.
type AttachInput struct {
	StockID int64 `validate:"required"`
	LineID  int64 `validate:"required"`
	ActorID int64
}

// AttachToLine links an item to a stock line. Regular lines hold at most
// one unfinished item; the item's department must match the line's.
func (s *Service) AttachToLine(ctx context.Context, input AttachInput) error {
	if err := s.validate.Struct(input); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, input.StockID)
		if err != nil {
			return err
		}
		if item.Finished != nil {
			return ErrAlreadyFinished
		}
		delivery, err := tx.GetDeliveryForUpdate(ctx, item.DeliveryID)
		if err != nil {
			return err
		}
		if !delivery.Checked {
			return ErrDeliveryUnchecked
		}
		line, err := tx.GetLine(ctx, input.LineID)
		if err != nil {
			return err
		}
		if item.StockType.DeptID != line.DeptID {
			return ErrWrongDepartment
		}
		if _, ok := line.Presentation.(Regular); ok {
			n, err := tx.CountOnSale(ctx, line.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrLineOccupied
			}
		}
		return tx.AttachItem(ctx, item.ID, line.ID, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	s.record(ctx, input.ActorID, "stock:attach", "stock", fmt.Sprintf("%d", input.StockID), map[string]any{
		"line_id": input.LineID,
	})
	return nil
}

// SetDisplayInput adjusts the display quantity of an item on a display
// line.
type SetDisplayInput struct {
	StockID int64 `validate:"required"`
	Qty     int
	ActorID int64
}

// SetDisplayQuantity sets how much of the item counts as on display. The
// new quantity cannot be below what has already been used nor above the
// stock unit size.
func (s *Service) SetDisplayQuantity(ctx context.Context, input SetDisplayInput) error {
	if err := s.validate.Struct(input); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, input.StockID)
		if err != nil {
			return err
		}
		if item.StockLineID == nil {
			return ErrNotDisplayLine
		}
		line, err := tx.GetLine(ctx, *item.StockLineID)
		if err != nil {
			return err
		}
		if _, ok := line.Presentation.(Display); !ok {
			return ErrNotDisplayLine
		}
		return s.setDisplayQty(ctx, tx, item, input.Qty)
	})
}

func (s *Service) setDisplayQty(ctx context.Context, tx TxRepository, item StockItem, qty int) error {
	if qty < 0 {
		return ErrInvalidQuantity
	}
	// Cannot show less than has already been used, or more than exists.
	if decimal.NewFromInt(int64(qty)).LessThan(item.Used) {
		return ErrInvalidQuantity
	}
	if int64(qty) > item.Size.IntPart() {
		return ErrInvalidQuantity
	}
	return tx.SetDisplayQty(ctx, item.ID, qty)
}

// CalculateRestock plans the display-quantity changes that bring the
// line's on-display total to target (the line's capacity when target is
// nil). It does not write anything.
func (s *Service) CalculateRestock(ctx context.Context, lineID int64, target *int) ([]RestockMove, error) {
	line, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	d, ok := line.Presentation.(Display)
	if !ok {
		return nil, ErrNotDisplayLine
	}
	t := d.Capacity
	if target != nil {
		t = *target
	}
	if t < 0 {
		return nil, ErrInvalidQuantity
	}
	items, err := s.repo.ListOnSale(ctx, lineID)
	if err != nil {
		return nil, err
	}
	return PlanRestock(items, t), nil
}

// ApplyRestockInput applies a previously calculated plan.
type ApplyRestockInput struct {
	LineID  int64 `validate:"required"`
	Moves   []RestockMove `validate:"min=1"`
	ActorID int64
	Ref     string
}

// ApplyRestock applies every move of a restock plan in one store
// transaction; a partial restock is never left behind. Each item's bounds
// are re-validated against its current state inside the transaction.
func (s *Service) ApplyRestock(ctx context.Context, input ApplyRestockInput) error {
	if err := s.validate.Struct(input); err != nil {
		return err
	}
	key, err := s.claimKey(ctx, "restock", input.Ref)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.GetLine(ctx, input.LineID)
		if err != nil {
			return err
		}
		if _, ok := line.Presentation.(Display); !ok {
			return ErrNotDisplayLine
		}
		for _, move := range input.Moves {
			item, err := tx.GetItemForUpdate(ctx, move.ItemID)
			if err != nil {
				return err
			}
			if item.StockLineID == nil || *item.StockLineID != line.ID {
				return fmt.Errorf("stock: item %d is not on line %d: %w", move.ItemID, line.ID, shared.ErrNotFound)
			}
			if err := s.setDisplayQty(ctx, tx, item, move.NewDisplayQty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.releaseKey(ctx, key)
		return err
	}
	s.record(ctx, input.ActorID, "stock:restock", "stockline", fmt.Sprintf("%d", input.LineID), map[string]any{
		"moves": len(input.Moves),
	})
	return nil
}

// FinishInput takes an item out of use.
type FinishInput struct {
	StockID    int64  `validate:"required"`
	FinishCode string `validate:"required"`
	ActorID    int64
}

// FinishItem marks an item finished, detaching it from its line. An item
// with units still on display must be pulled back first.
func (s *Service) FinishItem(ctx context.Context, input FinishInput) error {
	if err := s.validate.Struct(input); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, input.StockID)
		if err != nil {
			return err
		}
		if item.Finished != nil {
			return ErrAlreadyFinished
		}
		if item.StockLineID != nil {
			line, err := tx.GetLine(ctx, *item.StockLineID)
			if err != nil {
				return err
			}
			if _, ok := line.Presentation.(Display); ok && item.OnDisplay() > 0 {
				return ErrStillOnDisplay
			}
		}
		return tx.FinishItem(ctx, item.ID, input.FinishCode, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	s.record(ctx, input.ActorID, "stock:finish", "stock", fmt.Sprintf("%d", input.StockID), map[string]any{
		"finish_code": input.FinishCode,
	})
	return nil
}

// PullthruInput records a regular line's first-use-of-day wastage.
type PullthruInput struct {
	LineID  int64 `validate:"required"`
	ActorID int64
	Ref     string
}

// RecordPullthru disposes of the line's configured pullthru amount from
// the item currently on sale.
func (s *Service) RecordPullthru(ctx context.Context, input PullthruInput) (StockOut, error) {
	if err := s.validate.Struct(input); err != nil {
		return StockOut{}, err
	}
	key, err := s.claimKey(ctx, "pullthru", input.Ref)
	if err != nil {
		return StockOut{}, err
	}
	var out StockOut
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.GetLine(ctx, input.LineID)
		if err != nil {
			return err
		}
		if _, ok := line.Presentation.(Regular); !ok {
			return ErrNotRegularLine
		}
		qty := line.PullthruAmount()
		if !qty.IsPositive() {
			return ErrInvalidQuantity
		}
		items, err := tx.ListOnSale(ctx, line.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("stock: no stock on sale on line %d: %w", line.ID, shared.ErrNotFound)
		}
		item, err := tx.GetItemForUpdate(ctx, items[0].ID)
		if err != nil {
			return err
		}
		if qty.GreaterThan(item.Remaining()) {
			return ErrInsufficientStock
		}
		out, err = tx.InsertStockOut(ctx, StockOut{
			StockID:    item.ID,
			Qty:        qty,
			RemoveCode: RemoveCodePullthru,
		})
		return err
	})
	if err != nil {
		s.releaseKey(ctx, key)
		return StockOut{}, err
	}
	s.record(ctx, input.ActorID, "stock:pullthru", "stockline", fmt.Sprintf("%d", input.LineID), map[string]any{
		"qty": out.Qty.String(),
	})
	return out, nil
}

// AnnotateInput attaches a note to a stock item.
type AnnotateInput struct {
	StockID int64  `validate:"required"`
	Type    string `validate:"required"`
	Text    string `validate:"required"`
	ActorID int64
}

// Annotate records a free-text annotation against an item.
func (s *Service) Annotate(ctx context.Context, input AnnotateInput) (Annotation, error) {
	if err := s.validate.Struct(input); err != nil {
		return Annotation{}, err
	}
	var ann Annotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		actor := input.ActorID
		a := Annotation{StockID: input.StockID, Type: input.Type, Text: input.Text}
		if actor != 0 {
			a.UserID = &actor
		}
		ann, err = tx.InsertAnnotation(ctx, a)
		return err
	})
	return ann, err
}

// Item loads a stock item with its derived quantities.
func (s *Service) Item(ctx context.Context, id int64) (StockItem, error) {
	return s.repo.GetItem(ctx, id)
}

// Line loads a stock line.
func (s *Service) Line(ctx context.Context, id int64) (StockLine, error) {
	return s.repo.GetLine(ctx, id)
}

// OnSale lists the unfinished items attached to a line in on-sale order.
func (s *Service) OnSale(ctx context.Context, lineID int64) ([]StockItem, error) {
	return s.repo.ListOnSale(ctx, lineID)
}

// Removed returns the per-reason breakdown of quantity taken out of an
// item.
func (s *Service) Removed(ctx context.Context, itemID int64) ([]RemovedQty, error) {
	return s.repo.RemovedBreakdown(ctx, itemID)
}

// LineOnDisplay sums the on-display and in-stock unit counts across a
// display line's items.
func (s *Service) LineOnDisplay(ctx context.Context, lineID int64) (ondisplay, instock int, err error) {
	line, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return 0, 0, err
	}
	if _, ok := line.Presentation.(Display); !ok {
		return 0, 0, ErrNotDisplayLine
	}
	items, err := s.repo.ListOnSale(ctx, lineID)
	if err != nil {
		return 0, 0, err
	}
	for _, it := range items {
		ondisplay += it.OnDisplay()
		instock += it.InStock()
	}
	return ondisplay, instock, nil
}

func (s *Service) claimKey(ctx context.Context, op, ref string) (string, error) {
	if ref == "" || s.idempotency == nil {
		return "", nil
	}
	key := fmt.Sprintf("%s:%s", op, ref)
	if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
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
		s.logger.Warn("stock audit", slog.String("action", action), slog.Any("error", err))
	}
}
