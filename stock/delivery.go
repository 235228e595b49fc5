package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SupplierInput creates a supplier record.
type SupplierInput struct {
	Name    string `validate:"required,max=60"`
	Tel     string `validate:"max=20"`
	Email   string `validate:"omitempty,email,max=60"`
	Web     string
	ActorID int64
}

// CreateSupplier records a new supplier.
func (s *Service) CreateSupplier(ctx context.Context, input SupplierInput) (Supplier, error) {
	if err := s.validate.Struct(input); err != nil {
		return Supplier{}, err
	}
	var sup Supplier
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sup, err = tx.InsertSupplier(ctx, Supplier{
			Name:  input.Name,
			Tel:   input.Tel,
			Email: input.Email,
			Web:   input.Web,
		})
		return err
	})
	if err != nil {
		return Supplier{}, err
	}
	s.record(ctx, input.ActorID, "stock:supplier", "supplier", fmt.Sprintf("%d", sup.ID), map[string]any{
		"name": sup.Name,
	})
	return sup, nil
}

// DeliveryInput starts a new delivery from a supplier.
type DeliveryInput struct {
	SupplierID int64  `validate:"required"`
	DocNumber  string `validate:"max=40"`
	// Date is the delivery date; the zero value means today.
	Date    time.Time
	ActorID int64
}

// RecordDelivery opens a delivery so stock items can be keyed in against
// it. The delivery starts unchecked.
func (s *Service) RecordDelivery(ctx context.Context, input DeliveryInput) (Delivery, error) {
	if err := s.validate.Struct(input); err != nil {
		return Delivery{}, err
	}
	date := input.Date
	if date.IsZero() {
		date = time.Now()
	}
	var d Delivery
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		d, err = tx.InsertDelivery(ctx, Delivery{
			SupplierID: input.SupplierID,
			DocNumber:  input.DocNumber,
			Date:       date,
		})
		return err
	})
	if err != nil {
		return Delivery{}, err
	}
	s.record(ctx, input.ActorID, "stock:delivery", "delivery", fmt.Sprintf("%d", d.ID), map[string]any{
		"supplier_id": d.SupplierID,
		"doc_number":  d.DocNumber,
	})
	return d, nil
}

// ReceiveItemInput keys one physical item in against a delivery.
type ReceiveItemInput struct {
	DeliveryID  int64  `validate:"required"`
	StockTypeID int64  `validate:"required"`
	StockUnitID string `validate:"required"`
	CostPrice   *decimal.Decimal
	BestBefore  *time.Time
	ActorID     int64
}

// ReceiveItem adds a stock item to an unchecked delivery. Once the
// delivery has been checked in no more items can be added.
func (s *Service) ReceiveItem(ctx context.Context, input ReceiveItemInput) (StockItem, error) {
	if err := s.validate.Struct(input); err != nil {
		return StockItem{}, err
	}
	if input.CostPrice != nil && input.CostPrice.IsNegative() {
		return StockItem{}, ErrInvalidQuantity
	}
	var item StockItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		delivery, err := tx.GetDeliveryForUpdate(ctx, input.DeliveryID)
		if err != nil {
			return err
		}
		if delivery.Checked {
			return ErrDeliveryChecked
		}
		item, err = tx.InsertItem(ctx, StockItem{
			DeliveryID:  input.DeliveryID,
			StockType:   StockType{ID: input.StockTypeID},
			StockUnitID: input.StockUnitID,
			CostPrice:   input.CostPrice,
			BestBefore:  input.BestBefore,
		})
		return err
	})
	if err != nil {
		return StockItem{}, err
	}
	s.record(ctx, input.ActorID, "stock:receive", "stock", fmt.Sprintf("%d", item.ID), map[string]any{
		"delivery_id": input.DeliveryID,
	})
	return item, nil
}

// ConfirmInput marks a delivery checked against its paperwork.
type ConfirmInput struct {
	DeliveryID int64 `validate:"required"`
	ActorID    int64
}

// ConfirmDelivery checks a delivery in, releasing its items for sale.
func (s *Service) ConfirmDelivery(ctx context.Context, input ConfirmInput) error {
	if err := s.validate.Struct(input); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		delivery, err := tx.GetDeliveryForUpdate(ctx, input.DeliveryID)
		if err != nil {
			return err
		}
		if delivery.Checked {
			return ErrDeliveryChecked
		}
		return tx.SetDeliveryChecked(ctx, delivery.ID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, input.ActorID, "stock:confirm_delivery", "delivery", fmt.Sprintf("%d", input.DeliveryID), nil)
	return nil
}

// Delivery loads a delivery.
func (s *Service) Delivery(ctx context.Context, id int64) (Delivery, error) {
	return s.repo.GetDelivery(ctx, id)
}

// Sales returns the sold-through history of an item.
func (s *Service) Sales(ctx context.Context, itemID int64) (SaleSummary, error) {
	return s.repo.SaleSummary(ctx, itemID)
}
