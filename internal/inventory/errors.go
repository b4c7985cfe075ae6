package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity         = errors.New("invalid quantity")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInsufficientReservation = errors.New("insufficient reservation")
	ErrProductNotFound         = errors.New("product not found")
	ErrProductInactive         = errors.New("product inactive")
)

// StockError reports a rejected ledger operation with the counters it saw.
type StockError struct {
	Op        MovementKind
	ProductID string
	Requested int
	Available int
	Reserved  int
	Err       error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s product %s: %v (requested=%d available=%d reserved=%d)",
		e.Op, e.ProductID, e.Err, e.Requested, e.Available, e.Reserved)
}

func (e *StockError) Unwrap() error { return e.Err }

func stockErr(op MovementKind, p Product, qty int, err error) error {
	return &StockError{
		Op:        op,
		ProductID: p.ID,
		Requested: qty,
		Available: p.Available,
		Reserved:  p.Reserved,
		Err:       err,
	}
}
