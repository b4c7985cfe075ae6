package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reserve moves qty from available to reserved. Inactive products take no
// new reservations.
func Reserve(p Product, qty int) (Product, Movement, error) {
	if qty <= 0 {
		return p, Movement{}, stockErr(KindReserve, p, qty, ErrInvalidQuantity)
	}
	if !p.Active {
		return p, Movement{}, stockErr(KindReserve, p, qty, ErrProductInactive)
	}
	if qty > p.Available {
		return p, Movement{}, stockErr(KindReserve, p, qty, ErrInsufficientStock)
	}
	p.Available -= qty
	p.Reserved += qty
	return p, Movement{ProductID: p.ID, Kind: KindReserve, Qty: -qty}, nil
}

// Release returns qty from reserved to available.
func Release(p Product, qty int) (Product, Movement, error) {
	if qty <= 0 {
		return p, Movement{}, stockErr(KindUnreserve, p, qty, ErrInvalidQuantity)
	}
	if qty > p.Reserved {
		return p, Movement{}, stockErr(KindUnreserve, p, qty, ErrInsufficientReservation)
	}
	p.Reserved -= qty
	p.Available += qty
	return p, Movement{ProductID: p.ID, Kind: KindUnreserve, Qty: qty}, nil
}

// Commit consumes qty of reserved stock. Available is untouched: it was
// already taken off sale when the reservation was made.
func Commit(p Product, qty int) (Product, Movement, error) {
	if qty <= 0 {
		return p, Movement{}, stockErr(KindCommit, p, qty, ErrInvalidQuantity)
	}
	if qty > p.Reserved {
		return p, Movement{}, stockErr(KindCommit, p, qty, ErrInsufficientReservation)
	}
	p.Reserved -= qty
	return p, Movement{ProductID: p.ID, Kind: KindCommit, Qty: 0}, nil
}

// Adjust applies a manual restock (delta > 0) or write-off (delta < 0) to available.
func Adjust(p Product, delta int) (Product, Movement, error) {
	if delta == 0 {
		return p, Movement{}, stockErr(KindAdjust, p, delta, ErrInvalidQuantity)
	}
	if p.Available+delta < 0 {
		return p, Movement{}, stockErr(KindAdjust, p, -delta, ErrInsufficientStock)
	}
	p.Available += delta
	return p, Movement{ProductID: p.ID, Kind: KindAdjust, Qty: delta}, nil
}

// Tx is the slice of a unit of work the ledger needs. ProductForUpdate must
// lock the product row until the surrounding transaction ends.
type Tx interface {
	ProductForUpdate(ctx context.Context, id string) (Product, error)
	SaveStock(ctx context.Context, p Product) error
	InsertMovement(ctx context.Context, m Movement) error
}

// Ledger persists the pure operations above inside a caller-owned transaction.
type Ledger struct {
	Now func() time.Time
}

func (l Ledger) Reserve(ctx context.Context, tx Tx, productID string, qty int, note string) (Product, error) {
	return l.apply(ctx, tx, productID, note, func(p Product) (Product, Movement, error) { return Reserve(p, qty) })
}

func (l Ledger) Release(ctx context.Context, tx Tx, productID string, qty int, note string) (Product, error) {
	return l.apply(ctx, tx, productID, note, func(p Product) (Product, Movement, error) { return Release(p, qty) })
}

func (l Ledger) Commit(ctx context.Context, tx Tx, productID string, qty int, note string) (Product, error) {
	return l.apply(ctx, tx, productID, note, func(p Product) (Product, Movement, error) { return Commit(p, qty) })
}

func (l Ledger) Adjust(ctx context.Context, tx Tx, productID string, delta int, note string) (Product, error) {
	return l.apply(ctx, tx, productID, note, func(p Product) (Product, Movement, error) { return Adjust(p, delta) })
}

func (l Ledger) apply(ctx context.Context, tx Tx, productID, note string, op func(Product) (Product, Movement, error)) (Product, error) {
	p, err := tx.ProductForUpdate(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	next, mv, err := op(p)
	if err != nil {
		return p, err
	}
	now := l.now()
	next.UpdatedAt = now
	if err := tx.SaveStock(ctx, next); err != nil {
		return p, err
	}
	mv.ID = uuid.NewString()
	mv.Note = note
	mv.CreatedAt = now
	if err := tx.InsertMovement(ctx, mv); err != nil {
		return p, err
	}
	return next, nil
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}
