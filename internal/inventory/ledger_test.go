package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProduct(available, reserved int) Product {
	return Product{
		ID:        "p-1",
		Name:      "Camiseta",
		SKU:       "CAMI-001",
		Variant:   "M",
		Price:     decimal.RequireFromString("45000"),
		Available: available,
		Reserved:  reserved,
		Active:    true,
	}
}

func TestReserve(t *testing.T) {
	p, mv, err := Reserve(newProduct(10, 0), 3)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Available)
	assert.Equal(t, 3, p.Reserved)
	assert.Equal(t, KindReserve, mv.Kind)
	assert.Equal(t, -3, mv.Qty)
	assert.Equal(t, "p-1", mv.ProductID)
}

func TestReserve_Rejects(t *testing.T) {
	tests := []struct {
		name string
		qty  int
		want error
	}{
		{"zero", 0, ErrInvalidQuantity},
		{"negative", -2, ErrInvalidQuantity},
		{"more than available", 11, ErrInsufficientStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := newProduct(10, 0)
			p, _, err := Reserve(orig, tt.qty)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, orig, p)
		})
	}
}

func TestReserve_ErrorCarriesCounters(t *testing.T) {
	_, _, err := Reserve(newProduct(2, 5), 4)

	var se *StockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, KindReserve, se.Op)
	assert.Equal(t, "p-1", se.ProductID)
	assert.Equal(t, 4, se.Requested)
	assert.Equal(t, 2, se.Available)
	assert.Equal(t, 5, se.Reserved)
}

func TestRelease(t *testing.T) {
	p, mv, err := Release(newProduct(7, 3), 3)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Available)
	assert.Equal(t, 0, p.Reserved)
	assert.Equal(t, KindUnreserve, mv.Kind)
	assert.Equal(t, 3, mv.Qty)

	_, _, err = Release(newProduct(7, 3), 4)
	assert.ErrorIs(t, err, ErrInsufficientReservation)
	_, _, err = Release(newProduct(7, 3), 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCommit(t *testing.T) {
	p, mv, err := Commit(newProduct(7, 3), 3)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Available)
	assert.Equal(t, 0, p.Reserved)
	assert.Equal(t, KindCommit, mv.Kind)
	assert.Equal(t, 0, mv.Qty)

	_, _, err = Commit(newProduct(7, 3), 5)
	assert.ErrorIs(t, err, ErrInsufficientReservation)
	_, _, err = Commit(newProduct(7, 3), -1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAdjust(t *testing.T) {
	p, mv, err := Adjust(newProduct(2, 1), 5)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Available)
	assert.Equal(t, 1, p.Reserved)
	assert.Equal(t, KindAdjust, mv.Kind)
	assert.Equal(t, 5, mv.Qty)

	p, _, err = Adjust(newProduct(2, 1), -2)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Available)

	_, _, err = Adjust(newProduct(2, 1), -3)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	_, _, err = Adjust(newProduct(2, 1), 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestRoundTrips(t *testing.T) {
	for _, qty := range []int{1, 4, 10} {
		start := newProduct(10, 2)

		reserved, _, err := Reserve(start, qty)
		require.NoError(t, err)
		released, _, err := Release(reserved, qty)
		require.NoError(t, err)
		assert.Equal(t, start.Available, released.Available, "qty=%d", qty)
		assert.Equal(t, start.Reserved, released.Reserved, "qty=%d", qty)

		committed, _, err := Commit(reserved, qty)
		require.NoError(t, err)
		assert.Equal(t, reserved.Available, committed.Available, "qty=%d", qty)
		assert.Equal(t, reserved.Reserved-qty, committed.Reserved, "qty=%d", qty)
	}
}

func TestCountersNeverNegative(t *testing.T) {
	p := newProduct(5, 0)
	ops := []struct {
		fn  func(Product, int) (Product, Movement, error)
		qty int
	}{
		{Reserve, 3}, {Reserve, 3}, {Commit, 4}, {Release, 2}, {Release, 2},
		{Commit, 1}, {Reserve, 6}, {Reserve, 2}, {Commit, 2}, {Release, 1},
	}
	for _, op := range ops {
		next, _, err := op.fn(p, op.qty)
		if err == nil {
			p = next
		}
		require.GreaterOrEqual(t, p.Available, 0)
		require.GreaterOrEqual(t, p.Reserved, 0)
	}
}

type fakeTx struct {
	products  map[string]Product
	movements []Movement
	saveErr   error
}

func (f *fakeTx) ProductForUpdate(_ context.Context, id string) (Product, error) {
	p, ok := f.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (f *fakeTx) SaveStock(_ context.Context, p Product) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.products[p.ID] = p
	return nil
}

func (f *fakeTx) InsertMovement(_ context.Context, m Movement) error {
	f.movements = append(f.movements, m)
	return nil
}

func TestLedger_PersistsCountersAndMovement(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tx := &fakeTx{products: map[string]Product{"p-1": newProduct(10, 0)}}
	l := Ledger{Now: func() time.Time { return now }}

	p, err := l.Reserve(context.Background(), tx, "p-1", 4, "reserve for order o-1")
	require.NoError(t, err)
	assert.Equal(t, 6, p.Available)
	assert.Equal(t, 6, tx.products["p-1"].Available)
	assert.Equal(t, 4, tx.products["p-1"].Reserved)
	assert.Equal(t, now, tx.products["p-1"].UpdatedAt)

	require.Len(t, tx.movements, 1)
	mv := tx.movements[0]
	assert.NotEmpty(t, mv.ID)
	assert.Equal(t, KindReserve, mv.Kind)
	assert.Equal(t, -4, mv.Qty)
	assert.Equal(t, "reserve for order o-1", mv.Note)
	assert.Equal(t, now, mv.CreatedAt)
}

func TestLedger_RejectedOpWritesNothing(t *testing.T) {
	tx := &fakeTx{products: map[string]Product{"p-1": newProduct(1, 0)}}

	_, err := Ledger{}.Reserve(context.Background(), tx, "p-1", 2, "")
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 1, tx.products["p-1"].Available)
	assert.Empty(t, tx.movements)

	_, err = Ledger{}.Commit(context.Background(), tx, "missing", 1, "")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestReserve_RefusesInactiveProduct(t *testing.T) {
	p := newProduct(5, 0)
	p.Active = false
	_, _, err := Reserve(p, 1)
	assert.ErrorIs(t, err, ErrProductInactive)

	// stock already held can still be settled
	p.Reserved = 2
	_, _, err = Release(p, 2)
	assert.NoError(t, err)
	_, _, err = Commit(p, 1)
	assert.NoError(t, err)
}

func TestLedger_SaveFailureSkipsMovement(t *testing.T) {
	boom := errors.New("connection reset")
	tx := &fakeTx{products: map[string]Product{"p-1": newProduct(3, 0)}, saveErr: boom}

	_, err := Ledger{}.Adjust(context.Background(), tx, "p-1", 2, "restock")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, tx.movements)
}
