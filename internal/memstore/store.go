// Package memstore is an in-process orders.Store. Rows are locked one by one
// like SELECT ... FOR UPDATE and writes become visible only on commit, so the
// service behaves the same as on Postgres. Used by tests and STORE_DRIVER=memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type Store struct {
	mu        sync.RWMutex
	products  map[string]inventory.Product
	orders    map[string]orders.Order
	external  map[string]string // external id -> order id
	movements []inventory.Movement

	lmu   sync.Mutex
	locks map[string]*rowLock
}

// rowLock is dropped from Store.locks once nobody holds or waits for it.
type rowLock struct {
	ch   chan struct{}
	refs int
}

func New() *Store {
	return &Store{
		products: map[string]inventory.Product{},
		orders:   map[string]orders.Order{},
		external: map[string]string{},
		locks:    map[string]*rowLock{},
	}
}

// PutProduct inserts or replaces a catalog row outside any transaction.
func (s *Store) PutProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) acquire(key string) *rowLock {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	return l
}

func (s *Store) drop(key string, l *rowLock) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	t := &tx{
		s:        s,
		held:     map[string]*rowLock{},
		products: map[string]inventory.Product{},
		orders:   map[string]orders.Order{},
	}
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) Order(_ context.Context, id string) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrders(_ context.Context, f orders.OrderFilter) ([]orders.Order, int, error) {
	s.mu.RLock()
	var all []orders.Order
	for _, o := range s.orders {
		if matchOrder(o, f) {
			all = append(all, cloneOrder(o))
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		var less, eq bool
		switch f.SortBy {
		case "total":
			less, eq = a.Total.LessThan(b.Total), a.Total.Equal(b.Total)
		case "status":
			less, eq = a.Status < b.Status, a.Status == b.Status
		default:
			less, eq = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		}
		if eq {
			return a.ID < b.ID
		}
		return less == f.Asc
	})
	return paginate(all, f.Offset(), f.Limit), len(all), nil
}

func matchOrder(o orders.Order, f orders.OrderFilter) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, o.Status) {
		return false
	}
	if len(f.Methods) > 0 && !contains(f.Methods, o.Payment.Method) {
		return false
	}
	if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && o.CreatedAt.After(f.To) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		fields := []string{
			o.ID, o.Shipping.Name, o.Shipping.Phone, o.Customer.Name,
			o.Customer.Phone, o.Payment.TxnID,
		}
		for _, v := range fields {
			if strings.Contains(strings.ToLower(v), q) {
				return true
			}
		}
		return false
	}
	return true
}

func (s *Store) DueForExpiry(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	var due []orders.Order
	for _, o := range s.orders {
		if !o.Status.Expirable() {
			continue
		}
		if until := o.ReservedUntil(); !until.IsZero() && !until.After(now) {
			due = append(due, o)
		}
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ReservedUntil().Before(due[j].ReservedUntil()) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, o := range due {
		ids[i] = o.ID
	}
	return ids, nil
}

func (s *Store) Product(_ context.Context, id string) (inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (s *Store) ListProducts(_ context.Context, f orders.ProductFilter) ([]inventory.Product, int, error) {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	s.mu.RLock()
	var all []inventory.Product
	for _, p := range s.products {
		switch {
		case f.Active != nil && p.Active != *f.Active,
			f.InStock && !p.InStock(),
			f.SKU != "" && p.SKU != f.SKU,
			f.Variant != "" && p.Variant != f.Variant,
			q != "" && !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.SKU), q):
			continue
		}
		all = append(all, p)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		var less, eq bool
		switch f.SortBy {
		case "price":
			less, eq = a.Price.LessThan(b.Price), a.Price.Equal(b.Price)
		case "name":
			less, eq = a.Name < b.Name, a.Name == b.Name
		case "available_stock":
			less, eq = a.Available < b.Available, a.Available == b.Available
		default:
			less, eq = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		}
		if eq {
			return a.ID < b.ID
		}
		return less == f.Asc
	})
	return paginate(all, f.Offset(), f.Limit), len(all), nil
}

// Movements returns the newest movements of a product first.
func (s *Store) Movements(_ context.Context, productID string, limit int) ([]inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []inventory.Movement
	for i := len(s.movements) - 1; i >= 0; i-- {
		if m := s.movements[i]; m.ProductID == productID {
			out = append(out, m)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// AllMovements is a snapshot of the whole audit trail in insertion order.
func (s *Store) AllMovements() []inventory.Movement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Movement, len(s.movements))
	copy(out, s.movements)
	return out
}

type tx struct {
	s        *Store
	held     map[string]*rowLock
	products map[string]inventory.Product
	orders   map[string]orders.Order
	inserted []string
	moves    []inventory.Movement
}

func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	l := t.s.acquire(key)
	select {
	case l.ch <- struct{}{}:
		t.held[key] = l
		return nil
	case <-ctx.Done():
		t.s.drop(key, l)
		return ctx.Err()
	}
}

func (t *tx) release() {
	for k, l := range t.held {
		<-l.ch
		t.s.drop(k, l)
		delete(t.held, k)
	}
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range t.inserted {
		o := t.orders[id]
		if o.ExternalID == "" {
			continue
		}
		if other, ok := s.external[o.ExternalID]; ok && other != id {
			return fmt.Errorf("insert order %s: %w", id, orders.ErrDuplicateExternalID)
		}
	}
	for id, p := range t.products {
		s.products[id] = p
	}
	for id, o := range t.orders {
		s.orders[id] = o
		if o.ExternalID != "" {
			s.external[o.ExternalID] = id
		}
	}
	s.movements = append(s.movements, t.moves...)
	return nil
}

func (t *tx) product(id string) (inventory.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	p, ok := t.s.products[id]
	return p, ok
}

func (t *tx) ProductForUpdate(ctx context.Context, id string) (inventory.Product, error) {
	if err := t.lock(ctx, "product:"+id); err != nil {
		return inventory.Product{}, err
	}
	p, ok := t.product(id)
	if !ok {
		return inventory.Product{}, fmt.Errorf("product %s: %w", id, inventory.ErrProductNotFound)
	}
	return p, nil
}

func (t *tx) SaveStock(_ context.Context, p inventory.Product) error {
	if _, ok := t.held["product:"+p.ID]; !ok {
		return fmt.Errorf("save stock %s: row not locked", p.ID)
	}
	cur, _ := t.product(p.ID)
	cur.Available, cur.Reserved, cur.UpdatedAt = p.Available, p.Reserved, p.UpdatedAt
	t.products[p.ID] = cur
	return nil
}

func (t *tx) InsertMovement(_ context.Context, m inventory.Movement) error {
	t.moves = append(t.moves, m)
	return nil
}

func (t *tx) ProductByID(_ context.Context, id string) (inventory.Product, error) {
	p, ok := t.product(id)
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (t *tx) ProductBySKU(_ context.Context, sku, variant string) (inventory.Product, error) {
	return t.pick(func(p inventory.Product) bool {
		return p.SKU == sku && (variant == "" || p.Variant == variant)
	}, func(a, b inventory.Product) bool {
		// without a variant the plain product wins over its variants
		if (a.Variant == "") != (b.Variant == "") {
			return a.Variant == ""
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (t *tx) ProductByName(_ context.Context, name string) (inventory.Product, error) {
	return t.pick(func(p inventory.Product) bool {
		return strings.EqualFold(strings.TrimSpace(p.Name), name)
	}, func(a, b inventory.Product) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (t *tx) pick(match func(inventory.Product) bool, better func(a, b inventory.Product) bool) (inventory.Product, error) {
	t.s.mu.RLock()
	var cands []inventory.Product
	for id, p := range t.s.products {
		if staged, ok := t.products[id]; ok {
			p = staged
		}
		if match(p) {
			cands = append(cands, p)
		}
	}
	t.s.mu.RUnlock()
	if len(cands) == 0 {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	sort.Slice(cands, func(i, j int) bool {
		if better(cands[i], cands[j]) {
			return true
		}
		if better(cands[j], cands[i]) {
			return false
		}
		return cands[i].ID < cands[j].ID
	})
	return cands[0], nil
}

func (t *tx) OrderForUpdate(ctx context.Context, id string) (orders.Order, error) {
	if err := t.lock(ctx, "order:"+id); err != nil {
		return orders.Order{}, err
	}
	if o, ok := t.orders[id]; ok {
		return cloneOrder(o), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	o, ok := t.s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (t *tx) OrderByExternalID(_ context.Context, externalID string) (orders.Order, error) {
	for _, id := range t.inserted {
		if o := t.orders[id]; o.ExternalID == externalID {
			return cloneOrder(o), nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.external[externalID]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return cloneOrder(t.s.orders[id]), nil
}

func (t *tx) InsertOrder(ctx context.Context, o orders.Order) error {
	if err := t.lock(ctx, "order:"+o.ID); err != nil {
		return err
	}
	t.s.mu.RLock()
	_, exists := t.s.orders[o.ID]
	other, dup := t.s.external[o.ExternalID]
	t.s.mu.RUnlock()
	if _, staged := t.orders[o.ID]; exists || staged {
		return fmt.Errorf("insert order %s: already exists", o.ID)
	}
	if o.ExternalID != "" && dup && other != o.ID {
		return fmt.Errorf("insert order %s: %w", o.ID, orders.ErrDuplicateExternalID)
	}
	t.orders[o.ID] = cloneOrder(o)
	t.inserted = append(t.inserted, o.ID)
	return nil
}

func (t *tx) UpdateOrder(_ context.Context, o orders.Order) error {
	if _, ok := t.held["order:"+o.ID]; !ok {
		return fmt.Errorf("update order %s: row not locked", o.ID)
	}
	t.orders[o.ID] = cloneOrder(o)
	return nil
}

func cloneOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.Item(nil), o.Items...)
	o.Reservations = append([]orders.Reservation(nil), o.Reservations...)
	if o.Payment.PaidAt != nil {
		t := *o.Payment.PaidAt
		o.Payment.PaidAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		o.CancelledAt = &t
	}
	return o
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func paginate[T any](xs []T, offset, limit int) []T {
	if offset >= len(xs) {
		return nil
	}
	end := len(xs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return xs[offset:end]
}
