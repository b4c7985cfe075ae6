package orders

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

// Resolver is one way of turning a checkout line into a catalog product.
// ok=false means the strategy does not apply or found nothing, so the next
// one should be tried.
type Resolver interface {
	Resolve(ctx context.Context, cat Catalog, in ItemInput) (p inventory.Product, ok bool, err error)
}

type ByID struct{}

func (ByID) Resolve(ctx context.Context, cat Catalog, in ItemInput) (inventory.Product, bool, error) {
	id := strings.TrimSpace(in.ProductID)
	if id == "" {
		return inventory.Product{}, false, nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return inventory.Product{}, false, nil
	}
	return found(cat.ProductByID(ctx, id))
}

type BySKU struct{}

func (BySKU) Resolve(ctx context.Context, cat Catalog, in ItemInput) (inventory.Product, bool, error) {
	sku := strings.TrimSpace(in.SKU)
	if sku == "" {
		return inventory.Product{}, false, nil
	}
	return found(cat.ProductBySKU(ctx, sku, strings.TrimSpace(in.Variant)))
}

type ByName struct{}

func (ByName) Resolve(ctx context.Context, cat Catalog, in ItemInput) (inventory.Product, bool, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return inventory.Product{}, false, nil
	}
	return found(cat.ProductByName(ctx, name))
}

func found(p inventory.Product, err error) (inventory.Product, bool, error) {
	if errors.Is(err, inventory.ErrProductNotFound) {
		return inventory.Product{}, false, nil
	}
	if err != nil {
		return inventory.Product{}, false, err
	}
	return p, true, nil
}

// Chain tries resolvers in order; the first match wins.
type Chain []Resolver

// DefaultChain resolves by id, then sku/variant, then exact name.
func DefaultChain() Chain { return Chain{ByID{}, BySKU{}, ByName{}} }

func (c Chain) Resolve(ctx context.Context, cat Catalog, in ItemInput) (inventory.Product, bool, error) {
	for _, r := range c {
		p, ok, err := r.Resolve(ctx, cat, in)
		if err != nil || ok {
			return p, ok, err
		}
	}
	return inventory.Product{}, false, nil
}

// Priced is the outcome of resolving a checkout request.
type Priced struct {
	Items []Item
	Total decimal.Decimal
}

// ResolveItems validates every line against the catalog and snapshots prices.
// It stops at the first bad line and mutates nothing.
func ResolveItems(ctx context.Context, cat Catalog, r Resolver, in []ItemInput) (Priced, error) {
	if len(in) == 0 {
		return Priced{}, invalidInput("at least one item is required")
	}
	out := Priced{Items: make([]Item, 0, len(in)), Total: decimal.Zero}
	for i, line := range in {
		if line.Qty <= 0 {
			return Priced{}, &LineError{Index: i, Input: line, Err: inventory.ErrInvalidQuantity}
		}
		p, ok, err := r.Resolve(ctx, cat, line)
		if err != nil {
			return Priced{}, err
		}
		if !ok {
			return Priced{}, &LineError{Index: i, Input: line, Err: inventory.ErrProductNotFound}
		}
		if !p.Active {
			return Priced{}, &LineError{Index: i, Input: line, Err: inventory.ErrProductInactive}
		}
		it := Item{
			ProductID: p.ID,
			SKU:       p.SKU,
			Variant:   p.Variant,
			Qty:       line.Qty,
			UnitPrice: p.Price,
		}
		out.Items = append(out.Items, it)
		out.Total = out.Total.Add(it.Subtotal())
	}
	return out, nil
}
