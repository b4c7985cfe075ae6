package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

// Catalog looks up products without locking them. Lookups that find
// nothing return inventory.ErrProductNotFound.
type Catalog interface {
	ProductByID(ctx context.Context, id string) (inventory.Product, error)
	// ProductBySKU matches sku exactly. An empty variant prefers the
	// variant-less product, then the oldest one.
	ProductBySKU(ctx context.Context, sku, variant string) (inventory.Product, error)
	// ProductByName matches the whole name case-insensitively.
	ProductByName(ctx context.Context, name string) (inventory.Product, error)
}

// Tx is one business transaction. Every read "ForUpdate" holds a row lock
// until the transaction commits or rolls back.
type Tx interface {
	inventory.Tx
	Catalog

	OrderForUpdate(ctx context.Context, id string) (Order, error)
	OrderByExternalID(ctx context.Context, externalID string) (Order, error)
	InsertOrder(ctx context.Context, o Order) error
	UpdateOrder(ctx context.Context, o Order) error
}

// Store runs units of work and serves the read-only queries.
type Store interface {
	// InTx commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Order(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, int, error)
	// DueForExpiry returns ids of expirable orders whose hold lapsed at or before now.
	DueForExpiry(ctx context.Context, now time.Time, limit int) ([]string, error)

	Product(ctx context.Context, id string) (inventory.Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]inventory.Product, int, error)
	Movements(ctx context.Context, productID string, limit int) ([]inventory.Movement, error)
}

// Publisher ships lifecycle events after a transaction commits.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

// SummaryCache keeps rendered summaries close to readers. Writers that just
// committed call SetSummary; readers filling a miss call FillSummary, which
// must not replace an entry that is already there.
type SummaryCache interface {
	GetSummary(ctx context.Context, orderID string) (OrderSummary, bool)
	SetSummary(ctx context.Context, s OrderSummary)
	FillSummary(ctx context.Context, s OrderSummary)
}

// Observer receives counters for metrics.
type Observer interface {
	Transition(ev Event, result string)
	StockMoved(kind inventory.MovementKind, n int)
}

type Clock func() time.Time
