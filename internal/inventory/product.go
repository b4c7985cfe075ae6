package inventory

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable catalog entry (one SKU+variant) with its stock counters.
// Available and Reserved are only ever changed through the ledger functions.
type Product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	SKU               string          `json:"sku"`
	Variant           string          `json:"variant"`
	Price             decimal.Decimal `json:"price"`
	Available         int             `json:"available_stock"`
	Reserved          int             `json:"reserved_stock"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	Active            bool            `json:"is_active"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (p Product) InStock() bool { return p.Available > 0 }

// LowStock reports whether sellable stock dropped to the alert threshold.
func (p Product) LowStock() bool {
	return p.LowStockThreshold > 0 && p.Available <= p.LowStockThreshold
}

// MarshalJSON adds the derived low_stock flag for catalog and admin listings.
func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	return json.Marshal(struct {
		plain
		LowStock bool `json:"low_stock"`
	}{plain(p), p.LowStock()})
}

type MovementKind string

const (
	KindReserve   MovementKind = "reserve"
	KindCommit    MovementKind = "commit"
	KindUnreserve MovementKind = "unreserve"
	KindAdjust    MovementKind = "adjust"
	KindSale      MovementKind = "sale"
	KindRefund    MovementKind = "refund"
)

func (k MovementKind) Valid() bool {
	switch k {
	case KindReserve, KindCommit, KindUnreserve, KindAdjust, KindSale, KindRefund:
		return true
	}
	return false
}

// Movement is an append-only audit record of a stock change.
// Qty is negative for reserve, zero for commit and positive for unreserve.
type Movement struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Kind      MovementKind `json:"type"`
	Qty       int          `json:"qty"`
	Note      string       `json:"notes"`
	CreatedAt time.Time    `json:"created_at"`
}
