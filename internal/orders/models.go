package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID           string          `json:"id"`
	ExternalID   string          `json:"external_id,omitempty"`
	Status       Status          `json:"status"`
	Items        []Item          `json:"items"`
	Reservations []Reservation   `json:"reservations"`
	Total        decimal.Decimal `json:"total"`
	Shipping     Shipping        `json:"shipping"`
	Customer     Customer        `json:"customer"`
	Payment      Payment         `json:"payment"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Item is a priced order line. UnitPrice is the catalog price at checkout.
type Item struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Variant   string          `json:"variant"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (it Item) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty)))
}

type Reservation struct {
	ProductID string    `json:"product_id"`
	Qty       int       `json:"qty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Shipping struct {
	Name    string `json:"name,omitempty"`
	City    string `json:"city,omitempty"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

type Customer struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Document string `json:"document,omitempty"`
}

type Payment struct {
	Method       string     `json:"method,omitempty"`
	TxnID        string     `json:"txn_id,omitempty"`
	ReceiptRef   string     `json:"receipt_ref,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`
}

// ReservedUntil is the earliest reservation expiry, zero when nothing is held.
func (o Order) ReservedUntil() time.Time {
	var earliest time.Time
	for _, r := range o.Reservations {
		if earliest.IsZero() || r.ExpiresAt.Before(earliest) {
			earliest = r.ExpiresAt
		}
	}
	return earliest
}

// ItemInput is one requested checkout line. Exactly how the product is
// identified is up to the caller: id, sku (+variant) or name.
type ItemInput struct {
	ProductID string `json:"product_id,omitempty"`
	SKU       string `json:"sku,omitempty"`
	Variant   string `json:"variant,omitempty"`
	Name      string `json:"name,omitempty"`
	Qty       int    `json:"qty"`
}

type CreateOrderInput struct {
	ExternalID    string
	Items         []ItemInput
	Shipping      Shipping
	Customer      Customer
	PaymentMethod string
}

type CreateOrderResult struct {
	OrderID string          `json:"order_id"`
	Total   decimal.Decimal `json:"total"`
	Status  Status          `json:"status"`
	Existed bool            `json:"idempotent"`
}

type ShippingTo struct {
	Name string `json:"name,omitempty"`
	City string `json:"city,omitempty"`
}

type OrderSummary struct {
	ID            string          `json:"id"`
	Status        Status          `json:"status"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	ReceiptRef    string          `json:"receipt_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ShippingTo    ShippingTo      `json:"shipping_to"`
	Items         []Item          `json:"items"`
}

func (o Order) Summary() OrderSummary {
	items := make([]Item, len(o.Items))
	copy(items, o.Items)
	return OrderSummary{
		ID:            o.ID,
		Status:        o.Status,
		Total:         o.Total,
		PaymentMethod: o.Payment.Method,
		ReceiptRef:    o.Payment.ReceiptRef,
		CreatedAt:     o.CreatedAt,
		ShippingTo:    ShippingTo{Name: o.Shipping.Name, City: o.Shipping.City},
		Items:         items,
	}
}

// OrderFilter drives the admin order listing.
type OrderFilter struct {
	Statuses []Status
	Methods  []string
	Query    string // matched against shipping/customer name, phone, txn id or order id
	From     time.Time
	To       time.Time
	Page     int
	Limit    int
	SortBy   string // created_at | total | status
	Asc      bool
}

type ProductFilter struct {
	Query   string
	SKU     string
	Variant string
	Active  *bool
	InStock bool
	Page    int
	Limit   int
	SortBy  string // created_at | price | name | available_stock
	Asc     bool
}

type Page[T any] struct {
	Items   []T  `json:"items"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// normalizePage clamps to 1-based pages of at most MaxPageLimit rows.
func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

func (f OrderFilter) Normalize() OrderFilter {
	f.Page, f.Limit = normalizePage(f.Page, f.Limit)
	switch f.SortBy {
	case "created_at", "total", "status":
	default:
		f.SortBy = "created_at"
	}
	return f
}

func (f ProductFilter) Normalize() ProductFilter {
	f.Page, f.Limit = normalizePage(f.Page, f.Limit)
	switch f.SortBy {
	case "created_at", "price", "name", "available_stock":
	default:
		f.SortBy = "created_at"
	}
	return f
}

func (f OrderFilter) Offset() int   { return (f.Page - 1) * f.Limit }
func (f ProductFilter) Offset() int { return (f.Page - 1) * f.Limit }
