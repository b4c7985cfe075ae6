package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypeOrderCreated    = "OrderCreated"
	EventTypeStatusChanged   = "OrderStatusChanged"
	EventTypeExpiryRequested = "ReservationExpiryRequested"
	EnvelopeVersion          = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload for eventType, correlated to orderID.
func NewEnvelope(eventType, producer, orderID string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EnvelopeVersion,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Variant   string          `json:"variant"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID       string          `json:"order_id"`
	ExternalID    string          `json:"external_id,omitempty"`
	Status        Status          `json:"status"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Items         []ItemPrice     `json:"items"`
	Total         decimal.Decimal `json:"total"`
	ReservedUntil time.Time       `json:"reserved_until"`
}

type StatusChangedPayload struct {
	OrderID string `json:"order_id"`
	Event   Event  `json:"event"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Reason  string `json:"reason,omitempty"`
	TxnID   string `json:"txn_id,omitempty"`
}

type ExpiryRequestedPayload struct {
	OrderID string `json:"order_id"`
}

func toItemPrices(items []Item) []ItemPrice {
	out := make([]ItemPrice, 0, len(items))
	for _, it := range items {
		out = append(out, ItemPrice{
			ProductID: it.ProductID,
			SKU:       it.SKU,
			Variant:   it.Variant,
			Qty:       it.Qty,
			UnitPrice: it.UnitPrice,
		})
	}
	return out
}
