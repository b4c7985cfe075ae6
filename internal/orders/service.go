package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

// DefaultHold is how long a fresh order keeps its stock reserved.
const DefaultHold = 90 * time.Minute

// Service is the order workflow. Every exported operation is one unit of
// work on Store; events, cache and metrics are touched only after commit.
type Service struct {
	Store    Store
	Ledger   inventory.Ledger
	Resolver Resolver
	Clock    Clock
	Hold     time.Duration

	Events   Publisher    // optional
	Cache    SummaryCache // optional
	Observer Observer     // optional
	Log      zerolog.Logger
	Producer string
}

func NewService(store Store, log zerolog.Logger) *Service {
	return &Service{
		Store:    store,
		Resolver: DefaultChain(),
		Clock:    time.Now,
		Hold:     DefaultHold,
		Log:      log,
		Producer: "storefront-orders",
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

func (s *Service) hold() time.Duration {
	if s.Hold <= 0 {
		return DefaultHold
	}
	return s.Hold
}

func (s *Service) resolver() Resolver {
	if s.Resolver == nil {
		return DefaultChain()
	}
	return s.Resolver
}

func (s *Service) ledger() inventory.Ledger {
	l := s.Ledger
	if l.Now == nil {
		l.Now = s.now
	}
	return l
}

// CreateOrder prices the request against the catalog, reserves every line
// and stores the order. A repeated ExternalID returns the first order.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	method := NormalizeMethod(in.PaymentMethod)

	var (
		res     CreateOrderResult
		created Order
	)
	err := s.Store.InTx(ctx, func(tx Tx) error {
		if in.ExternalID != "" {
			o, err := tx.OrderByExternalID(ctx, in.ExternalID)
			if err == nil {
				res = CreateOrderResult{OrderID: o.ID, Total: o.Total, Status: o.Status, Existed: true}
				return nil
			}
			if !errors.Is(err, ErrOrderNotFound) {
				return err
			}
		}

		priced, err := ResolveItems(ctx, tx, s.resolver(), in.Items)
		if err != nil {
			return err
		}

		now := s.now()
		o := Order{
			ID:         uuid.NewString(),
			ExternalID: in.ExternalID,
			Status:     initialStatus(method),
			Items:      priced.Items,
			Total:      priced.Total,
			Shipping:   in.Shipping,
			Customer:   in.Customer,
			Payment:    Payment{Method: method},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		o.Reservations = make([]Reservation, len(o.Items))
		expires := now.Add(s.hold())
		note := "order " + o.ID
		led := s.ledger()
		for _, i := range byProduct(o.Items) {
			it := o.Items[i]
			if _, err := led.Reserve(ctx, tx, it.ProductID, it.Qty, note); err != nil {
				return &LineError{Index: i, Input: in.Items[i], Err: err}
			}
			o.Reservations[i] = Reservation{ProductID: it.ProductID, Qty: it.Qty, ExpiresAt: expires}
		}

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		created = o
		res = CreateOrderResult{OrderID: o.ID, Total: o.Total, Status: o.Status}
		return nil
	})
	if errors.Is(err, ErrDuplicateExternalID) {
		// lost the race to a concurrent create with the same key
		return s.existingByExternalID(ctx, in.ExternalID)
	}
	if err != nil {
		s.observe(EventCreate, err)
		return CreateOrderResult{}, err
	}
	if res.Existed {
		s.observeResult(EventCreate, "noop")
		return res, nil
	}

	s.observe(EventCreate, nil)
	s.moved(inventory.KindReserve, len(created.Reservations))
	s.publish(ctx, TopicOrderCreated, EventTypeOrderCreated, created.ID, OrderCreatedPayload{
		OrderID:       created.ID,
		ExternalID:    created.ExternalID,
		Status:        created.Status,
		PaymentMethod: created.Payment.Method,
		Items:         toItemPrices(created.Items),
		Total:         created.Total,
		ReservedUntil: created.ReservedUntil(),
	})
	s.Log.Info().
		Str("order_id", created.ID).
		Str("status", string(created.Status)).
		Str("total", created.Total.String()).
		Int("lines", len(created.Items)).
		Msg("order created")
	return res, nil
}

func (s *Service) existingByExternalID(ctx context.Context, externalID string) (CreateOrderResult, error) {
	var res CreateOrderResult
	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderByExternalID(ctx, externalID)
		if err != nil {
			return err
		}
		res = CreateOrderResult{OrderID: o.ID, Total: o.Total, Status: o.Status, Existed: true}
		return nil
	})
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("load order by external id: %w", err)
	}
	s.observeResult(EventCreate, "noop")
	return res, nil
}

// byProduct returns item indexes sorted by product id, the row lock order.
func byProduct(items []Item) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return items[idx[a]].ProductID < items[idx[b]].ProductID
	})
	return idx
}

// GetOrderSummary is the customer-facing view, served from cache when possible.
func (s *Service) GetOrderSummary(ctx context.Context, orderID string) (OrderSummary, error) {
	if s.Cache != nil {
		if sum, ok := s.Cache.GetSummary(ctx, orderID); ok {
			return sum, nil
		}
	}
	o, err := s.Store.Order(ctx, orderID)
	if err != nil {
		return OrderSummary{}, err
	}
	sum := o.Summary()
	if s.Cache != nil {
		s.Cache.FillSummary(ctx, sum)
	}
	return sum, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return s.Store.Order(ctx, orderID)
}

func (s *Service) ListOrders(ctx context.Context, f OrderFilter) (Page[Order], error) {
	f = f.Normalize()
	for _, st := range f.Statuses {
		if !st.Valid() {
			return Page[Order]{}, invalidInput("unknown status %q", st)
		}
	}
	for i, m := range f.Methods {
		f.Methods[i] = NormalizeMethod(m)
	}
	items, total, err := s.Store.ListOrders(ctx, f)
	if err != nil {
		return Page[Order]{}, err
	}
	return newPage(items, f.Page, f.Limit, total), nil
}

func (s *Service) ListProducts(ctx context.Context, f ProductFilter) (Page[inventory.Product], error) {
	f = f.Normalize()
	items, total, err := s.Store.ListProducts(ctx, f)
	if err != nil {
		return Page[inventory.Product]{}, err
	}
	return newPage(items, f.Page, f.Limit, total), nil
}

func (s *Service) GetProduct(ctx context.Context, productID string) (inventory.Product, error) {
	return s.Store.Product(ctx, productID)
}

// AdjustStock changes a product's available quantity by delta (restock or shrinkage).
func (s *Service) AdjustStock(ctx context.Context, productID string, delta int, note string) (inventory.Product, error) {
	var p inventory.Product
	err := s.Store.InTx(ctx, func(tx Tx) error {
		var err error
		p, err = s.ledger().Adjust(ctx, tx, productID, delta, strings.TrimSpace(note))
		return err
	})
	if err != nil {
		return inventory.Product{}, err
	}
	s.moved(inventory.KindAdjust, 1)
	s.Log.Info().Str("product_id", productID).Int("delta", delta).Int("available", p.Available).Msg("stock adjusted")
	return p, nil
}

const maxMovements = 500

func (s *Service) ListMovements(ctx context.Context, productID string, limit int) ([]inventory.Movement, error) {
	if limit <= 0 || limit > maxMovements {
		limit = maxMovements
	}
	if _, err := s.Store.Product(ctx, productID); err != nil {
		return nil, err
	}
	return s.Store.Movements(ctx, productID, limit)
}

func newPage[T any](items []T, page, limit, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:   items,
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasMore: page*limit < total,
	}
}

// post-commit helpers; none of them can fail the operation

func (s *Service) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	env, err := NewEnvelope(eventType, s.Producer, orderID, s.now(), payload)
	if err != nil {
		s.Log.Error().Err(err).Str("event_type", eventType).Msg("build envelope")
		return
	}
	env.TraceID = TraceID(ctx)
	if err := s.Events.Publish(ctx, topic, env); err != nil {
		s.Log.Warn().Err(err).Str("topic", topic).Str("order_id", orderID).Msg("publish event")
	}
}

func (s *Service) observe(ev Event, err error) {
	s.observeResult(ev, resultOf(err))
}

func (s *Service) observeResult(ev Event, result string) {
	if s.Observer != nil {
		s.Observer.Transition(ev, result)
	}
}

func (s *Service) moved(kind inventory.MovementKind, n int) {
	if s.Observer != nil && n > 0 {
		s.Observer.StockMoved(kind, n)
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrReservationActive):
		return "invalid"
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInsufficientReservation),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrProductInactive),
		errors.Is(err, ErrOrderNotFound):
		return "rejected"
	default:
		return "error"
	}
}

type traceKey struct{}

// WithTraceID tags ctx so events published under it carry the request id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
