package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// IdempotencyStore is the fast path for repeated checkouts. redisx.Idempotency
// implements it.
type IdempotencyStore interface {
	Lookup(ctx context.Context, externalID string) (string, bool, error)
	Remember(ctx context.Context, externalID, orderID string) error
}

type OrdersHandler struct {
	Svc  *orders.Service
	Idem IdempotencyStore // optional
	Log  zerolog.Logger
}

type CreateOrderReq struct {
	ExternalID    string             `json:"external_id"`
	Items         []orders.ItemInput `json:"items"`
	Shipping      orders.Shipping    `json:"shipping"`
	Customer      orders.Customer    `json:"customer"`
	PaymentMethod string             `json:"payment_method"`
}

type DeclarePaymentReq struct {
	OrderID    string `json:"order_id"`
	Method     string `json:"method"`
	ReceiptRef string `json:"receipt_ref"`
}

type StatusResp struct {
	OrderID string        `json:"order_id"`
	Status  orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}/summary", h.getSummary)
	r.Post("/payments/declare", h.declarePayment)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)); key != "" {
		req.ExternalID = key
	}
	req.ExternalID = strings.TrimSpace(req.ExternalID)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if res, ok := h.replay(ctx, req.ExternalID); ok {
		writeJSON(w, http.StatusOK, res)
		return
	}

	res, err := h.Svc.CreateOrder(ctx, orders.CreateOrderInput{
		ExternalID:    req.ExternalID,
		Items:         req.Items,
		Shipping:      req.Shipping,
		Customer:      req.Customer,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if h.Idem != nil && req.ExternalID != "" {
		if err := h.Idem.Remember(ctx, req.ExternalID, res.OrderID); err != nil {
			h.Log.Warn().Err(err).Str("external_id", req.ExternalID).Msg("remember idempotency key")
		}
	}

	code := http.StatusCreated
	if res.Existed {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

// replay answers a repeated checkout from the idempotency store. Any miss or
// failure falls through to the transactional path, which is authoritative.
func (h *OrdersHandler) replay(ctx context.Context, externalID string) (orders.CreateOrderResult, bool) {
	if h.Idem == nil || externalID == "" {
		return orders.CreateOrderResult{}, false
	}
	orderID, ok, err := h.Idem.Lookup(ctx, externalID)
	if err != nil {
		h.Log.Warn().Err(err).Str("external_id", externalID).Msg("idempotency lookup")
		return orders.CreateOrderResult{}, false
	}
	if !ok {
		return orders.CreateOrderResult{}, false
	}
	o, err := h.Svc.GetOrder(ctx, orderID)
	if err != nil || o.ExternalID != externalID {
		return orders.CreateOrderResult{}, false
	}
	return orders.CreateOrderResult{OrderID: o.ID, Total: o.Total, Status: o.Status, Existed: true}, true
}

func (h *OrdersHandler) getSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	sum, err := h.Svc.GetOrderSummary(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *OrdersHandler) declarePayment(w http.ResponseWriter, r *http.Request) {
	var req DeclarePaymentReq
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		badRequest(w, "order_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st, err := h.Svc.DeclarePayment(ctx, req.OrderID, req.Method, req.ReceiptRef)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResp{OrderID: req.OrderID, Status: st})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	f, err := productFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	active := true
	f.Active = &active

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	page, err := h.Svc.ListProducts(ctx, f)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *OrdersHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Svc.GetProduct(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
