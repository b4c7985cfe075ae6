package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// AdminHandler serves back-office operations behind RequireAdmin.
type AdminHandler struct {
	Svc  *orders.Service
	Auth Authorizer
	Log  zerolog.Logger
}

type settleReq struct {
	TxnID string `json:"txn_id"`
}

type reasonReq struct {
	Reason string `json:"reason"`
}

type AdjustStockReq struct {
	Delta int    `json:"delta"`
	Note  string `json:"note"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireAdmin(h.Auth))

		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/orders/{id}/approve", h.settle(h.Svc.ApprovePayment))
		r.Post("/orders/{id}/mark-delivered", h.settle(h.Svc.MarkDelivered))
		r.Post("/orders/{id}/not-delivered", h.withReason(h.Svc.MarkNotDelivered))
		r.Post("/orders/{id}/reject", h.withReason(h.Svc.RejectPayment))
		r.Post("/orders/{id}/expire", h.expire)

		r.Get("/products", h.listProducts)
		r.Post("/products/{id}/adjust", h.adjustStock)
		r.Get("/products/{id}/movements", h.listMovements)
	})
}

func (h *AdminHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	page, err := h.Svc.ListOrders(ctx, f)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *AdminHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Svc.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type transitionFunc func(ctx context.Context, orderID, arg string) (orders.Status, error)

func (h *AdminHandler) settle(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settleReq
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid json")
			return
		}
		h.apply(w, r, func(ctx context.Context, id string) (orders.Status, error) {
			return fn(ctx, id, req.TxnID)
		})
	}
}

func (h *AdminHandler) withReason(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reasonReq
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid json")
			return
		}
		h.apply(w, r, func(ctx context.Context, id string) (orders.Status, error) {
			return fn(ctx, id, req.Reason)
		})
	}
}

func (h *AdminHandler) expire(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.Svc.ExpireReservation)
}

func (h *AdminHandler) apply(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (orders.Status, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	st, err := fn(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Log.Info().Str("order_id", id).Str("status", string(st)).Str("admin", CallerOf(r.Context()).Email).Msg("admin transition")
	writeJSON(w, http.StatusOK, StatusResp{OrderID: id, Status: st})
}

func (h *AdminHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	f, err := productFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	page, err := h.Svc.ListProducts(ctx, f)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *AdminHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockReq
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Svc.AdjustStock(ctx, chi.URLParam(r, "id"), req.Delta, req.Note)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *AdminHandler) listMovements(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ms, err := h.Svc.ListMovements(ctx, chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}
