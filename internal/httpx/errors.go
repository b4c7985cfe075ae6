package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_input", Message: msg})
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// classify maps a domain error to an HTTP status and error code.
func classify(err error) (int, string) {
	var line *orders.LineError
	atCheckout := errors.As(err, &line)

	switch {
	case errors.Is(err, orders.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, orders.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, orders.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, orders.ErrInsufficientReservation):
		return http.StatusConflict, "insufficient_reservation"
	case errors.Is(err, orders.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, orders.ErrReservationActive):
		return http.StatusConflict, "reservation_active"
	case errors.Is(err, orders.ErrProductNotFound):
		if atCheckout {
			return http.StatusUnprocessableEntity, "product_not_found"
		}
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, orders.ErrProductInactive):
		return http.StatusUnprocessableEntity, "product_inactive"
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func details(err error) map[string]any {
	d := map[string]any{}
	var (
		line  *orders.LineError
		trans *orders.TransitionError
		stock *inventory.StockError
	)
	if errors.As(err, &line) {
		d["index"] = line.Index
		d["item"] = line.Input
	}
	if errors.As(err, &trans) {
		d["order_id"] = trans.OrderID
		d["event"] = trans.Event
		d["current"] = trans.Current
		d["allowed"] = trans.Allowed
	}
	if errors.As(err, &stock) {
		d["product_id"] = stock.ProductID
		d["requested"] = stock.Requested
		d["available"] = stock.Available
		d["reserved"] = stock.Reserved
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	code, name := classify(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, code, errorBody{Error: name, Message: http.StatusText(code)})
		return
	}
	writeJSON(w, code, errorBody{Error: name, Message: err.Error(), Details: details(err)})
}
