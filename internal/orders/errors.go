package orders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrReservationActive      = errors.New("reservation has not expired yet")
	ErrInvalidInput           = errors.New("invalid input")
	ErrDuplicateExternalID    = errors.New("order external id already used")

	// Re-exported so callers of this package can match checkout failures
	// without importing the ledger.
	ErrInvalidQuantity         = inventory.ErrInvalidQuantity
	ErrInsufficientStock       = inventory.ErrInsufficientStock
	ErrInsufficientReservation = inventory.ErrInsufficientReservation
	ErrProductNotFound         = inventory.ErrProductNotFound
	ErrProductInactive         = inventory.ErrProductInactive
)

// LineError pins a checkout failure to the offending request line.
type LineError struct {
	Index int
	Input ItemInput
	Err   error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("item #%d (product_id=%q sku=%q variant=%q name=%q qty=%d): %v",
		e.Index+1, e.Input.ProductID, e.Input.SKU, e.Input.Variant, e.Input.Name, e.Input.Qty, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// TransitionError is returned when an event is not allowed from the order's status.
type TransitionError struct {
	OrderID string
	Event   Event
	Current Status
	Allowed []Status
}

func (e *TransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("order %s: cannot %s from %q (requires one of: %s)",
		e.OrderID, e.Event, e.Current, strings.Join(allowed, ", "))
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

func transitionErr(o Order, ev Event) error {
	return &TransitionError{OrderID: o.ID, Event: ev, Current: o.Status, Allowed: SourcesOf(ev)}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}
