package orders

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

// step inspects the locked order and may fill in payment details. It
// returns the event that applies, which for declarations depends on the
// method.
type step func(o *Order, now time.Time) (Event, error)

type outcome struct {
	ev      Event
	from    Status
	order   Order
	changed bool
	kind    inventory.MovementKind
	moved   int
}

// DeclarePayment records that the customer paid (or chose cash on delivery).
// An empty method keeps the method chosen at checkout.
func (s *Service) DeclarePayment(ctx context.Context, orderID, method, receiptRef string) (Status, error) {
	receiptRef = strings.TrimSpace(receiptRef)
	if len(receiptRef) > MaxReceiptRefLen {
		err := invalidInput("receipt reference exceeds %d characters", MaxReceiptRefLen)
		s.observe(EventDeclarePayment, err)
		return "", err
	}
	return s.transition(ctx, orderID, EventDeclarePayment, func(o *Order, _ time.Time) (Event, error) {
		m := NormalizeMethod(method)
		if m == "" {
			m = o.Payment.Method
		}
		ev := EventDeclarePayment
		if IsCOD(m) {
			ev = EventDeclareCOD
		}
		if _, ok := Next(o.Status, ev); !ok {
			return ev, transitionErr(*o, ev)
		}
		o.Payment.Method = m
		if receiptRef != "" {
			o.Payment.ReceiptRef = receiptRef
		}
		return ev, nil
	})
}

// ApprovePayment settles a manually verified payment. Approving a paid
// order again is a no-op.
func (s *Service) ApprovePayment(ctx context.Context, orderID, txnRef string) (Status, error) {
	return s.transition(ctx, orderID, EventApprove, settle(EventApprove, txnRef))
}

// MarkDelivered settles a cash-on-delivery order.
func (s *Service) MarkDelivered(ctx context.Context, orderID, txnRef string) (Status, error) {
	return s.transition(ctx, orderID, EventMarkDelivered, settle(EventMarkDelivered, txnRef))
}

func settle(ev Event, txnRef string) step {
	return func(o *Order, _ time.Time) (Event, error) {
		if ref := strings.TrimSpace(txnRef); ref != "" && o.Status != StatusPaid {
			o.Payment.TxnID = ref
		}
		return ev, nil
	}
}

func (s *Service) MarkNotDelivered(ctx context.Context, orderID, reason string) (Status, error) {
	return s.transition(ctx, orderID, EventMarkNotDelivered, withReason(EventMarkNotDelivered, reason))
}

func (s *Service) RejectPayment(ctx context.Context, orderID, reason string) (Status, error) {
	return s.transition(ctx, orderID, EventReject, withReason(EventReject, reason))
}

func withReason(ev Event, reason string) step {
	return func(o *Order, _ time.Time) (Event, error) {
		if r := strings.TrimSpace(reason); r != "" {
			o.Payment.RejectReason = r
		}
		return ev, nil
	}
}

// ExpireReservation releases the stock of an unpaid order whose hold lapsed.
func (s *Service) ExpireReservation(ctx context.Context, orderID string) (Status, error) {
	return s.transition(ctx, orderID, EventExpire, func(o *Order, now time.Time) (Event, error) {
		if _, ok := Next(o.Status, EventExpire); !ok {
			return EventExpire, transitionErr(*o, EventExpire)
		}
		if until := o.ReservedUntil(); !until.IsZero() && now.Before(until) {
			return EventExpire, ErrReservationActive
		}
		return EventExpire, nil
	})
}

func (s *Service) transition(ctx context.Context, orderID string, ev Event, fn step) (Status, error) {
	out := outcome{ev: ev}
	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.now()
		out = outcome{ev: ev, from: o.Status, order: o}

		ev, err := fn(&o, now)
		out.ev = ev
		if err != nil {
			return err
		}

		// settling an already paid order is a no-op
		if o.Status == StatusPaid && (ev == EventApprove || ev == EventMarkDelivered) {
			return nil
		}
		to, ok := Next(o.Status, ev)
		if !ok {
			return transitionErr(o, ev)
		}

		switch to {
		case StatusPaid:
			out.kind = inventory.KindCommit
			out.moved, err = s.settleStock(ctx, tx, o, s.ledger().Commit)
		case StatusRejected, StatusExpired, StatusCancelled:
			out.kind = inventory.KindUnreserve
			out.moved, err = s.settleStock(ctx, tx, o, s.ledger().Release)
		}
		if err != nil {
			return err
		}

		o.Status = to
		o.UpdatedAt = now
		if to.IsTerminal() {
			o.Reservations = nil
			if to == StatusPaid {
				paidAt := now
				o.Payment.PaidAt = &paidAt
			} else {
				cancelledAt := now
				o.CancelledAt = &cancelledAt
			}
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out.order = o
		out.changed = true
		return nil
	})
	if err != nil {
		s.observe(out.ev, err)
		s.Log.Debug().Err(err).Str("order_id", orderID).Str("event", string(out.ev)).Msg("transition refused")
		return "", err
	}
	if !out.changed {
		s.observeResult(out.ev, "noop")
		return out.order.Status, nil
	}

	s.observe(out.ev, nil)
	s.moved(out.kind, out.moved)
	o := out.order
	if s.Cache != nil {
		s.Cache.SetSummary(ctx, o.Summary())
	}
	s.publish(ctx, TopicStatusChanged, EventTypeStatusChanged, o.ID, StatusChangedPayload{
		OrderID: o.ID,
		Event:   out.ev,
		From:    out.from,
		To:      o.Status,
		Reason:  o.Payment.RejectReason,
		TxnID:   o.Payment.TxnID,
	})
	s.Log.Info().
		Str("order_id", o.ID).
		Str("event", string(out.ev)).
		Str("from", string(out.from)).
		Str("to", string(o.Status)).
		Msg("order transitioned")
	return o.Status, nil
}

type ledgerOp func(ctx context.Context, tx inventory.Tx, productID string, qty int, note string) (inventory.Product, error)

// settleStock runs op once per reservation in product id order. Orders
// stored without reservations fall back to their items.
func (s *Service) settleStock(ctx context.Context, tx Tx, o Order, op ledgerOp) (int, error) {
	held := make([]Reservation, 0, len(o.Reservations))
	held = append(held, o.Reservations...)
	if len(held) == 0 {
		for _, it := range o.Items {
			held = append(held, Reservation{ProductID: it.ProductID, Qty: it.Qty})
		}
	}
	sort.SliceStable(held, func(i, j int) bool { return held[i].ProductID < held[j].ProductID })

	note := "order " + o.ID
	for _, r := range held {
		if _, err := op(ctx, tx, r.ProductID, r.Qty, note); err != nil {
			return 0, err
		}
	}
	return len(held), nil
}
