package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext_Table(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		to   Status
		ok   bool
	}{
		{StatusPendingPayment, EventDeclarePayment, StatusAwaitingVerification, true},
		{StatusPendingPayment, EventDeclareCOD, StatusPendingDelivery, true},
		{StatusPendingDelivery, EventDeclareCOD, StatusPendingDelivery, true},
		{StatusPendingPayment, EventApprove, StatusPaid, true},
		{StatusAwaitingVerification, EventApprove, StatusPaid, true},
		{StatusPendingDelivery, EventMarkDelivered, StatusPaid, true},
		{StatusPendingDelivery, EventMarkNotDelivered, StatusCancelled, true},
		{StatusPendingPayment, EventReject, StatusRejected, true},
		{StatusAwaitingVerification, EventReject, StatusRejected, true},
		{StatusPendingPayment, EventExpire, StatusExpired, true},
		{StatusAwaitingVerification, EventExpire, StatusExpired, true},

		{StatusAwaitingVerification, EventDeclarePayment, "", false},
		{StatusPendingDelivery, EventDeclarePayment, "", false},
		{StatusPendingDelivery, EventApprove, "", false},
		{StatusPendingDelivery, EventExpire, "", false},
		{StatusPendingPayment, EventMarkDelivered, "", false},
	}
	for _, c := range cases {
		to, ok := Next(c.from, c.ev)
		assert.Equal(t, c.ok, ok, "%s --%s-->", c.from, c.ev)
		assert.Equal(t, c.to, to, "%s --%s-->", c.from, c.ev)
	}
}

func TestTerminalStatusesAreSinks(t *testing.T) {
	events := []Event{
		EventCreate, EventDeclarePayment, EventDeclareCOD, EventApprove,
		EventMarkDelivered, EventMarkNotDelivered, EventReject, EventExpire,
	}
	for _, s := range allStatuses {
		if !s.IsTerminal() {
			continue
		}
		for _, ev := range events {
			_, ok := Next(s, ev)
			assert.False(t, ok, "%s must not accept %s", s, ev)
		}
	}
	for _, s := range []Status{StatusRejected, StatusExpired, StatusCancelled} {
		for _, ev := range []Event{EventApprove, EventMarkDelivered} {
			to, ok := Next(s, ev)
			assert.False(t, ok && to == StatusPaid, "%s must not reach paid", s)
		}
	}
}

func TestSourcesOf(t *testing.T) {
	assert.Equal(t, []Status{StatusPendingPayment, StatusAwaitingVerification}, SourcesOf(EventExpire))
	assert.Equal(t, []Status{StatusPendingDelivery}, SourcesOf(EventMarkNotDelivered))
	assert.Empty(t, SourcesOf(EventCreate))
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusRefunded.Valid())
	assert.False(t, Status("shipped").Valid())
	assert.True(t, StatusPendingPayment.Expirable())
	assert.False(t, StatusPendingDelivery.Expirable())
	assert.False(t, StatusPendingDelivery.IsTerminal())
}

func TestNormalizeMethod(t *testing.T) {
	assert.Equal(t, PaymentMethodCOD, NormalizeMethod(" COD "))
	assert.Equal(t, PaymentMethodCOD, NormalizeMethod("cash_on_delivery"))
	assert.Equal(t, PaymentMethodCOD, NormalizeMethod("Contraentrega"))
	assert.Equal(t, "nequi", NormalizeMethod(" Nequi"))
	assert.Equal(t, StatusPendingDelivery, initialStatus("cod"))
	assert.Equal(t, StatusPendingPayment, initialStatus(""))
}
