package orders

type Status string

const (
	StatusPendingPayment       Status = "pending_payment"
	StatusAwaitingVerification Status = "awaiting_verification"
	StatusPendingDelivery      Status = "pending_delivery"
	StatusPaid                 Status = "paid"
	StatusRejected             Status = "rejected"
	StatusExpired              Status = "expired"
	StatusRefunded             Status = "refunded"
	StatusCancelled            Status = "cancelled"
)

// Event is something that happened to an order and may move it to another status.
type Event string

const (
	EventCreate           Event = "create"
	EventDeclarePayment   Event = "declare_payment"
	EventDeclareCOD       Event = "declare_cod"
	EventApprove          Event = "approve"
	EventMarkDelivered    Event = "mark_delivered"
	EventMarkNotDelivered Event = "mark_not_delivered"
	EventReject           Event = "reject"
	EventExpire           Event = "expire"
)

var validNext = map[Status]map[Event]Status{
	StatusPendingPayment: {
		EventDeclarePayment: StatusAwaitingVerification,
		EventDeclareCOD:     StatusPendingDelivery,
		EventApprove:        StatusPaid,
		EventReject:         StatusRejected,
		EventExpire:         StatusExpired,
	},
	StatusAwaitingVerification: {
		EventApprove: StatusPaid,
		EventReject:  StatusRejected,
		EventExpire:  StatusExpired,
	},
	StatusPendingDelivery: {
		EventDeclareCOD:       StatusPendingDelivery,
		EventMarkDelivered:    StatusPaid,
		EventMarkNotDelivered: StatusCancelled,
	},
	StatusPaid:      {},
	StatusRejected:  {},
	StatusExpired:   {},
	StatusRefunded:  {},
	StatusCancelled: {},
}

// Next returns the status an order in from moves to on ev.
func Next(from Status, ev Event) (Status, bool) {
	to, ok := validNext[from][ev]
	return to, ok
}

// SourcesOf lists the statuses that accept ev, in a stable order.
func SourcesOf(ev Event) []Status {
	var out []Status
	for _, s := range allStatuses {
		if _, ok := validNext[s][ev]; ok {
			out = append(out, s)
		}
	}
	return out
}

var allStatuses = []Status{
	StatusPendingPayment,
	StatusAwaitingVerification,
	StatusPendingDelivery,
	StatusPaid,
	StatusRejected,
	StatusExpired,
	StatusRefunded,
	StatusCancelled,
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusRejected, StatusExpired, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// Expirable statuses hold reservations that lapse after the hold window.
func (s Status) Expirable() bool {
	return s == StatusPendingPayment || s == StatusAwaitingVerification
}

func (s Status) String() string { return string(s) }
