package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{external_id} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cached customer summary: order_summary:{order_id} -> OrderSummary JSON
	KeyOrderSummary = "order_summary:%s"

	// Dedup event processing: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Only one sweeper replica runs at a time.
	KeySweepLock = "lock:reservation-sweep"
)

var (
	TTLIdempotency  = 24 * time.Hour
	TTLSummaryCache = 5 * time.Minute
	TTLDedup        = 48 * time.Hour
)
