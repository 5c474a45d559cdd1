package redisx

import "time"

const (
	// Checkout idempotency: idem:checkout:{idempotency_key} -> order_id
	KeyIdemCheckout = "idem:checkout:%s"

	// Order status cache: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Webhook dedup marker: dedup:webhook:{reference_id}:{status}
	// Best effort only; the payment-status CAS in Postgres is the real guard.
	KeyWebhookDedup = "dedup:webhook:%s:%s"

	// Real-time relay channel per entity: rt:{entity}
	ChanRealtime = "rt:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
