package commerce

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EntityOrder        = "order"
	EntityAppointment  = "appointment"
	EntityInvoice      = "invoice"
	EntityCart         = "cart"
	EntityNotification = "notification"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// TopicFor maps an entity to its Kafka topic. One topic per entity so the
// relay can subscribe selectively.
func TopicFor(entity string) string { return "entity." + entity }

// Partition key = the entity id, so all events for one record stay ordered.
func PartitionKey(id string) []byte { return []byte(id) }

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"` // "<entity>:<action>"
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Notifier pushes a committed state change to real-time subscribers.
// Delivery is best effort; the durable NotificationLog written inside the
// same transaction as the change is the catch-up mechanism. Implementations
// must only ever be called after the transaction commits.
type Notifier interface {
	Emit(ctx context.Context, entity, action, correlationID string, payload any)
}
