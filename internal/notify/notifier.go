package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/motoxelerate/orderflow/internal/commerce"
	kafkax "github.com/motoxelerate/orderflow/internal/kafka"
)

// KafkaNotifier publishes committed entity changes to one topic per entity.
// It is handed to the service at construction; handlers never touch a global
// broadcaster.
type KafkaNotifier struct {
	Producers map[string]*kafkax.Producer // entity -> producer
	Service   string
}

var _ commerce.Notifier = (*KafkaNotifier)(nil)

func (n *KafkaNotifier) Emit(ctx context.Context, entity, action, correlationID string, payload any) {
	p, ok := n.Producers[entity]
	if !ok {
		return
	}
	ev := commerce.Envelope{
		EventID:       uuid.NewString(),
		EventType:     entity + ":" + action,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      n.Service,
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(commerce.PartitionKey(correlationID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(ev.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// Noop satisfies commerce.Notifier where no broker is wired (tests, tools).
type Noop struct{}

func (Noop) Emit(context.Context, string, string, string, any) {}
