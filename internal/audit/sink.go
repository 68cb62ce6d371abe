package audit

import (
	"context"
	"strconv"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) error
}

// KafkaSink publishes audit entries as envelopes. Delivery is asynchronous;
// Append only fails when the entry could not be queued.
type KafkaSink struct {
	Pub     Publisher
	Service string
	NewID   func() string
}

var _ orders.AuditSink = (*KafkaSink)(nil)

func (s *KafkaSink) Append(ctx context.Context, e orders.AuditEntry) error {
	newID := s.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	ev := Envelope{
		EventID:       newID(),
		EventType:     string(e.Kind),
		EventVersion:  EventVersion,
		OccurredAt:    e.OccurredAt,
		Producer:      s.Service,
		TraceID:       TraceID(ctx),
		CorrelationID: strconv.FormatInt(e.OrderID, 10),
		Payload:       kafkax.MustMarshal(e),
	}
	return s.Pub.Publish(PartitionKey(e.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(ev.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(EventVersion))},
	)
}

type traceKey struct{}

// WithTraceID attaches a request trace id that ends up in the envelope.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}
