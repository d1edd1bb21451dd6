package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/orbitpay/payment-gateway/pkg/logger"
)

// Lifecycle event types. The strings are a compatibility surface for
// downstream consumers.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentRefunded   = "payment.refunded"
	EventPaymentCancelled  = "payment.cancelled"
)

// Publisher emits lifecycle notifications. Delivery is at-least-once;
// consumers dedupe on the envelope EventID.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// Envelope is the wire shape of a published event.
type Envelope struct {
	EventID   string                 `json:"event_id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	EmittedAt time.Time              `json:"emitted_at"`
}

// StreamPublisher publishes envelopes onto a Redis stream.
type StreamPublisher struct {
	stream *Stream
}

func NewStreamPublisher(stream *Stream) *StreamPublisher {
	return &StreamPublisher{stream: stream}
}

func (p *StreamPublisher) Publish(ctx context.Context, eventType string, payload map[string]interface{}) error {
	env := Envelope{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	}

	_, err := p.stream.PublishJSON(ctx, env, map[string]string{"type": eventType})
	if err != nil {
		return err
	}

	logger.Debug("event published", "type", eventType, "event_id", env.EventID)
	return nil
}

// NopPublisher drops every event. Used when no event bus is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, map[string]interface{}) error { return nil }
