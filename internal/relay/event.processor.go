package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/orbitpay/payment-gateway/internal/events"
	"github.com/orbitpay/payment-gateway/pkg/logger"
	"github.com/orbitpay/payment-gateway/pkg/prom"
)

// EventProcessor delivers one payment event to the merchant webhook with
// consumer-side dedupe. The stream redelivers on crash, the delivered
// marker keeps the webhook from firing twice for the same event id.
type EventProcessor struct {
	deliverer   *WebhookDeliverer
	idempotency *IdempotencyService
}

func NewEventProcessor(deliverer *WebhookDeliverer, idempotency *IdempotencyService) *EventProcessor {
	return &EventProcessor{
		deliverer:   deliverer,
		idempotency: idempotency,
	}
}

func (p *EventProcessor) GetType() string {
	return "payment-event"
}

func (p *EventProcessor) Process(ctx context.Context, streamMsg *events.Message) error {
	var envelope events.Envelope
	if err := json.Unmarshal(streamMsg.Data, &envelope); err != nil {
		logger.Error("failed to unmarshal event envelope", "stream_id", streamMsg.ID, "error", err)
		// Malformed payload never parses on redelivery either
		return err
	}
	if envelope.EventID == "" {
		logger.Error("event envelope missing id", "stream_id", streamMsg.ID)
		return errors.New("event envelope missing id")
	}

	dc, err := p.idempotency.AcquireDeliveryLock(ctx, envelope.EventID)
	if err != nil {
		if errors.Is(err, ErrAlreadyDelivered) {
			// ACK so the stream entry is removed
			return nil
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			logger.Error("dropping event after retry budget", "event_id", envelope.EventID, "type", envelope.Type)
			prom.IncEventDeadLettered()
			return nil // ACK, DLQ handling is done at the stream layer
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			return errors.New("delivery lock held by another consumer")
		}
		return err
	}

	defer func() {
		if dc.lockAcquired {
			p.idempotency.ReleaseLock(ctx, dc)
		}
	}()

	start := time.Now()
	if err := p.deliverer.Deliver(ctx, envelope.EventID, envelope.Type, streamMsg.Data); err != nil {
		logger.Error("webhook delivery failed",
			"event_id", envelope.EventID,
			"type", envelope.Type,
			"retry_count", dc.RetryCount,
			"error", err)
		if markErr := p.idempotency.MarkFailure(ctx, dc, err); markErr != nil {
			logger.Error("failed to mark delivery failure", "event_id", envelope.EventID, "error", markErr)
		}
		return err // NACK, the stream redelivers
	}

	prom.ObserveWebhookDeliveryDuration(time.Since(start).Seconds(), envelope.Type)
	logger.Info("event delivered",
		"event_id", envelope.EventID,
		"type", envelope.Type,
		"retry_count", dc.RetryCount)

	if markErr := p.idempotency.MarkDelivered(ctx, dc); markErr != nil {
		// The webhook already went out, so still ACK
		logger.Error("failed to mark event delivered", "event_id", envelope.EventID, "error", markErr)
	}
	return nil
}
