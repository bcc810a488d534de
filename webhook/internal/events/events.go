// Package events fans delivery outcomes out to the message bus.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/common/messaging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
)

// DeliveryEvent is published once per attempted delivery.
type DeliveryEvent struct {
	SourceSignature   string    `json:"source_signature"`
	Source            string    `json:"source"`
	Wallet            string    `json:"wallet"`
	Amount            string    `json:"amount"`
	NewBalance        string    `json:"new_balance,omitempty"`
	TransferSignature string    `json:"transfer_signature,omitempty"`
	SequenceKind      string    `json:"sequence_kind,omitempty"`
	Executor          string    `json:"executor,omitempty"`
	StorageMode       string    `json:"storage_mode,omitempty"`
	PurchaseID        string    `json:"purchase_id,omitempty"`
	PriceDegraded     bool      `json:"price_degraded,omitempty"`
	Success           bool      `json:"success"`
	Error             string    `json:"error,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Subject returns the subject the event is published on.
func (e DeliveryEvent) Subject() string {
	if e.Success {
		return messaging.SubjectDeliveriesCompleted
	}
	return messaging.SubjectDeliveriesFailed
}

// Publisher publishes delivery events. A nil Publisher, or one without a
// bus, drops events silently.
type Publisher struct {
	bus    messaging.Publisher
	logger *slog.Logger
}

func NewPublisher(bus messaging.Publisher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bus: bus, logger: logger.With("component", "events")}
}

// Publish sends ev. Failures are logged and counted, never returned:
// delivery outcomes do not depend on the bus.
func (p *Publisher) Publish(ctx context.Context, ev DeliveryEvent) {
	if p == nil || p.bus == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	subject := ev.Subject()

	data, err := json.Marshal(ev)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		p.logger.ErrorContext(ctx, "failed to marshal delivery event", logging.Error(err))
		return
	}
	if err := p.bus.Publish(ctx, subject, data); err != nil {
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		p.logger.WarnContext(ctx, "failed to publish delivery event",
			"subject", subject,
			logging.Signature(ev.SourceSignature),
			logging.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(subject, "ok").Inc()
}

// Tail subscribes to every delivery event and calls fn for each.
func Tail(sub messaging.Subscriber, fn func(DeliveryEvent)) (messaging.Subscription, error) {
	return sub.Subscribe(messaging.SubjectDeliveriesAll, func(_ context.Context, msg *messaging.Message) error {
		var ev DeliveryEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		fn(ev)
		return nil
	})
}
