package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/messaging"
	"github.com/virtualrealityeconomics/vre-webhook-server/common/messaging/nats"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
)

// JetStreamQueue publishes failed deliveries to a shared stream so every
// webhook instance feeds one queue.
type JetStreamQueue struct {
	js      *nats.JetStreamClient
	stream  jetstream.Stream
	logger  *slog.Logger
	written uint64
}

// NewJetStreamQueue creates a DLQ backed by NATS JetStream.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger := slog.Default().With("component", "dlq", "backend", "jetstream")
	logger.Info("dlq stream ready", "stream", nats.DLQStream.Name)

	return &JetStreamQueue{
		js:     js,
		stream: stream,
		logger: logger,
	}, nil
}

// Write publishes a failed delivery on vre.dlq.<reason>.
func (q *JetStreamQueue) Write(ctx context.Context, delivery *Delivery, err error, reason string) error {
	if q == nil {
		return nil
	}

	data, marshalErr := json.Marshal(newEntry(delivery, err, reason))
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	if _, pubErr := q.js.PublishSync(ctx, messaging.DLQSubject(reason), data); pubErr != nil {
		q.logger.Error("failed to publish dlq entry", "reason", reason, "error", pubErr.Error())
		return pubErr
	}

	atomic.AddUint64(&q.written, 1)
	metrics.DLQWrites.WithLabelValues(reason).Inc()
	q.logger.Warn("delivery published to dlq", "reason", reason)
	return nil
}

// Stats returns DLQ metrics from JetStream.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{
			"enabled": false,
			"backend": "jetstream",
		}
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		q.logger.Error("failed to get dlq stream info", "error", err.Error())
		return map[string]interface{}{
			"enabled":       true,
			"backend":       "jetstream",
			"written_local": atomic.LoadUint64(&q.written),
			"error":         err.Error(),
		}
	}

	return map[string]interface{}{
		"enabled":        true,
		"backend":        "jetstream",
		"written_local":  atomic.LoadUint64(&q.written),
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
		"consumer_count": info.State.Consumers,
	}
}

// List reads up to limit entries through an ephemeral consumer.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedDelivery, error) {
	if q == nil {
		return nil, errors.New("dlq not enabled")
	}

	if limit <= 0 {
		limit = 100
	}

	// Create an ephemeral consumer to read messages
	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: messaging.SubjectDLQ + ".>",
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	var events []FailedDelivery
	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	for msg := range msgs.Messages() {
		var failed FailedDelivery
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			q.logger.Error("unreadable dlq message", "error", err.Error())
			continue
		}
		events = append(events, failed)
	}

	if msgs.Error() != nil {
		q.logger.Warn("dlq fetch completed with error", "error", msgs.Error().Error())
	}

	return events, nil
}

// Purge removes all events from the DLQ stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if q == nil {
		return errors.New("dlq not enabled")
	}

	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}

	q.logger.Info("dlq stream purged")
	return nil
}
