package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/dedup"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/dlq"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/events"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/lock"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/normalizer"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/oracle"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/sequencer"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/sink"
)

// Record sources.
const (
	SourceIndexer = "indexer"
	SourceFiat    = "moonpay"
)

// ErrLedgerUnavailable means the dedup ledger could not be read, so a
// delivery cannot be proven to be the first.
var ErrLedgerUnavailable = errors.New("dedup ledger unavailable")

// RateSource supplies the native/USD rate.
type RateSource interface {
	GetRate(ctx context.Context) oracle.Quote
}

// Recorder persists delivery records.
type Recorder interface {
	Record(ctx context.Context, req sink.RecordRequest) models.RecordResult
}

// Dependencies wires a PaymentService.
type Dependencies struct {
	Normalizer *normalizer.Registry
	Ledger     dedup.Ledger
	Oracle     RateSource
	Deliverer  sequencer.Deliverer
	Recorder   Recorder
	Locker     lock.Locker
	// DLQ and Events are optional.
	DLQ       dlq.Writer
	Events    *events.Publisher
	UnitPrice decimal.Decimal
	LockWait  time.Duration
	Logger    *slog.Logger
}

// PaymentService turns inbound payments into token deliveries.
type PaymentService struct {
	deps   Dependencies
	logger *slog.Logger

	statsMu sync.RWMutex
	stats   models.Stats
}

func NewPaymentService(deps Dependencies) (*PaymentService, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, errors.New("normalizer is required")
	case deps.Ledger == nil:
		return nil, errors.New("dedup ledger is required")
	case deps.Oracle == nil:
		return nil, errors.New("price oracle is required")
	case deps.Deliverer == nil:
		return nil, errors.New("deliverer is required")
	case deps.Recorder == nil:
		return nil, errors.New("record sink is required")
	case !deps.UnitPrice.IsPositive():
		return nil, errors.New("unit price must be positive")
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyedMutex()
	}
	if deps.LockWait <= 0 {
		deps.LockWait = 2 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &PaymentService{deps: deps, logger: deps.Logger.With("component", "payment_service")}, nil
}

// job is one delivery request, whichever endpoint it came from.
type job struct {
	key        string
	wallet     string
	amount     decimal.Decimal
	native     decimal.Decimal
	degraded   bool
	source     string
	purchaseID string
	metadata   map[string]string
}

type outcome struct {
	duplicate bool
	delivery  models.DeliveryResult
	record    models.RecordResult
	err       error
}

func (o outcome) failed() bool {
	return !o.duplicate && (o.err != nil || !o.delivery.Success)
}

func (o outcome) errorMessage() string {
	if o.err != nil {
		return o.err.Error()
	}
	return o.delivery.Error()
}

// seen checks the ledger. A read failure is returned so the request fails
// rather than risking a second delivery.
func (s *PaymentService) seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.deps.Ledger.HasSeen(ctx, key)
	if err != nil {
		metrics.DedupErrors.WithLabelValues("has_seen").Inc()
		s.logger.ErrorContext(ctx, "dedup lookup failed", logging.Signature(key), logging.Error(err))
		return false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return ok, nil
}

// deliver runs resolve, sequence, record and mark as one unit under the
// destination lock. The work continues even if the caller goes away.
func (s *PaymentService) deliver(ctx context.Context, j job) outcome {
	ctx = context.WithoutCancel(ctx)

	lockCtx, cancel := context.WithTimeout(ctx, s.deps.LockWait)
	release, err := s.deps.Locker.Acquire(lockCtx, j.wallet)
	cancel()
	if err != nil {
		return outcome{err: fmt.Errorf("acquire destination lock: %w", err)}
	}
	defer release()

	// Another request for the same key may have finished while we waited.
	dup, err := s.seen(ctx, j.key)
	if err != nil {
		return outcome{err: err}
	}
	if dup {
		return outcome{duplicate: true}
	}

	res := s.deps.Deliverer.Deliver(ctx, j.wallet, j.amount)
	out := outcome{delivery: res}

	if res.Success {
		out.record = s.deps.Recorder.Record(ctx, sink.RecordRequest{
			SourceSignature:   j.key,
			TransferSignature: res.TransferSignature,
			Wallet:            j.wallet,
			Amount:            res.AmountDelivered,
			NewBalance:        res.NewBalance,
			SequenceKind:      res.SequenceKind,
			Source:            j.source,
			PurchaseID:        j.purchaseID,
			Metadata:          j.metadata,
		})
	}

	// Tokens that moved must never move again for this key, even when a
	// later step failed.
	if res.Success || res.TransferSignature != "" {
		if err := s.deps.Ledger.MarkSeen(ctx, j.key); err != nil {
			metrics.DedupErrors.WithLabelValues("mark_seen").Inc()
			s.logger.ErrorContext(ctx, "failed to mark signature processed",
				logging.Signature(j.key), logging.Error(err))
			s.deadLetter(ctx, j, res, err, dlq.ReasonDedupMarkFailed)
		}
	}

	if !res.Success {
		reason := dlq.ReasonDeliveryFailed
		if errors.Is(res.Err, sequencer.ErrLockNotApplied) {
			reason = dlq.ReasonVerificationFailed
		}
		s.deadLetter(ctx, j, res, res.Err, reason)
	}

	s.publish(ctx, j, out)
	return out
}

func (s *PaymentService) deadLetter(ctx context.Context, j job, res models.DeliveryResult, cause error, reason string) {
	if s.deps.DLQ == nil {
		return
	}
	entry := &dlq.Delivery{
		SourceSignature:   j.key,
		Wallet:            j.wallet,
		Amount:            j.amount.String(),
		TransferSignature: res.TransferSignature,
		SequenceKind:      string(res.SequenceKind),
		Executor:          res.Executor,
		Source:            j.source,
		Metadata:          j.metadata,
	}
	if err := s.deps.DLQ.Write(ctx, entry, cause, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to write dlq entry", logging.Signature(j.key), logging.Error(err))
	}
}

func (s *PaymentService) publish(ctx context.Context, j job, out outcome) {
	ev := events.DeliveryEvent{
		SourceSignature:   j.key,
		Source:            j.source,
		Wallet:            j.wallet,
		Amount:            out.delivery.AmountDelivered.String(),
		TransferSignature: out.delivery.TransferSignature,
		SequenceKind:      string(out.delivery.SequenceKind),
		Executor:          out.delivery.Executor,
		StorageMode:       string(out.record.StorageMode),
		PurchaseID:        out.record.PurchaseID,
		PriceDegraded:     j.degraded,
		Success:           out.delivery.Success,
		Error:             out.errorMessage(),
	}
	if out.delivery.Success {
		ev.NewBalance = out.delivery.NewBalance.String()
	}
	s.deps.Events.Publish(ctx, ev)
}

// ProcessedCount is the number of keys in the dedup ledger.
func (s *PaymentService) ProcessedCount(ctx context.Context) int64 {
	n, err := s.deps.Ledger.Count(ctx)
	if err != nil {
		metrics.DedupErrors.WithLabelValues("count").Inc()
		return 0
	}
	return n
}

// Stats returns a snapshot of counters since start.
func (s *PaymentService) Stats() models.Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

func (s *PaymentService) updateStats(fn func(*models.Stats)) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	fn(&s.stats)
}

func (s *PaymentService) countOutcome(source string, out outcome, degraded bool) {
	label := "delivered"
	switch {
	case out.duplicate:
		label = "duplicate"
	case out.failed():
		label = "failed"
	}
	metrics.PaymentsTotal.WithLabelValues(source, label).Inc()

	s.updateStats(func(st *models.Stats) {
		switch label {
		case "duplicate":
			st.Duplicates++
		case "failed":
			st.Failed++
		default:
			st.Delivered++
			st.LastDeliveredAt = time.Now().UTC()
			if out.record.StorageMode == models.StorageLocalFallback {
				st.LocalFallbacks++
			}
		}
		if degraded {
			st.DegradedQuotes++
		}
	})
}
