package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/normalizer"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/oracle"
)

// TestPingMessage answers provider connectivity checks.
const TestPingMessage = "Test webhook received"

// ProcessWebhook handles an indexer webhook body. The returned error is
// only set for bodies that cannot be split into transactions
// (normalizer.ErrEmptyBody, normalizer.ErrInvalidJSON). Per-transaction
// failures are reported in the response's Failures.
func (s *PaymentService) ProcessWebhook(ctx context.Context, body []byte) (*models.WebhookResponse, error) {
	env, err := normalizer.Split(body)
	if err != nil {
		return nil, err
	}
	if env.Test {
		s.logger.InfoContext(ctx, "test webhook received")
		return &models.WebhookResponse{Success: true, Message: TestPingMessage, Results: []models.TransactionResult{}}, nil
	}

	resp := &models.WebhookResponse{
		Processed: len(env.Transactions),
		Results:   []models.TransactionResult{},
	}
	for _, raw := range env.Transactions {
		result := s.processTransaction(ctx, raw)
		switch {
		case result.Delivered():
			resp.Results = append(resp.Results, result)
		case result.Duplicate:
			resp.Duplicates = append(resp.Duplicates, result)
		case !result.Success:
			resp.Failures = append(resp.Failures, result)
		}
	}
	resp.Delivered = len(resp.Results)
	resp.Duplicate = len(resp.Duplicates) > 0 && len(resp.Duplicates) == resp.Processed
	resp.Success = len(resp.Failures) == 0
	if !resp.Success {
		resp.Error = fmt.Sprintf("%d of %d deliveries failed", len(resp.Failures), resp.Processed)
	}

	s.logger.InfoContext(ctx, "webhook processed",
		"processed", resp.Processed,
		"delivered", resp.Delivered,
		"duplicates", len(resp.Duplicates),
		"failed", len(resp.Failures))
	return resp, nil
}

func (s *PaymentService) processTransaction(ctx context.Context, raw json.RawMessage) models.TransactionResult {
	s.updateStats(func(st *models.Stats) { st.Received++ })

	tx, ok := normalizer.Decode(raw)
	if !ok {
		return s.notPayment(ctx, "", "undecodable transaction")
	}
	ev, ok := s.deps.Normalizer.Normalize(tx)
	if !ok {
		return s.notPayment(ctx, tx.Signature, "no payment to treasury")
	}

	result := models.TransactionResult{
		Signature: ev.SourceSignature,
		Buyer:     ev.PayerAddress,
		SOLPaid:   models.Number(ev.AmountNative),
	}

	dup, err := s.seen(ctx, ev.SourceSignature)
	if err != nil {
		result.Error = err.Error()
		s.countOutcome(SourceIndexer, outcome{err: err}, false)
		return result
	}
	if dup {
		s.countOutcome(SourceIndexer, outcome{duplicate: true}, false)
		return s.duplicate(ctx, result)
	}

	quote := s.deps.Oracle.GetRate(ctx)
	amount := oracle.AmountOwed(ev.AmountNative, quote.Rate, s.deps.UnitPrice)
	result.PriceDegraded = quote.Degraded
	if !amount.IsPositive() {
		s.logger.WarnContext(ctx, "payment below smallest deliverable amount",
			logging.Signature(ev.SourceSignature),
			"native_amount", ev.AmountNative.String())
		result.NotPayment = true
		result.Success = true
		metrics.PaymentsTotal.WithLabelValues(SourceIndexer, "not_payment").Inc()
		s.updateStats(func(st *models.Stats) { st.NotPayments++ })
		return result
	}

	s.logger.InfoContext(ctx, "payment detected",
		logging.Signature(ev.SourceSignature),
		logging.Wallet(ev.PayerAddress),
		"native_amount", ev.AmountNative.String(),
		"rate", quote.Rate.String(),
		"price_source", quote.Source,
		logging.Amount(amount.String()))

	out := s.deliver(ctx, job{
		key:      ev.SourceSignature,
		wallet:   ev.DestinationAddress,
		amount:   amount,
		native:   ev.AmountNative,
		degraded: quote.Degraded,
		source:   SourceIndexer,
		metadata: map[string]string{
			"native_amount": ev.AmountNative.String(),
			"rate":          quote.Rate.String(),
			"price_source":  quote.Source,
			"strategy":      ev.Strategy,
		},
	})
	s.countOutcome(SourceIndexer, out, quote.Degraded)

	if out.duplicate {
		return s.duplicate(ctx, result)
	}
	result.VREDelivered = models.Number(out.delivery.AmountDelivered)
	result.VRETransferSignature = out.delivery.TransferSignature
	result.SequenceKind = out.delivery.SequenceKind
	if out.failed() {
		result.Error = out.errorMessage()
		return result
	}
	result.NewBalance = models.Number(out.delivery.NewBalance)
	result.StorageMode = out.record.StorageMode
	result.Success = true
	return result
}

func (s *PaymentService) notPayment(ctx context.Context, signature, why string) models.TransactionResult {
	s.logger.DebugContext(ctx, "transaction is not a payment", logging.Signature(signature), "reason", why)
	metrics.PaymentsTotal.WithLabelValues(SourceIndexer, "not_payment").Inc()
	s.updateStats(func(st *models.Stats) { st.NotPayments++ })
	return models.TransactionResult{Signature: signature, NotPayment: true, Success: true}
}

func (s *PaymentService) duplicate(ctx context.Context, result models.TransactionResult) models.TransactionResult {
	s.logger.InfoContext(ctx, "duplicate payment ignored", logging.Signature(result.Signature))
	result.Duplicate = true
	result.Success = true
	return result
}
