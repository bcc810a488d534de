package service

import (
	"context"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// Fiat response messages.
const (
	FiatDelivered    = "MoonPay VRE delivery successful"
	FiatNotProcessed = "Webhook received but not processed"
	FiatFailed       = "VRE delivery failed"
	FiatDuplicate    = "Purchase already delivered"
)

// ProcessFiat delivers a validated card-purchase request. The purchase id
// is the dedup key and the record's source signature. Requests that are
// not delivery requests are acknowledged without side effects.
func (s *PaymentService) ProcessFiat(ctx context.Context, req *models.FiatPurchaseRequest) *models.FiatDeliveryResponse {
	if !req.IsDeliveryRequest() {
		s.logger.InfoContext(ctx, "fiat webhook not processed", "source", req.Source, "type", req.Type)
		return &models.FiatDeliveryResponse{
			Success: true,
			Message: FiatNotProcessed,
			Source:  req.Source,
			Type:    req.Type,
		}
	}

	s.updateStats(func(st *models.Stats) { st.Received++ })
	resp := &models.FiatDeliveryResponse{
		UserWallet:           req.UserWallet,
		PurchaseID:           req.PurchaseID,
		MoonPayTransactionID: req.MoonpayTransactionID,
	}

	dup, err := s.seen(ctx, req.PurchaseID)
	if err != nil {
		s.countOutcome(SourceFiat, outcome{err: err}, false)
		resp.Error = FiatFailed
		resp.Details = err.Error()
		return resp
	}
	if dup {
		s.countOutcome(SourceFiat, outcome{duplicate: true}, false)
		resp.Success = true
		resp.Duplicate = true
		resp.Message = FiatDuplicate
		return resp
	}

	s.logger.InfoContext(ctx, "fiat delivery requested",
		logging.PurchaseID(req.PurchaseID),
		logging.Wallet(req.UserWallet),
		logging.Amount(req.VREAmount.String()),
		"moonpay_transaction_id", req.MoonpayTransactionID)

	metadata := map[string]string{
		"moonpay_transaction_id": req.MoonpayTransactionID,
		"sol_received":           req.SOLReceived.String(),
		"usd_amount":             req.USDAmount.String(),
	}
	if req.FirebasePath != "" {
		metadata["firebase_path"] = req.FirebasePath
	}

	out := s.deliver(ctx, job{
		key:        req.PurchaseID,
		wallet:     req.UserWallet,
		amount:     req.VREAmount,
		source:     SourceFiat,
		purchaseID: req.PurchaseID,
		metadata:   metadata,
	})
	s.countOutcome(SourceFiat, out, false)

	switch {
	case out.duplicate:
		resp.Success = true
		resp.Duplicate = true
		resp.Message = FiatDuplicate
	case out.failed():
		resp.Error = FiatFailed
		resp.Details = out.errorMessage()
		resp.Signature = out.delivery.TransferSignature
	default:
		resp.Success = true
		resp.Message = FiatDelivered
		resp.Signature = out.delivery.TransferSignature
		resp.Amount = models.Number(out.delivery.AmountDelivered)
		resp.NewBalance = models.Number(out.delivery.NewBalance)
		resp.Process = out.delivery.SequenceKind
		resp.StorageMode = out.record.StorageMode
		resp.PurchaseID = out.record.PurchaseID
	}
	return resp
}
