package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/httputil"
	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/normalizer"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/sink"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/validator"
)

// PaymentService is the delivery pipeline behind the webhook endpoints.
type PaymentService interface {
	ProcessWebhook(ctx context.Context, body []byte) (*models.WebhookResponse, error)
	ProcessFiat(ctx context.Context, req *models.FiatPurchaseRequest) *models.FiatDeliveryResponse
	ProcessedCount(ctx context.Context) int64
	Stats() models.Stats
}

// RecordReader looks up stored delivery records.
type RecordReader interface {
	FindBySource(ctx context.Context, sourceSignature string) (*models.DeliveryRecord, error)
}

type PaymentHandler struct {
	service   PaymentService
	records   RecordReader
	validator *validator.Chain
	maxBody   int64
	logger    *slog.Logger
}

// NewPaymentHandler builds the HTTP surface. records may be nil, in which
// case delivery lookups answer 404.
func NewPaymentHandler(service PaymentService, records RecordReader, chain *validator.Chain, maxBody int64, logger *slog.Logger) *PaymentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentHandler{
		service:   service,
		records:   records,
		validator: chain,
		maxBody:   maxBody,
		logger:    logger,
	}
}

// HandlePayment serves POST /webhook/payment.
func (h *PaymentHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	resp, err := h.service.ProcessWebhook(r.Context(), body)
	switch {
	case errors.Is(err, normalizer.ErrEmptyBody):
		httputil.WriteError(w, http.StatusBadRequest, "No transaction data")
		return
	case errors.Is(err, normalizer.ErrInvalidJSON):
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "webhook processing failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	httputil.WriteJSON(w, status, resp)
}

// HandleFiat serves POST /webhook.
func (h *PaymentHandler) HandleFiat(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req models.FiatPurchaseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := h.validator.Validate(r.Context(), &req); err != nil {
		msg := strings.TrimPrefix(err.Error(), validator.ErrInvalidRequest.Error()+": ")
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	resp := h.service.ProcessFiat(r.Context(), &req)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	httputil.WriteJSON(w, status, resp)
}

// Health serves GET /health.
func (h *PaymentHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, models.HealthResponse{
		Status:         "healthy",
		Timestamp:      time.Now().UTC(),
		ProcessedCount: h.service.ProcessedCount(r.Context()),
	})
}

// Ready serves GET /readyz with counters since start.
func (h *PaymentHandler) Ready(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"stats":  h.service.Stats(),
	})
}

// Delivery serves GET /deliveries/{signature}.
func (h *PaymentHandler) Delivery(w http.ResponseWriter, r *http.Request) {
	sig := r.PathValue("signature")
	if sig == "" {
		httputil.WriteError(w, http.StatusBadRequest, "signature is required")
		return
	}
	if h.records == nil {
		httputil.WriteError(w, http.StatusNotFound, "delivery not found")
		return
	}

	rec, err := h.records.FindBySource(r.Context(), sig)
	switch {
	case errors.Is(err, sink.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "delivery not found")
		return
	case err != nil:
		h.logger.WarnContext(r.Context(), "delivery lookup failed", logging.Signature(sig), logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "delivery lookup failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *PaymentHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := httputil.ReadBody(w, r, h.maxBody)
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return nil, false
	}
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Could not read request body")
		return nil, false
	}
	return body, true
}
