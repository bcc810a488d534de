package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionResult is the per-transaction outcome in a webhook response.
type TransactionResult struct {
	Signature            string       `json:"signature"`
	Buyer                string       `json:"buyer,omitempty"`
	SOLPaid              json.Number  `json:"solPaid,omitempty"`
	VREDelivered         json.Number  `json:"vreDelivered,omitempty"`
	NewBalance           json.Number  `json:"newBalance,omitempty"`
	VRETransferSignature string       `json:"vreTransferSignature,omitempty"`
	SequenceKind         SequenceKind `json:"sequenceKind,omitempty"`
	StorageMode          StorageMode  `json:"storageMode,omitempty"`
	PriceDegraded        bool         `json:"priceDegraded,omitempty"`
	Duplicate            bool         `json:"duplicate,omitempty"`
	NotPayment           bool         `json:"notPayment,omitempty"`
	Success              bool         `json:"success"`
	Error                string       `json:"error,omitempty"`
}

// Delivered reports whether this result represents a fresh delivery.
func (r TransactionResult) Delivered() bool {
	return r.Success && !r.Duplicate && !r.NotPayment
}

// WebhookResponse is the body returned by the indexer webhook endpoint.
type WebhookResponse struct {
	Success   bool                `json:"success"`
	Processed int                 `json:"processed"`
	Delivered int                 `json:"delivered"`
	Results   []TransactionResult `json:"results"`
	Failures  []TransactionResult `json:"failures,omitempty"`
	// Duplicates lists payments that were already delivered earlier.
	Duplicates []TransactionResult `json:"duplicates,omitempty"`
	// Duplicate is set when every processed payment was a duplicate.
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// FiatDeliveryResponse is the body returned by the fiat delivery endpoint.
type FiatDeliveryResponse struct {
	Success              bool         `json:"success"`
	Message              string       `json:"message,omitempty"`
	Signature            string       `json:"signature,omitempty"`
	Amount               json.Number  `json:"amount,omitempty"`
	NewBalance           json.Number  `json:"newBalance,omitempty"`
	Process              SequenceKind `json:"process,omitempty"`
	UserWallet           string       `json:"userWallet,omitempty"`
	PurchaseID           string       `json:"purchaseId,omitempty"`
	MoonPayTransactionID string       `json:"moonpayTransactionId,omitempty"`
	StorageMode          StorageMode  `json:"storageMode,omitempty"`
	Duplicate            bool         `json:"duplicate,omitempty"`
	Source               string       `json:"source,omitempty"`
	Type                 string       `json:"type,omitempty"`
	Error                string       `json:"error,omitempty"`
	Details              string       `json:"details,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	ProcessedCount int64     `json:"processedCount"`
}

// Stats summarizes service activity since start.
type Stats struct {
	Received        int64     `json:"received"`
	NotPayments     int64     `json:"not_payments"`
	Duplicates      int64     `json:"duplicates"`
	Delivered       int64     `json:"delivered"`
	Failed          int64     `json:"failed"`
	LocalFallbacks  int64     `json:"local_fallbacks"`
	DegradedQuotes  int64     `json:"degraded_quotes"`
	LastDeliveredAt time.Time `json:"last_delivered_at,omitempty"`
}

// Number renders a decimal as a JSON number literal without float rounding.
func Number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
