package models

import "github.com/shopspring/decimal"

// PaymentEvent is a normalized inbound payment. It lives for one request.
type PaymentEvent struct {
	SourceSignature string
	// PayerAddress is empty when the payer could not be resolved.
	PayerAddress       string
	AmountNative       decimal.Decimal
	DestinationAddress string
	Strategy           string
}

// FiatPurchaseRequest is the card-payment provider's delivery request.
type FiatPurchaseRequest struct {
	Source               string          `json:"source"`
	Type                 string          `json:"type"`
	UserWallet           string          `json:"user_wallet"`
	VREAmount            decimal.Decimal `json:"vre_amount"`
	PurchaseID           string          `json:"purchase_id"`
	MoonpayTransactionID string          `json:"moonpay_transaction_id,omitempty"`
	SOLReceived          decimal.Decimal `json:"sol_received"`
	USDAmount            decimal.Decimal `json:"usd_amount"`
	FirebasePath         string          `json:"firebase_path,omitempty"`
}

const (
	FiatSourceMoonpay       = "moonpay"
	FiatTypeDeliveryRequest = "vre_delivery_request"
)

// IsDeliveryRequest reports whether the request selects the delivery path.
func (r *FiatPurchaseRequest) IsDeliveryRequest() bool {
	return r.Source == FiatSourceMoonpay && r.Type == FiatTypeDeliveryRequest
}
