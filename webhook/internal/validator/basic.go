package validator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/executor"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// MissingFieldsMessage is the rejection text for incomplete delivery requests.
const MissingFieldsMessage = "Missing required fields: user_wallet, vre_amount, purchase_id"

// RequiredFields ensures a delivery request names a wallet, an amount and
// a purchase id.
type RequiredFields struct{}

// Supports returns true for delivery requests only.
func (RequiredFields) Supports(req *models.FiatPurchaseRequest) bool {
	return req.IsDeliveryRequest()
}

func (RequiredFields) Validate(_ context.Context, req *models.FiatPurchaseRequest) error {
	if req.UserWallet == "" || req.VREAmount.IsZero() || req.PurchaseID == "" {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, MissingFieldsMessage)
	}
	return nil
}

// Wallet rejects destinations that are not valid addresses.
type Wallet struct{}

func (Wallet) Supports(req *models.FiatPurchaseRequest) bool {
	return req.IsDeliveryRequest()
}

func (Wallet) Validate(_ context.Context, req *models.FiatPurchaseRequest) error {
	if err := executor.ValidateAddress(req.UserWallet); err != nil {
		return fmt.Errorf("%w: user_wallet is not a valid address", ErrInvalidRequest)
	}
	return nil
}

// AmountLimit requires a positive amount no larger than Max. A zero Max
// disables the upper bound.
type AmountLimit struct {
	Max decimal.Decimal
}

func NewAmountLimit(max int64) AmountLimit {
	return AmountLimit{Max: decimal.NewFromInt(max)}
}

func (AmountLimit) Supports(req *models.FiatPurchaseRequest) bool {
	return req.IsDeliveryRequest()
}

func (a AmountLimit) Validate(_ context.Context, req *models.FiatPurchaseRequest) error {
	if !req.VREAmount.IsPositive() {
		return fmt.Errorf("%w: vre_amount must be positive", ErrInvalidRequest)
	}
	if a.Max.IsPositive() && req.VREAmount.GreaterThan(a.Max) {
		return fmt.Errorf("%w: vre_amount exceeds limit of %s", ErrInvalidRequest, a.Max)
	}
	return nil
}
