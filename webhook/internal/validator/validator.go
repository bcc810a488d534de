package validator

import (
	"context"
	"errors"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// ErrInvalidRequest wraps every rejection so callers can answer 400.
var ErrInvalidRequest = errors.New("invalid request")

// Validator defines contract for fiat purchase request checks.
type Validator interface {
	Validate(ctx context.Context, req *models.FiatPurchaseRequest) error
	Supports(req *models.FiatPurchaseRequest) bool
}

// Chain applies a list of validators sequentially.
type Chain struct {
	validators []Validator
}

// NewChain constructs a validator chain.
func NewChain(validators ...Validator) *Chain {
	return &Chain{validators: validators}
}

// Default is the chain the fiat endpoint uses.
func Default(maxAmount int64) *Chain {
	return NewChain(RequiredFields{}, Wallet{}, NewAmountLimit(maxAmount))
}

// Validate executes validators in order until an error occurs.
func (c *Chain) Validate(ctx context.Context, req *models.FiatPurchaseRequest) error {
	if c == nil {
		return nil
	}
	for _, v := range c.validators {
		if v.Supports(req) {
			if err := v.Validate(ctx, req); err != nil {
				return err
			}
		}
	}
	return nil
}
