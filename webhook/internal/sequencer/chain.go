package sequencer

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/executor"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// Chain delivers through a primary sequencer and retries once on the
// alternate when the primary tool is unavailable. No other failure is
// retried.
type Chain struct {
	primary  *Sequencer
	fallback *Sequencer
	logger   *slog.Logger
}

// NewChain returns a Deliverer. fallback may be nil.
func NewChain(primary, fallback *Sequencer, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{primary: primary, fallback: fallback, logger: logger}
}

func (c *Chain) Deliver(ctx context.Context, destination string, amount decimal.Decimal) models.DeliveryResult {
	res := c.primary.Deliver(ctx, destination, amount)
	if !c.shouldFallback(res) {
		return res
	}

	metrics.ExecutorFallbacks.Inc()
	c.logger.WarnContext(ctx, "primary executor unavailable, retrying on alternate",
		logging.Wallet(destination),
		"primary", c.primary.exec.Name(),
		"alternate", c.fallback.exec.Name(),
		"error", res.Error())
	return c.fallback.Deliver(ctx, destination, amount)
}

// Resolve reads account state with the same fallback rule.
func (c *Chain) Resolve(ctx context.Context, owner string) (models.AccountState, error) {
	state, err := c.primary.resolver.Resolve(ctx, owner)
	if err != nil && c.fallback != nil && executor.IsToolUnavailable(err) {
		return c.fallback.resolver.Resolve(ctx, owner)
	}
	return state, err
}

// A sequence that already moved tokens is never replayed.
func (c *Chain) shouldFallback(res models.DeliveryResult) bool {
	return !res.Success &&
		c.fallback != nil &&
		res.TransferSignature == "" &&
		executor.IsToolUnavailable(res.Err)
}
