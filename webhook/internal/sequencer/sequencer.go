// Package sequencer drives a destination token account through the ordered
// create/thaw/transfer/freeze operations of one delivery.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/executor"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/resolver"
)

var (
	ErrInvalidAmount  = errors.New("delivery amount must be positive")
	ErrLockNotApplied = errors.New("destination account is not frozen after delivery")
)

// Step names as they appear in DeliveryResult.Steps.
const (
	StepCreate   = "create_account"
	StepThaw     = "thaw"
	StepTransfer = "transfer"
	StepFreeze   = "freeze"
)

// Deliverer is what the payment service consumes.
type Deliverer interface {
	Deliver(ctx context.Context, destination string, amount decimal.Decimal) models.DeliveryResult
}

// Plan returns the ordered steps and sequence kind for an entry state.
func Plan(entry models.EntryState) ([]string, models.SequenceKind) {
	switch entry {
	case models.EntryNew:
		return []string{StepCreate, StepTransfer, StepFreeze}, models.SequenceTransferFreeze
	case models.EntryFrozen:
		return []string{StepThaw, StepTransfer, StepFreeze}, models.SequenceUnfreezeTransferFreeze
	default:
		return []string{StepTransfer, StepFreeze}, models.SequenceTransferFreeze
	}
}

// ToBaseUnits shifts amount by decimals and truncates toward zero.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	shifted := amount.Shift(int32(decimals)).Floor()
	if !shifted.IsPositive() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if shifted.GreaterThan(decimal.NewFromUint64(math.MaxUint64)) {
		return 0, fmt.Errorf("delivery amount %s overflows base units", amount)
	}
	return shifted.BigInt().Uint64(), nil
}

// Sequencer runs delivery sequences through a single executor.
type Sequencer struct {
	exec     executor.TransferExecutor
	resolver *resolver.Resolver
	decimals uint8
	logger   *slog.Logger
}

func New(exec executor.TransferExecutor, decimals uint8, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		exec:     exec,
		resolver: resolver.New(exec, logger),
		decimals: decimals,
		logger:   logger.With("component", "sequencer", logging.Executor(exec.Name())),
	}
}

// Resolver exposes the account resolver bound to this sequencer's executor.
func (s *Sequencer) Resolver() *resolver.Resolver { return s.resolver }

// Deliver runs the full sequence for destination. A failed step aborts the
// sequence and nothing is rolled back; state is re-read fresh on the next
// attempt.
func (s *Sequencer) Deliver(ctx context.Context, destination string, amount decimal.Decimal) models.DeliveryResult {
	start := time.Now()
	res := models.DeliveryResult{Executor: s.exec.Name()}

	base, err := ToBaseUnits(amount, s.decimals)
	if err != nil {
		res.Err = err
		return s.finish(ctx, destination, res, start)
	}
	res.AmountDelivered = decimal.NewFromUint64(base).Shift(-int32(s.decimals))

	state, err := s.resolver.ResolveForEntry(ctx, destination)
	if err != nil {
		res.Err = fmt.Errorf("resolve account: %w", err)
		return s.finish(ctx, destination, res, start)
	}

	steps, kind := Plan(state.Entry())
	res.SequenceKind = kind

	s.logger.InfoContext(ctx, "delivery sequence starting",
		logging.Wallet(destination),
		"entry_state", string(state.Entry()),
		logging.SequenceKind(string(kind)),
		logging.Amount(res.AmountDelivered.String()))

	for _, step := range steps {
		sig, err := s.runStep(ctx, step, destination, base)
		if sig != "" || err == nil {
			res.Steps = append(res.Steps, models.StepResult{Name: step, Signature: sig})
		}
		if step == StepTransfer && sig != "" {
			res.TransferSignature = sig
		}
		if err != nil {
			res.Err = fmt.Errorf("%s: %w", step, err)
			return s.finish(ctx, destination, res, start)
		}
	}

	final, err := s.resolver.Resolve(ctx, destination)
	if err != nil {
		res.Err = fmt.Errorf("verify freeze: %w", err)
		return s.finish(ctx, destination, res, start)
	}
	res.NewBalance = final.Balance
	if !final.Exists || !final.Frozen {
		res.Err = ErrLockNotApplied
		return s.finish(ctx, destination, res, start)
	}

	res.Success = true
	return s.finish(ctx, destination, res, start)
}

func (s *Sequencer) runStep(ctx context.Context, step, destination string, base uint64) (string, error) {
	switch step {
	case StepCreate:
		return s.exec.CreateAccount(ctx, destination)
	case StepThaw:
		return s.exec.Thaw(ctx, destination)
	case StepTransfer:
		return s.exec.Transfer(ctx, destination, base)
	case StepFreeze:
		return s.exec.Freeze(ctx, destination)
	default:
		return "", fmt.Errorf("unknown step %q", step)
	}
}

func (s *Sequencer) finish(ctx context.Context, destination string, res models.DeliveryResult, start time.Time) models.DeliveryResult {
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	kind := string(res.SequenceKind)
	if kind == "" {
		kind = "none"
	}
	metrics.DeliveriesTotal.WithLabelValues(res.Executor, kind, outcome).Inc()
	metrics.DeliveryDuration.WithLabelValues(res.Executor).Observe(time.Since(start).Seconds())

	if res.Success {
		s.logger.InfoContext(ctx, "delivery complete",
			logging.Wallet(destination),
			logging.TransferSignature(res.TransferSignature),
			logging.SequenceKind(kind),
			"new_balance", res.NewBalance.String(),
			logging.Duration(time.Since(start).Milliseconds()))
	} else {
		s.logger.ErrorContext(ctx, "delivery failed",
			logging.Wallet(destination),
			logging.TransferSignature(res.TransferSignature),
			logging.SequenceKind(kind),
			"error", res.Error(),
			logging.Duration(time.Since(start).Milliseconds()))
	}
	return res
}
