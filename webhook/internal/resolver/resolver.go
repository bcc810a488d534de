// Package resolver reads the destination token account before and after a
// delivery sequence.
package resolver

import (
	"context"
	"log/slog"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/executor"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// Resolver queries account state through one executor. State is never
// cached: every call hits the chain.
type Resolver struct {
	exec   executor.TransferExecutor
	logger *slog.Logger
}

func New(exec executor.TransferExecutor, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{exec: exec, logger: logger.With("component", "resolver")}
}

// Resolve returns the current state, or an error when the query failed.
func (r *Resolver) Resolve(ctx context.Context, owner string) (models.AccountState, error) {
	return r.exec.AccountInfo(ctx, owner)
}

// ResolveForEntry picks the sequencing entry state. A failed query counts
// as an absent account so delivery takes the create path; the failure is
// logged and counted. Tool unavailability is returned so the caller can
// switch executors.
func (r *Resolver) ResolveForEntry(ctx context.Context, owner string) (models.AccountState, error) {
	state, err := r.exec.AccountInfo(ctx, owner)
	if err == nil {
		return state, nil
	}
	if executor.IsToolUnavailable(err) {
		return models.AccountState{}, err
	}
	metrics.ResolverQueryFailures.Inc()
	r.logger.WarnContext(ctx, "account query failed, treating as absent",
		logging.Wallet(owner),
		logging.Executor(r.exec.Name()),
		logging.Error(err))
	return models.AccountState{Exists: false}, nil
}
