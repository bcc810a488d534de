package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// Limiter is a token bucket shared by every outbound chain call.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows rps calls per second with the given burst. A
// non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until one call is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	r := l.limiter.Reserve()
	if !r.OK() {
		return errors.New("rate: cannot reserve token")
	}
	if delay := r.Delay(); delay > 0 {
		metrics.RPCRateLimitWaits.Inc()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

// ClassifyError buckets an executor error for metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, ErrToolUnavailable) {
		return "unavailable"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "rate_limited"
	case strings.Contains(lower, "insufficient"):
		return "insufficient_funds"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") || strings.Contains(lower, "eof"):
		return "network_error"
	default:
		return "error"
	}
}

// instrumented records per-operation metrics around another executor.
type instrumented struct {
	next TransferExecutor
}

// Instrument wraps exec with call metrics.
func Instrument(exec TransferExecutor) TransferExecutor {
	return &instrumented{next: exec}
}

func (i *instrumented) observe(op string, err error) {
	metrics.ExecutorCalls.WithLabelValues(i.next.Name(), op, ClassifyError(err)).Inc()
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) AccountInfo(ctx context.Context, owner string) (state models.AccountState, err error) {
	defer func() { i.observe("account_info", err) }()
	return i.next.AccountInfo(ctx, owner)
}

func (i *instrumented) CreateAccount(ctx context.Context, owner string) (sig string, err error) {
	defer func() { i.observe("create_account", err) }()
	return i.next.CreateAccount(ctx, owner)
}

func (i *instrumented) Thaw(ctx context.Context, owner string) (sig string, err error) {
	defer func() { i.observe("thaw", err) }()
	return i.next.Thaw(ctx, owner)
}

func (i *instrumented) Transfer(ctx context.Context, owner string, baseUnits uint64) (sig string, err error) {
	defer func() { i.observe("transfer", err) }()
	return i.next.Transfer(ctx, owner, baseUnits)
}

func (i *instrumented) Freeze(ctx context.Context, owner string) (sig string, err error) {
	defer func() { i.observe("freeze", err) }()
	return i.next.Freeze(ctx, owner)
}
