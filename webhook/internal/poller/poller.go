// Package poller waits for a payment's delivery record to appear. It backs
// the purchase page flow: the buyer pays directly, then polls the record
// surface until the delivery for their payment signature is recorded.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/sink"
)

const (
	DefaultInitialDelay = 2 * time.Second
	DefaultInterval     = 3 * time.Second
	DefaultMaxAttempts  = 20
)

var errNotYet = errors.New("delivery not recorded yet")

// Source looks up a record by payment signature. sink.ErrNotFound means
// not recorded yet.
type Source interface {
	FindBySource(ctx context.Context, sourceSignature string) (*models.DeliveryRecord, error)
}

// Config sets the poll schedule. Zero fields take the defaults; a negative
// InitialDelay polls immediately.
type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	} else if c.InitialDelay == 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Wait polls src until a record carrying a delivery signature appears.
// found is false when attempts run out; that is not an error. Lookup
// failures count as "not yet". Only context cancellation is returned.
func Wait(ctx context.Context, src Source, sourceSignature string, cfg Config) (rec *models.DeliveryRecord, found bool, err error) {
	cfg = cfg.withDefaults()

	if cfg.InitialDelay > 0 {
		timer := time.NewTimer(cfg.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false, ctx.Err()
		case <-timer.C:
		}
	}

	attempt := 0
	op := func() error {
		attempt++
		r, err := src.FindBySource(ctx, sourceSignature)
		switch {
		case errors.Is(err, sink.ErrNotFound):
			return errNotYet
		case err != nil:
			cfg.Logger.DebugContext(ctx, "delivery lookup failed", "attempt", attempt, logging.Error(err))
			return errNotYet
		case r == nil || r.TransferSignature == "":
			return errNotYet
		}
		rec = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Interval), uint64(cfg.MaxAttempts-1)),
		ctx,
	)
	err = backoff.Retry(op, policy)
	switch {
	case err == nil:
		return rec, true, nil
	case errors.Is(err, errNotYet):
		cfg.Logger.DebugContext(ctx, "stopped polling for delivery", logging.Signature(sourceSignature), "attempts", attempt)
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// HTTPSource reads records through the service's GET /deliveries/{signature}.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) FindBySource(ctx context.Context, sourceSignature string) (*models.DeliveryRecord, error) {
	endpoint := s.baseURL + "/deliveries/" + url.PathEscape(sourceSignature)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, sink.ErrNotFound
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var rec models.DeliveryRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}
