// Package oracle provides the native/USD rate used to price token deliveries.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
)

// Quote sources.
const (
	SourceLive     = "live"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

// Quote is a native/USD rate. Degraded is set when the static fallback was
// used because the live source failed.
type Quote struct {
	Rate      decimal.Decimal `json:"rate"`
	Source    string          `json:"source"`
	Degraded  bool            `json:"degraded"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type Config struct {
	URL          string
	FallbackRate decimal.Decimal
	Timeout      time.Duration
	CacheTTL     time.Duration
	MaxAttempts  int
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Oracle fetches the rate over HTTP. Concurrent callers share one in-flight
// request and a fresh rate is reused for CacheTTL.
type Oracle struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time

	mu     sync.Mutex
	cached *Quote
}

func New(cfg Config) *Oracle {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if !cfg.FallbackRate.IsPositive() {
		cfg.FallbackRate = decimal.NewFromInt(220)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{cfg: cfg, client: client, logger: logger, now: time.Now}
}

// GetRate never fails: on any upstream error it returns the fallback rate
// with Degraded set.
func (o *Oracle) GetRate(ctx context.Context) Quote {
	if q, ok := o.fromCache(); ok {
		metrics.OracleRequests.WithLabelValues(SourceCache).Inc()
		return q
	}

	v, err, _ := o.group.Do("rate", func() (interface{}, error) {
		rate, err := o.fetchWithRetry(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		q := Quote{Rate: rate, Source: SourceLive, FetchedAt: o.now()}
		o.mu.Lock()
		o.cached = &q
		o.mu.Unlock()
		return q, nil
	})
	if err != nil {
		o.logger.WarnContext(ctx, "price oracle unavailable, using fallback rate",
			slog.String("fallback", o.cfg.FallbackRate.String()),
			slog.String("error", err.Error()))
		metrics.OracleRequests.WithLabelValues(SourceFallback).Inc()
		metrics.OracleRate.Set(o.cfg.FallbackRate.InexactFloat64())
		return Quote{Rate: o.cfg.FallbackRate, Source: SourceFallback, Degraded: true, FetchedAt: o.now()}
	}

	q := v.(Quote)
	metrics.OracleRequests.WithLabelValues(SourceLive).Inc()
	metrics.OracleRate.Set(q.Rate.InexactFloat64())
	return q
}

func (o *Oracle) fromCache() (Quote, bool) {
	if o.cfg.CacheTTL <= 0 {
		return Quote{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cached == nil || o.now().Sub(o.cached.FetchedAt) > o.cfg.CacheTTL {
		return Quote{}, false
	}
	q := *o.cached
	q.Source = SourceCache
	return q, true
}

func (o *Oracle) fetchWithRetry(ctx context.Context) (decimal.Decimal, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.cfg.MaxAttempts-1)), ctx)

	var rate decimal.Decimal
	err := backoff.Retry(func() error {
		r, err := o.fetch(ctx)
		if err != nil {
			return err
		}
		rate = r
		return nil
	}, policy)
	return rate, err
}

var errNoPrice = errors.New("price missing from response")

func (o *Oracle) fetch(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.URL, nil)
	if err != nil {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("price request: unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return decimal.Zero, backoff.Permanent(err)
		}
		return decimal.Zero, err
	}

	var body map[string]map[string]json.Number
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode price: %w", err)
	}
	raw, ok := body["solana"]["usd"]
	if !ok {
		return decimal.Zero, backoff.Permanent(errNoPrice)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("invalid price %q", raw))
	}
	return rate, nil
}

// AmountOwed converts a native amount to tokens: native * rate / unitPrice,
// rounded half-up to two decimals.
func AmountOwed(native, rate, unitPriceUSD decimal.Decimal) decimal.Decimal {
	if !unitPriceUSD.IsPositive() {
		return decimal.Zero
	}
	return native.Mul(rate).DivRound(unitPriceUSD, 16).Round(2)
}
